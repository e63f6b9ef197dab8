package audioio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeScript creates an executable shell script that ignores its arguments.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecSource_ReadsUntilToolExits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendExec
	cfg.CaptureCommand = writeScript(t, "head -c 6400 /dev/zero")

	src := NewExecSource(cfg, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var samples int
	timeout := time.After(5 * time.Second)
	stream := src.Stream()
loop:
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				break loop
			}
			samples += len(chunk.Samples)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
	if err := src.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if samples != 3200 {
		t.Errorf("samples = %d, want 3200", samples)
	}
}

func TestExecSource_StartFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaptureCommand = filepath.Join(t.TempDir(), "missing-tool")

	src := NewExecSource(cfg, nil)
	if err := src.Start(context.Background()); err == nil {
		t.Fatal("expected start error for missing tool")
	}
}

func TestExecSink_WritesToTool(t *testing.T) {
	out := filepath.Join(t.TempDir(), "played.raw")
	cfg := DefaultConfig()
	cfg.PlaybackCommand = writeScript(t, "cat > "+out)

	sink := NewExecSink(cfg, nil)
	ctx := context.Background()
	sink.Start(ctx)

	if err := sink.Write(ctx, AudioChunk{Samples: make([]int16, 100), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 200 {
		t.Errorf("played %d bytes, want 200", len(data))
	}
	if sink.Stats().Running {
		t.Error("expected tool to exit after Flush")
	}
}

func TestExecSink_ClearKillsTool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlaybackCommand = writeScript(t, "sleep 30")

	sink := NewExecSink(cfg, nil)
	ctx := context.Background()
	sink.Start(ctx)
	sink.Write(ctx, AudioChunk{Samples: []int16{1, 2}})

	done := make(chan struct{})
	go func() {
		sink.Clear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Clear did not return")
	}
	if sink.Stats().Running {
		t.Error("expected tool to be gone after Clear")
	}
}
