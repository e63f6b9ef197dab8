package recorder

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/audioio"
	"github.com/teslashibe/go-assistant/pkg/permission"
)

func sourceConfig() audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 10 * time.Millisecond
	return cfg
}

func newTestRecorder(t *testing.T, src audioio.Source, gate permission.Gate) (*Recorder, *audioio.MockModeController) {
	t.Helper()
	mode := audioio.NewMockModeController()
	return New(src, gate, mode, WithSpoolDir(t.TempDir())), mode
}

func TestRecorder_StartStopWritesArtifact(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil, audioio.WithSineWave(440, 0.5))
	rec, mode := newTestRecorder(t, src, permission.Allow)

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != StateRecording {
		t.Errorf("state = %v, want recording", sess.State())
	}
	if !mode.Enabled() {
		t.Error("expected record mode during capture")
	}

	time.Sleep(60 * time.Millisecond)

	art, err := rec.Stop(sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art.ByteSize == 0 {
		t.Fatal("expected non-empty artifact")
	}
	if art.SampleRate != 16000 || art.Channels != 1 {
		t.Errorf("format = %d Hz x %d", art.SampleRate, art.Channels)
	}
	if mode.Enabled() {
		t.Error("record mode not reverted")
	}

	fromDisk, err := ReadArtifact(art.URI)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if fromDisk.ByteSize != art.ByteSize {
		t.Errorf("file data = %d bytes, artifact says %d", fromDisk.ByteSize, art.ByteSize)
	}
	if rec.Active() != nil {
		t.Error("session should be released")
	}
}

func TestRecorder_SilenceYieldsEmptyArtifact(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil)
	rec, _ := newTestRecorder(t, src, permission.Allow)

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	art, err := rec.Stop(sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art.ByteSize != 0 {
		t.Errorf("ByteSize = %d, want 0", art.ByteSize)
	}
	info, err := os.Stat(art.URI)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != WAVHeaderSize {
		t.Errorf("file size = %d, want header only", info.Size())
	}
}

func TestRecorder_PermissionDenied(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil)
	rec, mode := newTestRecorder(t, src, permission.Deny)

	_, err := rec.Start(context.Background())
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want permission denied", err)
	}
	if src.StartCount() != 0 {
		t.Error("source must not start without permission")
	}
	if len(mode.Calls()) != 0 {
		t.Errorf("mode switched without permission: %v", mode.Calls())
	}
}

func TestRecorder_GateError(t *testing.T) {
	gate := permission.NewMock(true).WithError(errors.New("prompt closed"))
	rec, _ := newTestRecorder(t, audioio.NewMockSource(sourceConfig(), nil), gate)

	if _, err := rec.Start(context.Background()); !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Errorf("Start = %v, want permission denied", err)
	}
}

func TestRecorder_DeviceErrorRevertsMode(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil, audioio.WithStartError(errors.New("busy")))
	rec, mode := newTestRecorder(t, src, permission.Allow)

	_, err := rec.Start(context.Background())
	if !errors.Is(err, apperr.ErrDevice) {
		t.Fatalf("Start = %v, want device error", err)
	}
	if mode.Enabled() {
		t.Error("record mode not reverted after device failure")
	}
	if rec.Active() != nil {
		t.Error("no session should be active")
	}

	// A failed start must not block the next attempt.
	if _, err := rec.Start(context.Background()); errors.Is(err, apperr.ErrAlreadyRecording) {
		t.Error("failed start left recorder busy")
	}
}

func TestRecorder_ModeErrorIsDeviceError(t *testing.T) {
	mode := audioio.NewMockModeController().WithError(errors.New("session locked"))
	rec := New(audioio.NewMockSource(sourceConfig(), nil), permission.Allow, mode, WithSpoolDir(t.TempDir()))

	if _, err := rec.Start(context.Background()); !errors.Is(err, apperr.ErrDevice) {
		t.Errorf("Start = %v, want device error", err)
	}
	calls := mode.Calls()
	if len(calls) != 2 || calls[1] != false {
		t.Errorf("mode calls = %v, want [true false]", calls)
	}
}

func TestRecorder_AlreadyRecording(t *testing.T) {
	rec, _ := newTestRecorder(t, audioio.NewMockSource(sourceConfig(), nil), permission.Allow)

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Stop(sess)

	if _, err := rec.Start(context.Background()); !errors.Is(err, apperr.ErrAlreadyRecording) {
		t.Errorf("second Start = %v, want already recording", err)
	}
}

func TestRecorder_StopWithoutSession(t *testing.T) {
	rec, _ := newTestRecorder(t, audioio.NewMockSource(sourceConfig(), nil), permission.Allow)

	_, err := rec.Stop(nil)
	if !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("Stop(nil) = %v, want no active session", err)
	}
	if !apperr.IsBenign(err) {
		t.Error("no active session should be benign")
	}

	sess, _ := rec.Start(context.Background())
	if _, err := rec.Stop(sess); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Stop(sess); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("stale Stop = %v, want no active session", err)
	}
}

func TestRecorder_Abandon(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil)
	rec, mode := newTestRecorder(t, src, permission.Allow)

	rec.Abandon() // idle is a no-op

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rec.Abandon()

	if mode.Enabled() {
		t.Error("record mode not reverted on abandon")
	}
	if rec.Active() != nil {
		t.Error("session still active after abandon")
	}
	if src.Stats().Running {
		t.Error("source still running after abandon")
	}
	if _, err := rec.Stop(sess); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("Stop after abandon = %v, want no active session", err)
	}
}

func TestRecorder_StartContextDoesNotEndCapture(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil, audioio.WithSineWave(440, 0.5))
	rec, _ := newTestRecorder(t, src, permission.Allow)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := rec.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(40 * time.Millisecond)

	art, err := rec.Stop(sess)
	if err != nil {
		t.Fatal(err)
	}
	if art.ByteSize == 0 {
		t.Error("capture ended with the start request")
	}
}

func TestRecorder_Elapsed(t *testing.T) {
	rec, _ := newTestRecorder(t, audioio.NewMockSource(sourceConfig(), nil), permission.Allow)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	rec.now = func() time.Time { return now }

	if rec.Elapsed() != 0 {
		t.Error("Elapsed should be 0 when idle")
	}

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	now = base.Add(2500 * time.Millisecond)
	if got := rec.Elapsed(); got != 2500*time.Millisecond {
		t.Errorf("Elapsed = %v, want 2.5s", got)
	}
	rec.Stop(sess)
	if rec.Elapsed() != 0 {
		t.Error("Elapsed should reset after stop")
	}
}

func TestRecorder_Discard(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil)
	rec, _ := newTestRecorder(t, src, permission.Allow)

	sess, _ := rec.Start(context.Background())
	art, err := rec.Stop(sess)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Discard(art); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(art.URI); !os.IsNotExist(err) {
		t.Error("file still exists")
	}
	if err := rec.Discard(art); err != nil {
		t.Errorf("second Discard: %v", err)
	}
}

func TestRecorder_LevelTracksInput(t *testing.T) {
	src := audioio.NewMockSource(sourceConfig(), nil, audioio.WithSineWave(440, 0.5))
	rec, _ := newTestRecorder(t, src, permission.Allow)

	if rec.Level() != 0 {
		t.Error("idle recorder should report zero level")
	}

	sess, err := rec.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for rec.Level() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.Level() == 0 {
		t.Error("expected non-zero level while capturing a tone")
	}

	if _, err := rec.Stop(sess); err != nil {
		t.Fatal(err)
	}
	if rec.Level() != 0 {
		t.Error("level should drop to zero after stop")
	}
}
