package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// stopGrace is how long a capture tool gets to flush after SIGINT.
const stopGrace = 2 * time.Second

// pcmArgs returns the raw PCM16 format flags shared by arecord and aplay.
func pcmArgs(cfg Config) []string {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

// ExecSource captures audio by reading raw PCM16 from an external tool's stdout.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
}

// NewExecSource creates a source that runs cfg.CaptureCommand.
func NewExecSource(cfg Config, logger *slog.Logger) *ExecSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CaptureCommand == "" {
		cfg.CaptureCommand = "arecord"
	}
	return &ExecSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.exec_source"),
	}
}

// Start launches the capture tool.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command(s.cfg.CaptureCommand, pcmArgs(s.cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.CaptureCommand, err)
	}

	s.cmd = cmd
	s.running = true
	s.streamCh = make(chan AudioChunk, 64)
	s.done = make(chan struct{})

	go s.captureLoop(stdout, s.streamCh, s.done)
	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}(s.done)

	s.logger.Info("capture started", "command", s.cfg.CaptureCommand, "device", s.cfg.Device)
	return nil
}

func (s *ExecSource) captureLoop(r io.Reader, out chan<- AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	br := bufio.NewReader(r)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		n, err := io.ReadFull(br, buf)
		if n >= 2 {
			chunk := AudioChunk{
				Samples:    BytesToSamples(buf[:n&^1]),
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
			}
			out <- chunk
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("capture read failed", "error", err)
			}
			return
		}
	}
}

// Stop interrupts the capture tool and waits for buffered audio to drain.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	err := cmd.Wait()

	s.logger.Info("capture stopped", "chunks", s.chunksRead.Load())

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	return nil
}

// Read returns the next captured chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	if ch == nil {
		return AudioChunk{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the chunk channel of the current run.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

func (s *ExecSource) Config() Config { return s.cfg }

func (s *ExecSource) Name() string { return "exec" }

// Close stops capture; the source cannot be restarted afterwards.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Running:     running,
		Backend:     "exec",
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio by writing raw PCM16 to an external tool's stdin.
// The tool is launched lazily on the first Write and torn down by Flush,
// Clear or Stop.
type ExecSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewExecSink creates a sink that runs cfg.PlaybackCommand.
func NewExecSink(cfg Config, logger *slog.Logger) *ExecSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PlaybackCommand == "" {
		cfg.PlaybackCommand = "aplay"
	}
	return &ExecSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.exec_sink"),
	}
}

// Start is a no-op; the playback tool starts with the first Write.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return nil
}

func (s *ExecSink) ensureRunning() error {
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.cfg.PlaybackCommand, pcmArgs(s.cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.PlaybackCommand, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write pipes chunk to the playback tool. The pipe applies backpressure at
// the device rate.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if err := s.ensureRunning(); err != nil {
		s.mu.Unlock()
		return err
	}
	stdin := s.stdin
	s.mu.Unlock()

	if _, err := stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("playback write: %w", err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush closes the tool's input and waits for it to finish playing.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	_ = stdin.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitCh
		return ctx.Err()
	case err := <-waitCh:
		return err
	}
}

// Clear kills the playback tool, discarding anything not yet played.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	_ = stdin.Close()
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	s.logger.Debug("playback cleared")
	return nil
}

// Stop discards queued audio.
func (s *ExecSink) Stop() error {
	return s.Clear()
}

func (s *ExecSink) Config() Config { return s.cfg }

func (s *ExecSink) Name() string { return "exec" }

// Close stops playback; the sink cannot be reused afterwards.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Clear()
}

// Stats returns sink statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.cmd != nil
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        "exec",
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
