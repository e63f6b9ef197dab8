package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-assistant/pkg/app"
	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/assistant"
)

const chatHelp = `Type a message and press Enter to ask it.
  /rec         start recording, or stop and send the recording
  /mute        toggle speech
  /replay      speak the last reply again
  /regenerate  ask the last question again
  /reset       clear the conversation
  /quit        exit`

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			lines := readLines(ctx, cmd.InOrStdin())
			out := &syncWriter{w: cmd.OutOrStdout()}

			// The permission prompt reads its answer from the same line feed.
			a, err := app.New(cfg, app.WithLogger(logger), app.WithTerminal(&lineReader{lines: lines}, out))
			if err != nil {
				reportMissing(cfg)
				return err
			}
			if err := a.Init(ctx); err != nil {
				return err
			}
			defer a.Close()

			stopLifecycle := watchLifecycle(ctx, a.Assistant(), logger)
			defer stopLifecycle()

			c := &chat{app: a, assistant: a.Assistant(), out: out}
			return c.run(ctx, lines)
		},
	}
}

// readLines delivers stdin lines until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// lineReader adapts a line channel to io.Reader, one line per read.
type lineReader struct {
	lines <-chan string
	buf   []byte
}

func (r *lineReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		line, ok := <-r.lines
		if !ok {
			return 0, io.EOF
		}
		r.buf = []byte(line + "\n")
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// syncWriter serializes writes from the input loop and state callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type chat struct {
	app       *app.App
	assistant *assistant.Assistant
	out       io.Writer

	mu    sync.Mutex
	last  assistant.State
	turns sync.WaitGroup
}

func (c *chat) run(ctx context.Context, lines <-chan string) error {
	unsubscribe := c.assistant.Subscribe(c.render)
	defer unsubscribe()

	fmt.Fprintln(c.out, chatHelp)
	for {
		select {
		case <-ctx.Done():
			c.assistant.Reset()
			c.turns.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				c.turns.Wait()
				return nil
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				c.assistant.Reset()
				c.turns.Wait()
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *chat) handle(ctx context.Context, line string) bool {
	switch line {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, chatHelp)
	case "/rec":
		if c.assistant.Snapshot().Recording() {
			c.background(func() error {
				_, err := c.assistant.StopRecording(ctx)
				return err
			})
			return false
		}
		// Runs inline so a permission prompt can read the next line.
		c.report(c.assistant.StartRecording(ctx))
	case "/mute":
		muted := !c.assistant.Muted()
		c.assistant.SetMuted(muted)
		if err := c.app.Prefs().SetMuted(muted); err != nil {
			fmt.Fprintf(c.out, "! could not save mute setting: %v\n", err)
		}
		fmt.Fprintf(c.out, "speech muted: %v\n", muted)
	case "/replay":
		c.background(func() error { return c.assistant.Replay(ctx) })
	case "/regenerate":
		c.background(func() error {
			_, err := c.assistant.Regenerate(ctx)
			return err
		})
	case "/reset":
		c.assistant.Reset()
		fmt.Fprintln(c.out, "conversation cleared")
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(c.out, "unknown command %s, try /help\n", line)
			return false
		}
		c.background(func() error {
			_, err := c.assistant.SendText(ctx, line)
			return err
		})
	}
	return false
}

// background runs a turn without blocking input, so /rec can interrupt a
// spoken reply.
func (c *chat) background(fn func() error) {
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		c.report(fn())
	}()
}

// report prints errors that were not already shown through state changes.
func (c *chat) report(err error) {
	switch {
	case err == nil, errors.Is(err, assistant.ErrSuperseded):
	case apperr.IsBenign(err), errors.Is(err, apperr.ErrBusy), errors.Is(err, apperr.ErrAlreadyRecording):
		fmt.Fprintf(c.out, "! %s\n", apperr.UserMessage(err))
	}
}

// render prints transcripts, replies and errors as the state changes.
func (c *chat) render(s assistant.Snapshot) {
	c.mu.Lock()
	prev := c.last
	c.last = s.State
	c.mu.Unlock()

	if s.State == prev {
		return
	}
	switch s.State {
	case assistant.StateRecording:
		fmt.Fprintln(c.out, "listening... /rec to send")
	case assistant.StateTranscribing:
		fmt.Fprintln(c.out, "transcribing...")
	case assistant.StateGenerating:
		if prev == assistant.StateTranscribing {
			fmt.Fprintf(c.out, "you: %s\n", s.Transcript)
		}
	case assistant.StateSpeaking:
		if prev == assistant.StateGenerating {
			fmt.Fprintf(c.out, "assistant: %s\n", s.Reply)
		}
	case assistant.StateError:
		fmt.Fprintf(c.out, "! %s\n", s.ErrorMessage)
	}
}
