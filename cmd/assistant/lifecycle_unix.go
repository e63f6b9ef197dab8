//go:build unix

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// backgrounder is told when the process is sent to the background.
type backgrounder interface {
	Background()
}

// watchLifecycle maps SIGTSTP (Ctrl+Z) to Background until ctx is done or
// the returned stop function is called. The process keeps running.
func watchLifecycle(ctx context.Context, b backgrounder, logger *slog.Logger) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTSTP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-sigCh:
				logger.Info("received SIGTSTP, moving to background")
				b.Background()
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
