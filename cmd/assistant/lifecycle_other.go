//go:build !unix

package main

import (
	"context"
	"log/slog"
)

type backgrounder interface {
	Background()
}

// watchLifecycle is a no-op where there is no job-control signal.
func watchLifecycle(context.Context, backgrounder, *slog.Logger) func() {
	return func() {}
}
