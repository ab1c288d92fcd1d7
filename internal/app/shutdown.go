// Package app provides application shutdown handling.
package app

import (
	"context"
	"time"
)

// ShutdownTimeout is the default budget for draining in-flight work once a
// shutdown signal has been observed, used when a caller doesn't have its
// own configured value.
const ShutdownTimeout = 30 * time.Second

// Shutdown runs each cleanup step against a shared timeout context and
// returns the first error encountered, running every step even after one
// fails so a slow HTTP drain doesn't prevent the tracer or worker pool from
// also getting a chance to shut down cleanly. Callers that already have a
// cancellation signal (e.g. via signal.NotifyContext) invoke this once
// their root context is done, rather than Shutdown listening for its own
// signal — that avoids two independent signal.Notify registrations racing
// over the same SIGINT/SIGTERM.
func Shutdown(timeout time.Duration, steps ...func(context.Context) error) error {
	if timeout <= 0 {
		timeout = ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	for _, step := range steps {
		if err := step(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
