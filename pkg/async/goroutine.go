package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/crew/pkg/observability"
)

// Run executes fn synchronously with:
// - A timeout derived from parentCtx
// - Panic recovery (the panic is returned as an error)
// - Error and duration logging
//
// Scheduled jobs use it so one bad run cannot take the process down.
//
// Example:
//
//	err := Run(ctx, logger, time.Minute, "token cleanup", func(ctx context.Context) error {
//	    _, err := tokens.CleanupExpiredTokens(ctx)
//	    return err
//	})
func Run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task", taskName).
				WithField("stack", string(debug.Stack())).
				Errorf("PANIC in %s: %v", taskName, r)
			err = fmt.Errorf("panic in %s: %v", taskName, r)
		}
	}()

	if err = fn(ctx); err != nil {
		logger.WithField("task", taskName).WithError(err).Error("task failed")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"task":        taskName,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("task completed")
	return nil
}

// SafeGo is Run in its own goroutine. Use it instead of a bare `go func()` for
// fire-and-forget work; the error is logged and otherwise dropped.
//
// Example:
//
//	SafeGo(ctx, logger, 30*time.Second, "initial token cleanup", func(ctx context.Context) error {
//	    _, err := tokens.CleanupExpiredTokens(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		_ = Run(parentCtx, logger, timeout, taskName, fn)
	}()
}
