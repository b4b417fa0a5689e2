package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Go executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Optional timeout enforcement (timeout <= 0 disables it)
// - Error logging
//
// When wg is non-nil it is incremented before the goroutine starts and
// released when fn returns, so owners can wait for their loops on shutdown.
//
// Example:
//
//	async.Go(ctx, &r.sources, log, "plugin source build", 0, func(ctx context.Context) error {
//	    return r.run(ctx, events)
//	})
func Go(parentCtx context.Context, wg *sync.WaitGroup, log *logrus.Logger, taskName string, timeout time.Duration, fn func(context.Context) error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if wg != nil {
		wg.Add(1)
	}

	go func() {
		if wg != nil {
			defer wg.Done()
		}

		var ctx context.Context
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		} else {
			ctx, cancel = context.WithCancel(parentCtx)
		}
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithField("task", taskName).Errorf("Panic in background task: %v\nStack trace:\n%s", r, debug.Stack())
			}
		}()

		// Errors are logged, the caller decides what is critical
		if err := fn(ctx); err != nil {
			log.WithField("task", taskName).WithError(err).Error("Background task failed")
		}
	}()
}

// SafeGo is Go without a WaitGroup, for fire-and-forget work.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, log, "stamp publish", func(ctx context.Context) error {
//	    return notifier.Publish(ctx, stamp)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, log *logrus.Logger, taskName string, fn func(context.Context) error) {
	Go(parentCtx, nil, log, taskName, timeout, fn)
}
