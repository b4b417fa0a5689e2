// Package async provides panic-safe goroutine launchers for background loops.
//
// Go recovers panics, applies an optional timeout, logs errors through logrus
// and can register the goroutine with a WaitGroup:
//
//	var wg sync.WaitGroup
//	async.Go(ctx, &wg, log, "plugin source build", 0, func(ctx context.Context) error {
//		return loop(ctx)
//	})
//	wg.Wait()
package async
