// Package async provides panic-safe background execution.
//
// SafeGo runs a one-off task in its own goroutine:
//
//	async.SafeGo(ctx, log, 5*time.Second, "cache clear", func(ctx context.Context) error {
//		return cache.Clear(ctx)
//	})
//
// WorkerPool runs tasks on a fixed number of workers behind a bounded queue.
// TrySubmit never blocks the caller, which is how request paths hand off work:
//
//	pool := async.NewWorkerPool(ctx, async.DefaultPoolConfig(), log)
//	defer pool.Shutdown(5 * time.Second)
//
//	if err := pool.TrySubmit(task); errors.Is(err, async.ErrPoolFull) {
//		// caller decides: drop or do the work inline
//	}
package async
