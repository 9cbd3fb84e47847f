// Package async runs background tasks with timeouts and panic recovery.
//
// # Key Functions
//
// Run: Execute a task synchronously, for cron jobs and other scheduled work
//
//	c.AddFunc("@hourly", func() {
//		async.Run(ctx, logger, time.Minute, "token cleanup", cleanup)
//	})
//
// SafeGo: Execute a task in a new goroutine
//
//	async.SafeGo(ctx, logger, 30*time.Second, "initial token cleanup", cleanup)
//
// Both convert a panic into a logged error and cancel the task's context when
// the timeout elapses. The task must honor its context for the timeout to take
// effect.
package async
