// Package scheduler fires the daemon's periodic triggers (reconcile passes,
// the midnight rollover, the weekly summary) on cron or interval specs.
//
// Jobs run on their own goroutine with panic recovery and an optional
// timeout. A trigger that fires while the previous run of the same job is
// still in flight is skipped.
package scheduler
