// Package notifier posts reminders at their fire time.
//
// Each reminder identity owns at most one armed timer: Post replaces the
// previous timer for the same id (upsert) and Cancel disarms it. Timers carry
// a version so a callback from a replaced timer is ignored. Fired reminders go
// through a bounded queue to a worker pool that rate-limits and retries sends
// to a transport.Sink, then reports the outcome through Hooks.
package notifier
