// Package reminder holds the error kinds shared by the reminder core
// (notifid, timeslot, decision) and its orchestrator (planner).
//
// Every failure in the core is synchronous and typed: callers match the kind
// with errors.Is against ErrInvalidArgument or ErrFormat, and use errors.As to
// read which parameter or input failed.
package reminder
