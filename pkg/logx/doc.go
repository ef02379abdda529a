// Package logx is dosebot's structured logging on top of zerolog.
//
// Console output is human-readable with a short caller, the optional file
// output is JSON, and warnings can be mirrored into the reminder chat
// through a rate-limited sink.
package logx
