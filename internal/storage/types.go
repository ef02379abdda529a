package storage

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"dosebot/pkg/fnv1a"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: entry not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map (also used when Driver is empty or "none")
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Status string

const (
	StatusScheduled    Status = "scheduled"
	StatusDelivered    Status = "delivered"
	StatusAcknowledged Status = "acknowledged"
	StatusCancelled    Status = "cancelled"
	StatusFailed       Status = "failed"
	StatusMissed       Status = "missed"
)

// Done reports whether the occurrence needs no further reminders.
func (s Status) Done() bool { return s == StatusDelivered || s == StatusAcknowledged }

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusDelivered, StatusAcknowledged, StatusCancelled, StatusFailed, StatusMissed:
		return true
	}
	return false
}

// Entry is one row of the reminder index, keyed by notification identity.
type Entry struct {
	ID         uint32    `json:"id"`
	Kind       string    `json:"kind"`
	UserID     string    `json:"user_id"`
	PetID      string    `json:"pet_id"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	Slot       string    `json:"slot,omitempty"`
	Occurrence time.Time `json:"occurrence"`
	FireAt     time.Time `json:"fire_at"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Checksum is FNV-1a 32 over the entry's canonical pipe-joined encoding.
// Instants are encoded as Unix nanoseconds so the value is independent of
// the location the times were loaded in.
func (e Entry) Checksum() uint32 {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(strconv.FormatUint(uint64(e.ID), 10))
	for _, s := range []string{e.Kind, e.UserID, e.PetID, e.ScheduleID, e.Slot} {
		b.WriteByte('|')
		b.WriteString(s)
	}
	for _, t := range []time.Time{e.Occurrence, e.FireAt} {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(unixNanos(t), 10))
	}
	b.WriteByte('|')
	b.WriteString(string(e.Status))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(e.Attempts))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(unixNanos(e.UpdatedAt), 10))
	return fnv1a.String(b.String())
}

// AuditEntry records a user or operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Actor      string    `json:"actor,omitempty"`
	Action     string    `json:"action"`
	ReminderID uint32    `json:"reminder_id,omitempty"`
	PetID      string    `json:"pet_id,omitempty"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	Slot       string    `json:"slot,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms,omitempty"`
	MetaJSON   string    `json:"meta,omitempty"`
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
