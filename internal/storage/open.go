package storage

import (
	"context"
	"errors"
	"strings"

	logx "dosebot/pkg/logx"
)

// Store is the persistence API used by the planner.
type Store interface {
	// Put inserts or replaces the entry with e.ID.
	Put(ctx context.Context, e Entry) error
	// Get returns ErrNotFound when no entry exists.
	Get(ctx context.Context, id uint32) (Entry, error)
	// List returns all entries ordered by id.
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id uint32) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// A disabled store ("" or "none") falls back to memory so callers never see nil.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driverName(driver)))

	switch driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func driverName(d string) string {
	if d == "" || d == "none" {
		return "memory"
	}
	return d
}

// Verify returns a copy of entries with checksum-failing records removed and
// the number removed. sums[i] is the stored checksum of entries[i].
func Verify(entries []Entry, sums []uint32) ([]Entry, int) {
	out := make([]Entry, 0, len(entries))
	bad := 0
	for i, e := range entries {
		if i >= len(sums) || e.Checksum() != sums[i] || e.ID == 0 {
			bad++
			continue
		}
		out = append(out, e)
	}
	return out, bad
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
