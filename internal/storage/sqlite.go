package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "dosebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if n, err := st.dropCorrupt(context.Background()); err != nil {
		log.Warn("index verification failed", logx.Err(err))
	} else if n > 0 {
		log.Warn("discarded index records failing checksum", logx.Int("count", n))
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, reminder_id, pet_id, schedule_id, slot, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, int64(e.ReminderID),
		nullStr(e.PetID), nullStr(e.ScheduleID), nullStr(e.Slot), boolInt(e.OK),
		nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) Put(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, kind, user_id, pet_id, schedule_id, slot, occurrence, fire_at, status, attempts, updated_at, sum)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind=excluded.kind, user_id=excluded.user_id, pet_id=excluded.pet_id,
		   schedule_id=excluded.schedule_id, slot=excluded.slot, occurrence=excluded.occurrence,
		   fire_at=excluded.fire_at, status=excluded.status, attempts=excluded.attempts,
		   updated_at=excluded.updated_at, sum=excluded.sum`,
		int64(e.ID), e.Kind, e.UserID, e.PetID, e.ScheduleID, e.Slot,
		unixNanos(e.Occurrence), unixNanos(e.FireAt), string(e.Status), e.Attempts,
		unixNanos(e.UpdatedAt), int64(e.Checksum()),
	)
	return err
}

const selectEntry = `SELECT id, kind, user_id, pet_id, COALESCE(schedule_id,''), COALESCE(slot,''),
	occurrence, fire_at, status, attempts, updated_at, sum FROM reminders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, uint32, error) {
	var (
		e                  Entry
		id, sum            int64
		occ, fire, updated int64
		status             string
	)
	if err := r.Scan(&id, &e.Kind, &e.UserID, &e.PetID, &e.ScheduleID, &e.Slot,
		&occ, &fire, &status, &e.Attempts, &updated, &sum); err != nil {
		return Entry{}, 0, err
	}
	e.ID = uint32(id)
	e.Occurrence = fromNanos(occ)
	e.FireAt = fromNanos(fire)
	e.Status = Status(status)
	e.UpdatedAt = fromNanos(updated)
	return e, uint32(sum), nil
}

func (s *sqliteStore) Get(ctx context.Context, id uint32) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, ErrDisabled
	}
	e, sum, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.Checksum() != sum {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	entries, sums, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	out, _ := Verify(entries, sums)
	return out, nil
}

func (s *sqliteStore) scanAll(ctx context.Context) ([]Entry, []uint32, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+` ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var (
		entries []Entry
		sums    []uint32
	)
	for rows.Next() {
		e, sum, err := scanEntry(rows)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
		sums = append(sums, sum)
	}
	return entries, sums, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id uint32) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, int64(id))
	return err
}

// dropCorrupt deletes rows whose stored checksum does not match.
func (s *sqliteStore) dropCorrupt(ctx context.Context) (int, error) {
	entries, sums, err := s.scanAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i, e := range entries {
		if e.Checksum() == sums[i] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, int64(e.ID)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
