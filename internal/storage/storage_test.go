package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dosebot/pkg/logx"
)

func sampleEntry(id uint32, fireAt time.Time) Entry {
	return Entry{
		ID:         id,
		Kind:       "initial",
		UserID:     "user1",
		PetID:      "pet1",
		ScheduleID: "sched1",
		Slot:       "08:00",
		Occurrence: fireAt,
		FireAt:     fireAt,
		Status:     StatusScheduled,
		UpdatedAt:  fireAt.Add(-time.Hour),
	}
}

func TestChecksumCoversFields(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	base := sampleEntry(7, at)
	sum := base.Checksum()

	same := base
	same.FireAt = at.In(time.FixedZone("X", 3600))
	same.Occurrence = at.In(time.FixedZone("X", 3600))
	same.UpdatedAt = base.UpdatedAt.Local()
	assert.Equal(t, sum, same.Checksum(), "location must not affect checksum")

	mutations := []func(*Entry){
		func(e *Entry) { e.ID++ },
		func(e *Entry) { e.Kind = "followup" },
		func(e *Entry) { e.PetID = "pet2" },
		func(e *Entry) { e.Slot = "08:01" },
		func(e *Entry) { e.FireAt = e.FireAt.Add(time.Nanosecond) },
		func(e *Entry) { e.Status = StatusDelivered },
		func(e *Entry) { e.Attempts = 1 },
	}
	for i, m := range mutations {
		e := base
		m(&e)
		assert.NotEqual(t, sum, e.Checksum(), "mutation %d", i)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 0)
	a, b := sampleEntry(1, at), sampleEntry(2, at)
	out, bad := Verify([]Entry{a, b}, []uint32{a.Checksum(), b.Checksum() + 1})
	assert.Equal(t, 1, bad)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(1), out[0].ID)
}

func TestStatusDone(t *testing.T) {
	t.Parallel()
	assert.True(t, StatusDelivered.Done())
	assert.True(t, StatusAcknowledged.Done())
	assert.False(t, StatusScheduled.Done())
	assert.False(t, StatusFailed.Done())
	assert.False(t, Status("bogus").Valid())
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 8, 0, 0, 123, time.UTC)

	_, err := st.Get(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Put(ctx, sampleEntry(42, at)))
	require.NoError(t, st.Put(ctx, sampleEntry(3, at.Add(time.Hour))))

	got, err := st.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.FireAt))
	assert.Equal(t, "sched1", got.ScheduleID)

	upd := got
	upd.Status = StatusDelivered
	upd.Attempts = 2
	require.NoError(t, st.Put(ctx, upd))
	got, err = st.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint32(3), list[0].ID)
	assert.Equal(t, uint32(42), list[1].ID)

	require.NoError(t, st.Delete(ctx, 3))
	require.NoError(t, st.Delete(ctx, 3))
	list, err = st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "acknowledge", ReminderID: 42, Actor: "tg:1", OK: true}))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Close())
	_, err = st.List(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "dosebot.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Put(context.Background(), sampleEntry(9, time.Unix(1700000000, 0))))

	// Reopen without Close: state comes from the journal alone.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	list, err := st2.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NoError(t, st2.Close())
	require.NoError(t, st.Close())

	// After Close the journal is compacted into the snapshot.
	st3, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st3.Close()
	got, err := st3.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)

	audit, err := os.ReadFile(filepath.Join(filepath.Dir(path), "dosebot.audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"action":"acknowledge"`)
}

func TestFileStoreDiscardsTamperedRecords(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "idx.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	require.NoError(t, st.Put(ctx, sampleEntry(1, at)))
	require.NoError(t, st.Put(ctx, sampleEntry(2, at)))

	journal := filepath.Join(dir, "idx.index.journal.jsonl")
	b, err := os.ReadFile(journal)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	lines[1] = strings.Replace(lines[1], `"pet_id":"pet1"`, `"pet_id":"pet9"`, 1)
	lines = append(lines, `{not json`)
	require.NoError(t, os.WriteFile(journal, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	list, err := st2.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint32(1), list[0].ID)
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := openFile(Config{Path: filepath.Join(dir, "c.db")}, logx.Nop())
	require.NoError(t, err)
	fs := s.(*fileStore)
	fs.compactEvery = 2
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, sampleEntry(1, time.Unix(1, 0))))
	require.NoError(t, fs.Put(ctx, sampleEntry(2, time.Unix(2, 0))))

	info, err := os.Stat(filepath.Join(dir, "c.index.journal.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	_, err = os.Stat(filepath.Join(dir, "c.index.snapshot.json"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dosebot.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)

	// Tamper with a row behind the store's back.
	db := st.(*sqliteStore).db
	_, err = db.Exec(`UPDATE reminders SET fire_at = fire_at + 1 WHERE id = 42`)
	require.NoError(t, err)

	_, err = st.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, st.Close())

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	var n int
	require.NoError(t, st2.(*sqliteStore).db.QueryRow(`SELECT COUNT(*) FROM reminders`).Scan(&n))
	assert.Zero(t, n, "corrupt rows are purged on open")
	require.NoError(t, st2.(*sqliteStore).db.QueryRow(`SELECT COUNT(*) FROM audit`).Scan(&n))
	assert.Equal(t, 1, n)
}
