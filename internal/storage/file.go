package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dosebot/pkg/logx"
)

const defaultCompactEvery = 256

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.index.snapshot.json  (periodic snapshot)
//   - <prefix>.index.journal.jsonl  (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	entries      map[uint32]Entry

	writes       int
	compactEvery int
}

// journalRecord is one line of the journal. Op is "put" or "del".
type journalRecord struct {
	Op    string `json:"op"`
	Entry        // flattened; only ID is meaningful for "del"
	Sum   uint32 `json:"sum"`
}

type snapshotRecord struct {
	Entry
	Sum uint32 `json:"sum"`
}

type snapshotFile struct {
	Version int              `json:"version"`
	Entries []snapshotRecord `json:"entries"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".index.snapshot.json"
	journalPath := prefix + ".index.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	entries := map[uint32]Entry{}
	badSnap, err := loadSnapshot(snapPath, entries)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("index snapshot unreadable; starting from journal", logx.Err(err))
	}
	badJournal, err := replayJournal(journalPath, entries)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("index journal replay stopped early", logx.Err(err))
	}
	if n := badSnap + badJournal; n > 0 {
		log.Warn("discarded index records failing checksum", logx.Int("count", n))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		entries:      entries,
		compactEvery: defaultCompactEvery,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Put(ctx context.Context, e Entry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", Entry: e, Sum: e.Checksum()}); err != nil {
		return err
	}
	s.entries[e.ID] = e
	return nil
}

func (s *fileStore) Get(ctx context.Context, id uint32) (Entry, error) {
	if err := checkCtx(ctx); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return Entry{}, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return sortedEntries(s.entries), nil
}

func (s *fileStore) Delete(ctx context.Context, id uint32) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		if s.journalFile == nil {
			return ErrClosed
		}
		return nil
	}
	rec := journalRecord{Op: "del", Entry: Entry{ID: id}}
	rec.Sum = rec.Entry.Checksum()
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	delete(s.entries, id)
	return nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("index compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshotFile{Version: 1, Entries: make([]snapshotRecord, 0, len(s.entries))}
	for _, e := range sortedEntries(s.entries) {
		snap.Entries = append(snap.Entries, snapshotRecord{Entry: e, Sum: e.Checksum()})
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[uint32]Entry) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var snap snapshotFile
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return 0, err
	}
	bad := 0
	for _, r := range snap.Entries {
		if r.ID == 0 || r.Entry.Checksum() != r.Sum {
			bad++
			continue
		}
		out[r.ID] = r.Entry
	}
	return bad, nil
}

func replayJournal(path string, out map[uint32]Entry) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	bad := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil {
			bad++
			continue
		}
		if r.ID == 0 || r.Entry.Checksum() != r.Sum {
			bad++
			continue
		}
		switch r.Op {
		case "put":
			out[r.ID] = r.Entry
		case "del":
			delete(out, r.ID)
		default:
			bad++
		}
	}
	return bad, sc.Err()
}
