package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"hushd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of everything)
//   - <prefix>.journal.jsonl (append-only journal of puts and deletes)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	// kind -> (userID/id -> entry)
	data map[Kind]map[string]Entry

	writes int
}

type journalRecord struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"user"`
	ID     string `json:"id"`
	Data   []byte `json:"data,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

func entryKey(userID, id string) string { return userID + "/" + id }

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

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	data := map[Kind]map[string]Entry{}
	_ = loadSnapshot(snapPath, data)
	_ = replayJournal(journalPath, data)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		data:         data,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.compactLocked()
	cerr := s.journalFile.Close()
	s.journalFile = nil
	if err != nil {
		return err
	}
	return cerr
}

func (s *fileStore) Put(ctx context.Context, kind Kind, e Entry) error {
	_ = ctx
	if e.ID == "" {
		return errors.New("entry id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	m, ok := s.data[kind]
	if !ok {
		m = map[string]Entry{}
		s.data[kind] = m
	}
	m[entryKey(e.UserID, e.ID)] = e

	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Kind: kind, UserID: e.UserID, ID: e.ID, Data: e.Data}); err != nil {
		return err
	}
	return s.maybeCompactLocked()
}

func (s *fileStore) Delete(ctx context.Context, kind Kind, userID, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if m, ok := s.data[kind]; ok {
		delete(m, entryKey(userID, id))
	}
	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Kind: kind, UserID: userID, ID: id, Delete: true}); err != nil {
		return err
	}
	return s.maybeCompactLocked()
}

func (s *fileStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.data[kind]
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) maybeCompactLocked() error {
	s.writes++
	if s.writes%1000 != 0 {
		return nil
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("snapshot compact failed", logx.Err(err))
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	flat := map[Kind][]Entry{}
	for kind, m := range s.data {
		for _, e := range m {
			flat[kind] = append(flat[kind], e)
		}
	}
	if err := json.NewEncoder(f).Encode(flat); err != nil {
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

func loadSnapshot(path string, out map[Kind]map[string]Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var flat map[Kind][]Entry
	if err := json.NewDecoder(f).Decode(&flat); err != nil {
		return err
	}
	for kind, entries := range flat {
		m, ok := out[kind]
		if !ok {
			m = map[string]Entry{}
			out[kind] = m
		}
		for _, e := range entries {
			m[entryKey(e.UserID, e.ID)] = e
		}
	}
	return nil
}

func replayJournal(path string, out map[Kind]map[string]Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		m, ok := out[r.Kind]
		if !ok {
			m = map[string]Entry{}
			out[r.Kind] = m
		}
		if r.Delete {
			delete(m, entryKey(r.UserID, r.ID))
			continue
		}
		m[entryKey(r.UserID, r.ID)] = Entry{UserID: r.UserID, ID: r.ID, Data: r.Data}
	}
	return sc.Err()
}
