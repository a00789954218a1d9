package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "alarmd/pkg/logx"
)

const fileCompactEvery = 100

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl                 (append-only JSON Lines)
//   - <prefix>.registrations.snapshot.json (periodic snapshot)
//   - <prefix>.registrations.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot on open and every
// fileCompactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	regs         map[int]Registration

	writes int
}

type journalRecord struct {
	Op  string        `json:"op"` // put | del
	Reg *Registration `json:"reg,omitempty"`
	// Slot is set for deletes.
	Slot int `json:"slot,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path, err := requirePath(cfg)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".registrations.snapshot.json"
	journalPath := prefix + ".registrations.journal.jsonl"

	regs := map[int]Registration{}
	if err := loadSnapshot(snapPath, regs); err != nil && !os.IsNotExist(err) {
		log.Warn("registration snapshot unreadable", logx.Err(err))
	}
	if err := replayJournal(journalPath, regs); err != nil && !os.IsNotExist(err) {
		log.Warn("registration journal unreadable", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	st := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		regs:         regs,
	}
	st.mu.Lock()
	if err := st.compactLocked(); err != nil {
		log.Debug("registration compact failed", logx.Err(err))
	}
	st.mu.Unlock()
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutRegistration(_ context.Context, r Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := s.appendLocked(journalRecord{Op: "put", Reg: &r}); err != nil {
		return err
	}
	s.regs[r.Slot] = r
	return nil
}

func (s *fileStore) GetRegistration(_ context.Context, slot int) (Registration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[slot]
	return r, ok, nil
}

func (s *fileStore) DeleteRegistration(_ context.Context, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.regs[slot]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Slot: slot}); err != nil {
		return err
	}
	delete(s.regs, slot)
	return nil
}

func (s *fileStore) ListRegistrations(_ context.Context) ([]Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("registration compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	list := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		list = append(list, r)
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int]Registration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Registration
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, r := range list {
		out[r.Slot] = r
	}
	return nil
}

func replayJournal(path string, out map[int]Registration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Torn tail write.
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Reg != nil {
				out[rec.Reg.Slot] = *rec.Reg
			}
		case "del":
			delete(out, rec.Slot)
		}
	}
	return sc.Err()
}
