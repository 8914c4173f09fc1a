package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "formrelay/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json  (properties + triggers, rewritten atomically on change)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	auditFile *os.File
	state     fileState
}

type fileState struct {
	Properties map[string]string   `json:"properties"`
	Triggers   map[string]*Trigger `json:"triggers"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:       log,
		statePath: prefix + ".state.json",
	}
	if err := st.load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", st.statePath, err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.auditFile = af
	return st, nil
}

func (s *fileStore) load() error {
	s.state = fileState{Properties: map[string]string{}, Triggers: map[string]*Trigger{}}
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.state); err != nil {
		return err
	}
	if s.state.Properties == nil {
		s.state.Properties = map[string]string{}
	}
	if s.state.Triggers == nil {
		s.state.Triggers = map[string]*Trigger{}
	}
	return nil
}

// saveLocked writes the snapshot via tmp file + rename so a crash never
// leaves a half-written state file.
func (s *fileStore) saveLocked() error {
	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) GetProperty(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.Properties[key]
	return v, ok, nil
}

func (s *fileStore) SetProperty(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.state.Properties[key]
	s.state.Properties[key] = value
	if err := s.saveLocked(); err != nil {
		if had {
			s.state.Properties[key] = prev
		} else {
			delete(s.state.Properties, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeleteProperty(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.state.Properties[key]
	if !ok {
		return nil
	}
	delete(s.state.Properties, key)
	if err := s.saveLocked(); err != nil {
		s.state.Properties[key] = prev
		return err
	}
	return nil
}

func (s *fileStore) PutTrigger(ctx context.Context, t Trigger) (Trigger, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, cur := range s.state.Triggers {
		if cur.SourceID != t.SourceID || cur.Event != t.Event || cur.Handler != t.Handler {
			continue
		}
		if cur.Delivery == t.Delivery {
			return *cur, false, nil
		}
		next := *cur
		next.Delivery = t.Delivery
		next.Cursor = t.Cursor
		next.UpdatedAt = now
		if err := s.replaceLocked(id, &next); err != nil {
			return Trigger{}, false, err
		}
		return next, false, nil
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	cp := t
	s.state.Triggers[t.ID] = &cp
	if err := s.saveLocked(); err != nil {
		delete(s.state.Triggers, t.ID)
		return Trigger{}, false, err
	}
	return t, true, nil
}

func (s *fileStore) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Triggers[id]
	if !ok {
		return Trigger{}, ErrNotFound
	}
	return *t, nil
}

func (s *fileStore) ListTriggers(ctx context.Context) ([]Trigger, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]Trigger, 0, len(s.state.Triggers))
	for _, t := range s.state.Triggers {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) DeleteTrigger(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.state.Triggers[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.state.Triggers, id)
	if err := s.saveLocked(); err != nil {
		s.state.Triggers[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) SetCursor(ctx context.Context, id string, cursor int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Triggers[id]
	if !ok {
		return ErrNotFound
	}
	next := *t
	next.Cursor = cursor
	next.UpdatedAt = time.Now().UTC()
	return s.replaceLocked(id, &next)
}

// replaceLocked swaps in next for id and persists, restoring the previous
// trigger when the save fails.
func (s *fileStore) replaceLocked(id string, next *Trigger) error {
	prev := s.state.Triggers[id]
	s.state.Triggers[id] = next
	if err := s.saveLocked(); err != nil {
		s.state.Triggers[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
