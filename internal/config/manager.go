package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "formrelay/pkg/logx"
)

// Validator is an extra reload gate for checks that live outside this
// package (schedules, listener settings).
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the committed config and republishes it when the file
// changes, either through Watch or an explicit Reload.
type Manager struct {
	path string
	log  logx.Logger

	mu        sync.RWMutex
	cfg       *Config
	hash      uint64
	validator Validator

	// reloadMu serializes Reload so a file event and SIGHUP never interleave.
	reloadMu sync.Mutex

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs a gate consulted by Reload before commit.
func (m *Manager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validator = fn
	m.mu.Unlock()
}

// Decode strictly decodes JSON or YAML (chosen by the extension of name).
// Unknown keys and trailing documents are rejected.
func Decode(name string, b []byte) (*Config, error) {
	jb, err := toJSON(name, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) read() (*Config, uint64, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, err
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, 0, err
	}
	return cfg, hashConfig(cfg), nil
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Load reads, validates and commits the file without notifying subscribers.
func (m *Manager) Load() (*Config, error) {
	cfg, h, err := m.read()
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", m.path, err)
	}
	m.commit(cfg, h)
	return cfg, nil
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the file and, when its content changed and it passes
// Validate and the installed validator, commits and publishes it. changed
// is false for an identical file.
func (m *Manager) Reload(ctx context.Context) (changed bool, err error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, h, err := m.read()
	if err != nil {
		return false, fmt.Errorf("config %s: %w", m.path, err)
	}

	m.mu.RLock()
	same := h != 0 && h == m.hash
	validator := m.validator
	m.mu.RUnlock()
	if same {
		return false, nil
	}

	if err := Validate(cfg); err != nil {
		return false, fmt.Errorf("config %s rejected: %w", m.path, err)
	}
	if validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, fmt.Errorf("config %s rejected: %w", m.path, err)
		}
	}

	m.commit(cfg, h)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true, nil
}

// Subscribe returns a channel that receives each committed reload. Only the
// newest config is kept when the reader falls behind.
func (m *Manager) Subscribe(buffer int) (<-chan *Config, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// drop the oldest queued config and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Watch reloads on file changes until ctx is done.
//
// The parent directory is watched since editors replace files by rename.
// Events are debounced; a broken watcher is recreated with jittered
// exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
		debounceFor = 250 * time.Millisecond
	)

	var (
		debounceMu sync.Mutex
		pending    *time.Timer
	)
	schedule := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounceFor, func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.Err(err))
			}
		})
	}
	defer func() {
		debounceMu.Lock()
		if pending != nil {
			pending.Stop()
		}
		debounceMu.Unlock()
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := backoffBase
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, backoffMax)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.Err(err), logx.String("dir", dir))
			if !wait() {
				return nil
			}
			continue
		}

		backoff = backoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		if done := m.drain(ctx, w, file, schedule); done {
			_ = w.Close()
			return nil
		}
		_ = w.Close()
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !wait() {
			return nil
		}
	}
	return nil
}

// drain forwards relevant events until ctx ends (true) or the watcher
// breaks (false).
func (m *Manager) drain(ctx context.Context, w *fsnotify.Watcher, file string, schedule func()) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&relevant != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return false
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload")
				schedule()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
