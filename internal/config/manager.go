package config

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "alarmd/pkg/logx"
)

const (
	defaultDebounce = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Change describes one committed reload.
type Change struct {
	Old, New *Config
	// Sections changed and already live in New.
	Sections []string
	// Pending sections changed in the file but need a restart. New keeps the
	// running values for them.
	Pending []string
	// Attrs are loggable without leaking secrets.
	Attrs []logx.Field
}

// Manager owns the effective configuration: the file as loaded at start,
// then every valid edit with restart-only sections held at their running
// values.
type Manager struct {
	path     string
	debounce time.Duration
	log      logx.Logger

	mu  sync.RWMutex
	cfg *Config
	sum uint64 // of the last accepted file bytes

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }

// WithDebounce sets how long Watch waits after the last file event before
// reloading.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:     path,
		debounce: defaultDebounce,
		log:      logx.Nop(),
		subs:     map[chan Change]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// SetLogger replaces the logger once the logging service is up.
func (m *Manager) SetLogger(log logx.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *Manager) logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// Load reads, validates and commits the file as the starting config.
func (m *Manager) Load() (*Config, error) {
	cfg, sum, err := m.read()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the file. An invalid file leaves the current config in
// place and returns the error. changed is false when nothing in the file
// differs from what was last accepted.
func (m *Manager) Reload() (c Change, changed bool, err error) {
	next, sum, err := m.read()
	if err != nil {
		return Change{}, false, err
	}

	m.mu.Lock()
	if m.cfg != nil && sum == m.sum {
		m.mu.Unlock()
		return Change{}, false, nil
	}
	old := m.cfg
	eff := keepRunning(old, next)
	c = Change{Old: old, New: eff, Pending: RestartRequired(old, next)}
	c.Sections, c.Attrs = SummarizeConfigChange(old, eff)
	m.cfg, m.sum = eff, sum
	m.mu.Unlock()

	if len(c.Sections) == 0 && len(c.Pending) == 0 {
		return c, false, nil
	}
	m.publish(c)
	return c, true, nil
}

func (m *Manager) read() (*Config, uint64, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, err
	}
	cfg, err := decodeConfig(m.path, b)
	if err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid config %s: %w", m.path, err)
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return cfg, h.Sum64(), nil
}

// Subscribe returns a channel of committed changes. A slow subscriber only
// ever misses older changes, never the latest.
func (m *Manager) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, max(1, buffer))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) publish(c Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- c:
			default:
				// Full: drop the oldest and retry.
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

// Watch reloads the file on change until ctx is done. The watcher is
// recreated with backoff when fsnotify gives up.
func (m *Manager) Watch(ctx context.Context) error {
	backoff := watchBackoffMin
	for {
		began := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(began) > 30*time.Second {
			backoff = watchBackoffMin
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		m.logger().Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		backoff = min(backoff*2, watchBackoffMax)
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	// The directory, not the file: editors save by rename.
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.logger().Debug("config watcher started", logx.String("path", m.path))

	t := time.NewTimer(m.debounce)
	t.Stop()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event stream closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				t.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; reload to be safe.
				t.Reset(m.debounce)
				continue
			}
			m.logger().Warn("config watch error", logx.Err(err))
		case <-t.C:
			m.reloadAndLog()
		}
	}
}

func (m *Manager) reloadAndLog() {
	log := m.logger()
	c, changed, err := m.Reload()
	switch {
	case err != nil:
		log.Warn("config rejected; keeping current", logx.Err(err))
	case !changed:
		log.Debug("config unchanged", logx.String("path", m.path))
	default:
		log.Debug("config committed", logx.Int("live", len(c.Sections)), logx.Int("pending", len(c.Pending)))
	}
}
