package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hushd/pkg/logx"
)

// Manager owns the config file: initial load, strict parsing, fsnotify-based
// hot reload, and fanout of committed revisions to subscribers. A revision is
// committed only after the validator accepts it, so subscribers never see a
// config the daemon would refuse to run with.
type Manager struct {
	path string

	mu  sync.RWMutex
	cur *Config
	// lastHash is the content hash of the committed revision; editors that
	// fire several write events for one save reload once.
	lastHash uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, subs: map[chan *Config]struct{}{}}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the acceptance check run on every reload candidate
// before it is committed and published.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and strictly decodes the file without committing it. YAML is
// coerced to JSON first so DisallowUnknownFields covers both formats.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toStrictJSON(m.path, raw)
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

// Load parses and commits the file. Used once at startup; reloads go through
// Watch so the validator applies.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cur = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Subscribe registers a buffered channel receiving committed revisions.
// Callers must eventually Unsubscribe, which also closes the channel.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; !ok {
		return
	}
	delete(m.subs, ch)
	close(ch)
}

// fanout delivers cfg to every subscriber without blocking. A full buffer
// loses its oldest revision, never the newest: subscribers coalesce anyway.
// subsMu is held across the sends so Unsubscribe cannot close a channel
// mid-send.
func (m *Manager) fanout(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload is the debounced tail of a file-change burst: parse, skip if the
// content hash is unchanged, validate, commit, fan out.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.fanout(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch tails the config file until ctx is canceled. The watcher is placed
// on the directory (atomic-rename saves replace the file inode) and events
// are debounced so partial writes are never parsed. A broken watcher is
// recreated with jittered exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	const (
		debounceDelay = 250 * time.Millisecond
		backoffBase   = 250 * time.Millisecond
		backoffMax    = 5 * time.Second
	)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() { m.reload(ctx) })
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := backoffBase

	for ctx.Err() == nil {
		ran, err := m.watchOnce(ctx, schedule)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Err(err))
		}
		if ran {
			// The session got as far as delivering events; a fresh failure
			// should not inherit an inflated backoff.
			backoff = backoffBase
		}

		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one watcher session. ran reports whether the event loop was
// reached (as opposed to failing during setup).
func (m *Manager) watchOnce(ctx context.Context, schedule func()) (ran bool, err error) {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			// Match by basename: editors and atomic saves produce events
			// under varying path spellings.
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				schedule()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if werr == nil {
				continue
			}
			lower := strings.ToLower(werr.Error())
			if strings.Contains(lower, "overflow") {
				// Events were missed; reload once rather than guessing what
				// they were.
				m.log.Warn("config watch overflow; forcing reload", logx.Err(werr))
				schedule()
				continue
			}
			m.log.Warn("config watch error", logx.Err(werr), logx.String("dir", dir))
			if strings.Contains(lower, "closed") {
				return true, werr
			}
		}
	}
}
