package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dosebot/pkg/fnv1a"
	logx "dosebot/pkg/logx"
)

// Manager owns the current configuration and republishes it on file changes.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards subs and ensures we never send on a channel that is
	// concurrently being closed in Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash is the checksum of the last committed config; editors often
	// fire several write events without changing content.
	lastHash uint32
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook run by Watch before a reloaded config is
// committed. Validate always runs first.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	var cfg Config
	if err := DecodeFile(m.path, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", m.path, err)
	}
	return &cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint32 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return fnv1a.Sum32(b)
}

// Load parses, validates and commits.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", m.path, err)
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

// publish delivers the latest config to every subscriber. A full subscriber
// loses its oldest pending config, never the newest.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
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
			m.logger().Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func (m *Manager) logger() logx.Logger {
	if m.log.IsZero() {
		return logx.Nop()
	}
	return m.log
}

// Reload re-reads the file and, when the content changed and passes
// validation, commits and publishes it. It reports whether a new config was
// published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	// validate before commit/publish (transactional)
	if err := Validate(cfg); err != nil {
		return false, err
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, err
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	return true, nil
}

// Watch reloads on file changes until ctx is done. Rejected configs are
// logged and the previous config stays active.
func (m *Manager) Watch(ctx context.Context) error {
	log := m.logger().With(logx.String("comp", "config"))
	return WatchFile(ctx, m.path, DefaultDebounce, log, func() {
		published, err := m.Reload(ctx)
		switch {
		case err != nil:
			log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
		case published:
			log.Debug("config published", logx.String("path", m.path))
		default:
			log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		}
	})
}
