package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Manager serves config snapshots and hot-reloads category limits when the
// config file changes. Server-level settings (listen address, db path) are
// read once at startup; only callers of Get observe reloads.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	watcher   *fsnotify.Watcher
	lastError error
	done      chan struct{}
}

// NewManager loads the initial config and, when path is non-empty, starts
// watching the file for changes.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{config: cfg, path: path, done: make(chan struct{})}

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		m.watcher = watcher
		go m.watch()
	}

	return m, nil
}

// Get returns the current config snapshot. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// LastError returns the most recent reload failure, nil when the last reload
// succeeded.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err == nil {
		err = cfg.Validate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// Keep serving the previous config on a bad edit.
		m.lastError = err
		return
	}
	m.config = cfg
	m.lastError = nil
}

func (m *Manager) watch() {
	if err := m.watcher.Add(m.path); err != nil {
		m.mu.Lock()
		m.lastError = fmt.Errorf("failed to watch config file: %w", err)
		m.mu.Unlock()
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Editors fire bursts of events per save; coalesce them.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, m.reload)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.mu.Lock()
			m.lastError = fmt.Errorf("watcher error: %w", err)
			m.mu.Unlock()
		}
	}
}
