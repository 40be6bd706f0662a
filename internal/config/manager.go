// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/chanfeed/chanfeed/internal/log"
)

// Manager holds the live configuration with atomic reload and
// persistence. It satisfies the engine's ConfigSource and
// ProfileSource views of the active profile.
type Manager struct {
	mu      sync.RWMutex
	current Config
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []func(Config)
}

// NewManager loads the config at path and returns a manager around it.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		current: cfg,
		path:    path,
		logger:  log.WithComponent("config"),
	}, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

func (m *Manager) copyLocked() Config {
	cfg := m.current
	cfg.Profiles = make([]Profile, len(m.current.Profiles))
	copy(cfg.Profiles, m.current.Profiles)
	for i := range cfg.Profiles {
		favs := make([]string, len(cfg.Profiles[i].FavoriteGroups))
		copy(favs, cfg.Profiles[i].FavoriteGroups)
		cfg.Profiles[i].FavoriteGroups = favs
	}
	return cfg
}

func (m *Manager) activeLocked() *Profile {
	for i := range m.current.Profiles {
		if m.current.Profiles[i].ID == m.current.ActiveProfile {
			return &m.current.Profiles[i]
		}
	}
	return nil
}

// ActiveProfileID returns the id of the active profile.
func (m *Manager) ActiveProfileID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ActiveProfile
}

// PlaylistURL returns the active profile's playlist URL, blank when
// unset.
func (m *Manager) PlaylistURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.activeLocked(); p != nil {
		return p.PlaylistURL
	}
	return ""
}

// GuideURL returns the active profile's explicit guide URL, blank when
// the guide should be derived from the provider.
func (m *Manager) GuideURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.activeLocked(); p != nil {
		return p.GuideURL
	}
	return ""
}

// FavoriteGroups returns the active profile's favorite groups in
// insertion order.
func (m *Manager) FavoriteGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.activeLocked()
	if p == nil {
		return nil
	}
	out := make([]string, len(p.FavoriteGroups))
	copy(out, p.FavoriteGroups)
	return out
}

// ToggleFavorite adds the group to the active profile's favorites, or
// removes it when already present. It reports whether the group is a
// favorite after the call, and persists the change.
func (m *Manager) ToggleFavorite(group string) (bool, error) {
	m.mu.Lock()
	p := m.activeLocked()
	if p == nil {
		m.mu.Unlock()
		return false, fmt.Errorf("active profile %q not found", m.current.ActiveProfile)
	}
	added := true
	kept := p.FavoriteGroups[:0]
	for _, g := range p.FavoriteGroups {
		if g == group {
			added = false
			continue
		}
		kept = append(kept, g)
	}
	if added {
		kept = append(kept, group)
	}
	p.FavoriteGroups = kept
	cfg := m.copyLocked()
	m.mu.Unlock()

	if err := m.persist(cfg); err != nil {
		return added, err
	}
	m.notify(cfg)
	return added, nil
}

// SetActiveProfile switches the active profile and persists the
// change.
func (m *Manager) SetActiveProfile(id string) error {
	m.mu.Lock()
	found := false
	for _, p := range m.current.Profiles {
		if p.ID == id {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("profile %q not found", id)
	}
	m.current.ActiveProfile = id
	cfg := m.copyLocked()
	m.mu.Unlock()

	if err := m.persist(cfg); err != nil {
		return err
	}
	m.notify(cfg)
	return nil
}

// UpdateProfile replaces the playlist and guide URLs of the given
// profile and persists the change.
func (m *Manager) UpdateProfile(id, playlistURL, guideURL string) error {
	m.mu.Lock()
	candidate := m.copyLocked()
	found := false
	for i := range candidate.Profiles {
		if candidate.Profiles[i].ID == id {
			candidate.Profiles[i].PlaylistURL = playlistURL
			candidate.Profiles[i].GuideURL = guideURL
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("profile %q not found", id)
	}
	if err := Validate(candidate); err != nil {
		m.mu.Unlock()
		return err
	}
	m.current = candidate
	cfg := m.copyLocked()
	m.mu.Unlock()

	if err := m.persist(cfg); err != nil {
		return err
	}
	m.notify(cfg)
	return nil
}

// persist atomically writes cfg to the config file.
func (m *Manager) persist(cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(m.path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Reload re-reads the config file. On any error the old configuration
// is kept.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	m.logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
	m.notify(cfg)
	return nil
}

// OnChange registers a callback invoked after every successful reload
// or persisted mutation.
func (m *Manager) OnChange(fn func(Config)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(cfg Config) {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for _, fn := range m.listeners {
		fn(cfg)
	}
}

// StartWatcher watches the config file and reloads on writes, with a
// short debounce so editors that write in bursts trigger one reload.
func (m *Manager) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	m.watcher = watcher
	m.logger.Info().Str("event", "config.watcher_started").Str("path", m.path).Msg("watching config file")

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := m.Reload(); err != nil {
					m.logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic reload failed")
				}
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}
