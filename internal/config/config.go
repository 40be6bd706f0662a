// SPDX-License-Identifier: MIT

// Package config loads and hot-reloads the daemon configuration.
// Configuration lives in a YAML file; a handful of environment
// variables overlay the file for containerized deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Profile is one named ingestion configuration. Every profile owns its
// own playlist source, guide source, and favorite groups.
type Profile struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	PlaylistURL    string   `yaml:"playlist_url"`
	GuideURL       string   `yaml:"guide_url,omitempty"`
	FavoriteGroups []string `yaml:"favorite_groups,omitempty"`
}

// Config is the full daemon configuration.
type Config struct {
	Listen        string    `yaml:"listen"`
	DataDir       string    `yaml:"data_dir"`
	LogLevel      string    `yaml:"log_level"`
	StoreBackend  string    `yaml:"store_backend"`
	ActiveProfile string    `yaml:"active_profile"`
	Profiles      []Profile `yaml:"profiles"`
}

const (
	defaultListen = ":8787"
	defaultStore  = "file"
)

// Default returns a configuration with one empty profile, used when no
// config file exists yet.
func Default() Config {
	id := uuid.NewString()
	return Config{
		Listen:        ParseString("CHANFEED_LISTEN", defaultListen),
		DataDir:       ParseString("CHANFEED_DATA_DIR", defaultDataDir()),
		LogLevel:      ParseString("CHANFEED_LOG_LEVEL", "info"),
		StoreBackend:  ParseString("CHANFEED_STORE", defaultStore),
		ActiveProfile: id,
		Profiles: []Profile{{
			ID:          id,
			Name:        "Default",
			PlaylistURL: ParseString("CHANFEED_PLAYLIST_URL", ""),
			GuideURL:    ParseString("CHANFEED_GUIDE_URL", ""),
		}},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chanfeed")
	}
	return "./data"
}

// Load reads the config file at path, overlays environment variables,
// and validates the result. A missing file yields Default().
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = defaultStore
	}
	if len(cfg.Profiles) == 0 {
		id := uuid.NewString()
		cfg.Profiles = []Profile{{ID: id, Name: "Default"}}
		cfg.ActiveProfile = id
	}
	for i := range cfg.Profiles {
		if cfg.Profiles[i].ID == "" {
			cfg.Profiles[i].ID = uuid.NewString()
		}
	}
	if cfg.ActiveProfile == "" {
		cfg.ActiveProfile = cfg.Profiles[0].ID
	}
}

// applyEnv overlays environment variables on top of file values.
// Environment wins where set.
func applyEnv(cfg *Config) {
	cfg.Listen = ParseString("CHANFEED_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("CHANFEED_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString("CHANFEED_LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = ParseString("CHANFEED_STORE", cfg.StoreBackend)

	// Playlist/guide env overrides apply to the active profile only.
	for i := range cfg.Profiles {
		if cfg.Profiles[i].ID != cfg.ActiveProfile {
			continue
		}
		cfg.Profiles[i].PlaylistURL = ParseString("CHANFEED_PLAYLIST_URL", cfg.Profiles[i].PlaylistURL)
		cfg.Profiles[i].GuideURL = ParseString("CHANFEED_GUIDE_URL", cfg.Profiles[i].GuideURL)
	}
}

// Validate checks structural invariants. Blank playlist URLs are
// allowed; a profile without one simply resolves to an empty snapshot.
func Validate(cfg Config) error {
	switch cfg.StoreBackend {
	case "file", "badger":
	default:
		return fmt.Errorf("store_backend %q: must be file or badger", cfg.StoreBackend)
	}

	seen := make(map[string]struct{}, len(cfg.Profiles))
	active := false
	for _, p := range cfg.Profiles {
		if p.ID == "" {
			return errors.New("profile without id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.ID == cfg.ActiveProfile {
			active = true
		}
		if u := strings.TrimSpace(p.PlaylistURL); u != "" &&
			!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("profile %q: playlist_url must be http(s)", p.ID)
		}
	}
	if !active {
		return fmt.Errorf("active_profile %q not found", cfg.ActiveProfile)
	}
	return nil
}
