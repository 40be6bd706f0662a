// SPDX-License-Identifier: MIT

// Package store persists one cache record per profile.
package store

import (
	"time"

	"github.com/chanfeed/chanfeed/internal/guide"
	"github.com/chanfeed/chanfeed/internal/playlist"
)

// Record is the persisted form of a loaded snapshot. A record whose
// Signature does not match the caller's current configuration is
// treated as absent.
type Record struct {
	Channels  []playlist.Channel       `json:"channels"`
	NowNext   map[string]guide.NowNext `json:"now_next"`
	LoadedAt  time.Time                `json:"loaded_at"`
	Signature string                   `json:"config_signature"`
}

// Store persists records keyed by an opaque profile identifier.
// Load returns (nil, nil) when no record exists for the profile.
type Store interface {
	Load(profileID string) (*Record, error)
	Save(profileID string, rec *Record) error
	Delete(profileID string) error
	Close() error
}
