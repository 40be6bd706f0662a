// SPDX-License-Identifier: MIT

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/chanfeed/chanfeed/internal/guide"
	"github.com/chanfeed/chanfeed/internal/playlist"
)

// Snapshot is the unit returned to callers: the full channel set with
// its group projection and per-channel now/next data. Immutable once
// constructed.
type Snapshot struct {
	Channels       []playlist.Channel            `json:"channels"`
	Groups         []string                      `json:"groups"`
	Grouped        map[string][]playlist.Channel `json:"grouped"`
	NowNext        map[string]guide.NowNext      `json:"now_next"`
	FavoriteGroups []string                      `json:"favorite_groups"`
	GuideWarning   string                        `json:"guide_warning,omitempty"`
	LoadedAt       time.Time                     `json:"loaded_at"`
}

// buildSnapshot projects the in-memory channel set into the immutable
// snapshot form. Group names are ordered case-insensitively.
func buildSnapshot(channels []playlist.Channel, nowNext map[string]guide.NowNext, favorites []string, warning string, loadedAt time.Time) *Snapshot {
	grouped := make(map[string][]playlist.Channel)
	for _, ch := range channels {
		grouped[ch.Group] = append(grouped[ch.Group], ch)
	}
	groups := make([]string, 0, len(grouped))
	for g := range grouped {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i]) < strings.ToLower(groups[j])
	})

	nn := make(map[string]guide.NowNext, len(nowNext))
	for id, v := range nowNext {
		nn[id] = v
	}

	return &Snapshot{
		Channels:       append([]playlist.Channel(nil), channels...),
		Groups:         groups,
		Grouped:        grouped,
		NowNext:        nn,
		FavoriteGroups: append([]string(nil), favorites...),
		GuideWarning:   warning,
		LoadedAt:       loadedAt,
	}
}

// Signature hashes the normalized playlist+guide configuration. A
// persisted record whose signature mismatches the active configuration
// is treated as absent.
func Signature(playlistURL, guideURL string) string {
	h := sha256.New()
	h.Write([]byte("playlist\n" + strings.TrimSpace(playlistURL) + "\n"))
	h.Write([]byte("guide\n" + strings.TrimSpace(guideURL) + "\n"))
	return hex.EncodeToString(h.Sum(nil))
}
