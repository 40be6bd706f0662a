// SPDX-License-Identifier: MIT

// Package guide parses the XMLTV-like guide dialect and resolves each
// broadcast entry to a known playlist channel.
package guide

import (
	"strings"

	unorm "golang.org/x/text/unicode/norm"

	"github.com/chanfeed/chanfeed/internal/playlist"
)

// qualityTokens are marker words stripped by the loosest matching
// transform. Guide feeds and playlists disagree about them constantly
// ("ESPN" vs "ESPN HD").
var qualityTokens = map[string]struct{}{
	"hd":   {},
	"fhd":  {},
	"uhd":  {},
	"sd":   {},
	"4k":   {},
	"hevc": {},
	"h264": {},
	"h265": {},
}

// Index maps normalized channel keys to channel ids. It is built once
// per parse from the playlist channel set and is read-only afterwards.
type Index struct {
	keys map[string]string
}

// NewIndex registers every channel under all transform variants of its
// name, its declared guide id, and the tvg-name hint recovered from
// the raw descriptor. The first registrant for a key wins so that
// resolution stays deterministic.
func NewIndex(channels []playlist.Channel) *Index {
	idx := &Index{keys: make(map[string]string, len(channels)*4)}
	for _, ch := range channels {
		idx.register(ch.Name, ch.ID)
		idx.register(ch.GuideID, ch.ID)
		idx.register(playlist.Attr(ch.Raw, "tvg-name"), ch.ID)
	}
	return idx
}

func (idx *Index) register(tag, channelID string) {
	for _, key := range transforms(tag) {
		if key == "" {
			continue
		}
		if _, taken := idx.keys[key]; taken {
			continue
		}
		idx.keys[key] = channelID
	}
}

// Resolve looks up the declared guide channel id, then each known
// alias, each under every transform, returning the first hit.
func (idx *Index) Resolve(declaredID string, aliases []string) (string, bool) {
	if id, ok := idx.lookup(declaredID); ok {
		return id, true
	}
	for _, alias := range aliases {
		if id, ok := idx.lookup(alias); ok {
			return id, true
		}
	}
	return "", false
}

func (idx *Index) lookup(tag string) (string, bool) {
	for _, key := range transforms(tag) {
		if key == "" {
			continue
		}
		if id, ok := idx.keys[key]; ok {
			return id, true
		}
	}
	return "", false
}

// transforms returns the three matching keys for a tag, loosest last:
// lowercase-trimmed, alphanumeric-only, alphanumeric-only with quality
// tokens removed.
func transforms(tag string) [3]string {
	lower := normalize(tag)
	return [3]string{lower, loose(lower, false), loose(lower, true)}
}

func normalize(s string) string {
	s = unorm.NFC.String(s)
	return strings.ToLower(strings.TrimSpace(s))
}

// loose collapses a lowercased tag to its alphanumeric tokens,
// optionally dropping quality tokens.
func loose(lower string, stripQuality bool) string {
	var b strings.Builder
	var token strings.Builder
	flush := func() {
		if token.Len() == 0 {
			return
		}
		t := token.String()
		token.Reset()
		if stripQuality {
			if _, drop := qualityTokens[t]; drop {
				return
			}
		}
		b.WriteString(t)
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			token.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return b.String()
}
