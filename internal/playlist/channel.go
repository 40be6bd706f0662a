// SPDX-License-Identifier: MIT

// Package playlist parses the M3U-like playlist dialect into an
// ordered, deduplicated set of channels.
package playlist

import "strings"

// DefaultGroup is assigned when a channel declares no group-title.
const DefaultGroup = "Uncategorized"

// Channel is one playable entry from a playlist. Channels are created
// fresh on every parse and never mutated afterwards.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Group   string `json:"group"`
	LogoURL string `json:"logo_url,omitempty"`
	GuideID string `json:"guide_id,omitempty"`
	// Raw is the original #EXTINF descriptor line. The guide matcher
	// recovers additional hint attributes (tvg-name) from it later.
	Raw string `json:"raw,omitempty"`
}

// ChannelID derives the stable channel identity: the declared guide id
// when present, the stream URL otherwise.
func ChannelID(guideID, streamURL string) string {
	if id := NormalizeGuideID(guideID); id != "" {
		return "epg:" + id
	}
	return "url:" + streamURL
}

// NormalizeGuideID lower-cases and trims a declared guide id so that
// differently-cased declarations collapse onto one identity.
func NormalizeGuideID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Attr extracts a key="value" attribute from an EXTINF descriptor
// line. Missing attributes yield the empty string, never an error.
func Attr(line, name string) string {
	prefix := name + `="`
	i := strings.Index(line, prefix)
	if i < 0 {
		return ""
	}
	i += len(prefix)
	j := strings.Index(line[i:], `"`)
	if j < 0 {
		return ""
	}
	return line[i : i+j]
}
