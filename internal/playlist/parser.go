// SPDX-License-Identifier: MIT

package playlist

import (
	"bufio"
	"io"
	"strings"
)

const (
	extinfPrefix = "#EXTINF:"

	// maxLineSize caps a single playlist line at 1 MiB so a malformed
	// feed cannot blow up the scanner buffer.
	maxLineSize = 1 << 20
)

// Parse scans playlist text in a single left-to-right pass. An EXTINF
// line is held as pending metadata until the next stream URL consumes
// it; other comment lines are skipped. The result is deduplicated by
// channel id, first occurrence wins, order preserved.
func Parse(r io.Reader) ([]Channel, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)

	var (
		channels []Channel
		seen     = make(map[string]struct{})
		pending  string
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, extinfPrefix):
			pending = line
		case strings.HasPrefix(line, "#"):
			continue
		default:
			ch := buildChannel(pending, line)
			pending = ""
			if _, dup := seen[ch.ID]; dup {
				continue
			}
			seen[ch.ID] = struct{}{}
			channels = append(channels, ch)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return channels, nil
}

func buildChannel(extinf, streamURL string) Channel {
	ch := Channel{
		Name:    displayName(extinf),
		Group:   strings.TrimSpace(Attr(extinf, "group-title")),
		LogoURL: Attr(extinf, "tvg-logo"),
		GuideID: Attr(extinf, "tvg-id"),
		Raw:     extinf,
	}
	ch.ID = ChannelID(ch.GuideID, streamURL)
	if ch.Group == "" {
		ch.Group = DefaultGroup
	}
	if ch.Name == "" {
		ch.Name = streamURL
	}
	return ch
}

// displayName returns the text after the comma that follows the last
// quoted attribute. Scanning from the final quote keeps commas inside
// attribute values from truncating the name.
func displayName(extinf string) string {
	if extinf == "" {
		return ""
	}
	rest := extinf
	if i := strings.LastIndex(extinf, `"`); i >= 0 {
		rest = extinf[i+1:]
	}
	if j := strings.Index(rest, ","); j >= 0 {
		return strings.TrimSpace(rest[j+1:])
	}
	return ""
}
