// SPDX-License-Identifier: MIT

package guide

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Program is one broadcast slot from the guide.
type Program struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start_utc"`
	End         time.Time `json:"end_utc"`
}

// NowNext is the per-channel projection of the guide at the evaluation
// instant.
type NowNext struct {
	Now  *Program `json:"now,omitempty"`
	Next *Program `json:"next,omitempty"`
}

type xmltvChannel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   string `xml:"title"`
	Desc    string `xml:"desc"`
}

// Resolve pull-parses guide XML in a single token walk and folds every
// matched broadcast entry into the per-channel now/next pair. Channel
// declarations register their display-name aliases as they are seen;
// programme entries resolve through idx. The document is never
// materialized as a tree.
func Resolve(r io.Reader, idx *Index, eval time.Time) (map[string]NowNext, error) {
	dec := xml.NewDecoder(r)
	// No entity expansion: guide feeds are untrusted input.
	dec.Entity = map[string]string{}

	aliases := make(map[string][]string)
	acc := make(map[string]*NowNext)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse guide: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "channel":
			var ch xmltvChannel
			if err := dec.DecodeElement(&ch, &se); err != nil {
				continue
			}
			if ch.ID == "" {
				continue
			}
			for _, name := range ch.DisplayName {
				if name = strings.TrimSpace(name); name != "" {
					aliases[ch.ID] = append(aliases[ch.ID], name)
				}
			}
		case "programme":
			var p xmltvProgramme
			if err := dec.DecodeElement(&p, &se); err != nil {
				continue
			}
			channelID, ok := idx.Resolve(p.Channel, aliases[p.Channel])
			if !ok {
				continue
			}
			start, err := ParseTime(p.Start)
			if err != nil {
				continue
			}
			end, err := ParseTime(p.Stop)
			if err != nil {
				continue
			}
			if !end.After(start) {
				continue
			}
			entry := Program{
				Title:       strings.TrimSpace(p.Title),
				Description: strings.TrimSpace(p.Desc),
				Start:       start,
				End:         end,
			}
			nn := acc[channelID]
			if nn == nil {
				nn = &NowNext{}
				acc[channelID] = nn
			}
			fold(nn, entry, eval)
		}
	}

	out := make(map[string]NowNext, len(acc))
	for id, nn := range acc {
		// Channels whose entries are all in the past carry no guide
		// information at this instant.
		if nn.Now == nil && nn.Next == nil {
			continue
		}
		out[id] = *nn
	}
	return out, nil
}

// fold applies the tie-break rules: among live entries the latest
// start wins, among upcoming entries the earliest start wins.
func fold(nn *NowNext, p Program, eval time.Time) {
	live := !p.Start.After(eval) && p.End.After(eval)
	switch {
	case live:
		if nn.Now == nil || p.Start.After(nn.Now.Start) {
			prog := p
			nn.Now = &prog
		}
	case p.Start.After(eval):
		if nn.Next == nil || p.Start.Before(nn.Next.Start) {
			prog := p
			nn.Next = &prog
		}
	}
}

const (
	timeLayoutOffset   = "20060102150405 -0700"
	timeLayoutCompact  = "20060102150405-0700"
	timeLayoutNoOffset = "20060102150405"
)

// ParseTime parses the guide's compact timestamp format. The offset
// suffix is optional; without it the timestamp is interpreted in the
// local timezone.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(timeLayoutOffset, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(timeLayoutCompact, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(timeLayoutNoOffset, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
