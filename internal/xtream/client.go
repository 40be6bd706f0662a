// SPDX-License-Identifier: MIT

// Package xtream speaks the Xtream-Codes-style provider JSON API.
package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chanfeed/chanfeed/internal/fetch"
	"github.com/chanfeed/chanfeed/internal/log"
	"github.com/chanfeed/chanfeed/internal/playlist"
	"github.com/chanfeed/chanfeed/internal/provider"
)

const (
	requestTimeout = 30 * time.Second

	// Providers rate-limit aggressively; space our API calls out.
	callInterval = 200 * time.Millisecond
)

// Client calls a single provider's category and live-stream listings.
type Client struct {
	api     provider.XtreamAPI
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a client for the detected provider API. httpClient may
// be nil, in which case a client with a sane timeout is used.
func New(api provider.XtreamAPI, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		api:     api,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(callInterval), 1),
	}
}

// flexID tolerates provider panels that encode ids as JSON numbers or
// strings interchangeably.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexID(v)
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexID(strconv.FormatInt(int64(v), 10))
	}
	return nil
}

type Category struct {
	CategoryID   flexID `json:"category_id"`
	CategoryName string `json:"category_name"`
}

type Stream struct {
	StreamID     flexID `json:"stream_id"`
	Name         string `json:"name"`
	EPGChannelID flexID `json:"epg_channel_id"`
	StreamIcon   string `json:"stream_icon"`
	CategoryID   flexID `json:"category_id"`
}

// LiveCategories fetches the category listing as an id -> name map.
func (c *Client) LiveCategories(ctx context.Context) (map[string]string, error) {
	var cats []Category
	if err := c.get(ctx, "get_live_categories", &cats); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cats))
	for _, cat := range cats {
		if cat.CategoryID != "" && cat.CategoryName != "" {
			out[string(cat.CategoryID)] = cat.CategoryName
		}
	}
	return out, nil
}

// LiveStreams fetches the raw live-stream listing.
func (c *Client) LiveStreams(ctx context.Context) ([]Stream, error) {
	var streams []Stream
	if err := c.get(ctx, "get_live_streams", &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// Channels joins the live-stream listing with the category listing and
// synthesizes one channel per stream. A category fetch failure is not
// fatal; unmatched categories fall back to the default group. The
// result may be empty, which callers treat as a signal to fall through
// to generic playlist acquisition.
func (c *Client) Channels(ctx context.Context) ([]playlist.Channel, error) {
	logger := log.WithComponentFromContext(ctx, "xtream")

	streams, err := c.LiveStreams(ctx)
	if err != nil {
		return nil, err
	}

	cats, err := c.LiveCategories(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("event", "xtream.categories_failed").Msg("category listing unavailable, grouping defaults apply")
		cats = nil
	}

	channels := make([]playlist.Channel, 0, len(streams))
	seen := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		sid := string(s.StreamID)
		if sid == "" {
			continue
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "Channel " + sid
		}
		group := cats[string(s.CategoryID)]
		if group == "" {
			group = playlist.DefaultGroup
		}
		streamURL := c.StreamURL(sid)
		ch := playlist.Channel{
			ID:      playlist.ChannelID(string(s.EPGChannelID), streamURL),
			Name:    name,
			Group:   group,
			LogoURL: s.StreamIcon,
			GuideID: string(s.EPGChannelID),
		}
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		channels = append(channels, ch)
	}

	logger.Info().
		Str("event", "xtream.channels").
		Int("streams", len(streams)).
		Int("channels", len(channels)).
		Msg("provider listing synthesized")
	return channels, nil
}

// StreamURL builds the playback URL for a live stream id.
func (c *Client) StreamURL(streamID string) string {
	return c.api.Base + "/" + url.PathEscape(c.api.Username) + "/" + url.PathEscape(c.api.Password) + "/" + url.PathEscape(streamID)
}

func (c *Client) get(ctx context.Context, action string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.api.Base + "/player_api.php?username=" + url.QueryEscape(c.api.Username) +
		"&password=" + url.QueryEscape(c.api.Password) + "&action=" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", action, res.Status)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxListingSize))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", action, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", action, err)
	}
	return nil
}

// maxListingSize caps a single API response at 64 MiB.
const maxListingSize = 64 << 20
