// SPDX-License-Identifier: MIT

// Package fetch downloads playlist and guide payloads: bounded retry
// with capped backoff, transparent gzip, and coarse progress
// reporting without buffering whole bodies.
package fetch

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chanfeed/chanfeed/internal/log"
	"github.com/chanfeed/chanfeed/internal/metrics"
	"github.com/chanfeed/chanfeed/internal/playlist"
)

// UserAgent is a player-style agent string; several providers reject
// unknown clients outright.
const UserAgent = "VLC/3.0.20 LibVLC/3.0.20"

const (
	defaultAttempts   = 4
	initialBackoff    = 2 * time.Second
	maxBackoff        = 8 * time.Second
	defaultTimeout    = 2 * time.Minute
	maxBodySize       = 100 << 20 // 100 MiB
	progressChunkSize = 256 << 10
)

// ErrEmptyPlaylist marks a download that parsed into zero channels.
// It is retryable exactly like a failed HTTP status.
var ErrEmptyPlaylist = errors.New("playlist produced no channels")

// Progress receives coarse progress updates. Percent is in [0,100]
// when the content length is known and -1 otherwise; values are
// monotonically non-decreasing within one download.
type Progress func(message string, percent int)

// Fetcher downloads over a shared HTTP client.
type Fetcher struct {
	http     *http.Client
	attempts int

	// sleep is replaceable in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Fetcher. client may be nil.
func New(client *http.Client) *Fetcher {
	return NewWithOptions(client, Options{})
}

// Options tune a Fetcher; zero values fall back to defaults.
type Options struct {
	Attempts int
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewWithOptions returns a Fetcher with explicit knobs.
func NewWithOptions(client *http.Client, opts Options) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Fetcher{
		http:     client,
		attempts: opts.Attempts,
		sleep:    opts.Sleep,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playlist downloads and parses a playlist URL. Both a non-success
// HTTP status and a zero-channel parse count as retryable failures;
// after the final attempt the last concrete diagnostic is returned.
func (f *Fetcher) Playlist(ctx context.Context, rawURL string, progress Progress) ([]playlist.Channel, error) {
	logger := log.WithComponentFromContext(ctx, "fetch")

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		channels, err := f.playlistOnce(ctx, rawURL, progress)
		if err == nil {
			metrics.PlaylistFetchAttempts.WithLabelValues("ok").Inc()
			metrics.PlaylistChannels.Set(float64(len(channels)))
			return channels, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrEmptyPlaylist):
			metrics.PlaylistFetchAttempts.WithLabelValues("empty").Inc()
		case errors.As(err, new(*statusError)):
			metrics.PlaylistFetchAttempts.WithLabelValues("http_error").Inc()
		default:
			metrics.PlaylistFetchAttempts.WithLabelValues("network_error").Inc()
		}
		logger.Warn().
			Err(err).
			Str("event", "playlist.attempt_failed").
			Int("attempt", attempt).
			Msg("playlist download attempt failed")
		if attempt == f.attempts {
			break
		}
		if err := f.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return nil, fmt.Errorf("playlist acquisition failed after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) playlistOnce(ctx context.Context, rawURL string, progress Progress) ([]playlist.Channel, error) {
	body, length, err := f.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	counted := &countingReader{r: body, total: length, progress: progress}
	decoded, err := decompress(counted, rawURL)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", redact(rawURL), err)
	}

	channels, err := playlist.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	if len(channels) == 0 {
		return nil, ErrEmptyPlaylist
	}
	counted.finish()
	return channels, nil
}

// Open fetches a URL and returns a transparently-decompressed stream.
// Guide candidates are fetched through this: one shot, no retries.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, _, err := f.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	decoded, err := decompress(body, rawURL)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("decompress %s: %w", redact(rawURL), err)
	}
	return struct {
		io.Reader
		io.Closer
	}{decoded, body}, nil
}

func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", UserAgent)
	res, err := f.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, 0, &statusError{code: res.StatusCode, status: res.Status}
	}
	limited := struct {
		io.Reader
		io.Closer
	}{io.LimitReader(res.Body, maxBodySize), res.Body}
	return limited, res.ContentLength, nil
}

// statusError preserves the last HTTP diagnostic for the caller-facing
// acquisition error.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return "unexpected status " + e.status
}

// decompress peeks at the stream and unwraps gzip when the magic bytes
// or a .gz suffix announce it.
func decompress(r io.Reader, rawURL string) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(2)
	gzipped := len(head) == 2 && head[0] == 0x1f && head[1] == 0x8b
	if !gzipped && !strings.HasSuffix(strings.ToLower(trimQuery(rawURL)), ".gz") {
		return br, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, err
	}
	return gz, nil
}

func trimQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// redact hides credentials embedded in query strings from log output.
func redact(rawURL string) string {
	return trimQuery(rawURL)
}

// countingReader emits coarse progress as bytes flow through it.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	reported int64
	progress Progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.progress != nil && c.read-c.reported >= progressChunkSize {
		c.reported = c.read
		c.progress("downloading playlist", c.percent())
	}
	return n, err
}

func (c *countingReader) percent() int {
	if c.total <= 0 {
		return -1
	}
	pct := int(c.read * 100 / c.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// finish emits the terminal progress update after a successful parse.
func (c *countingReader) finish() {
	if c.progress == nil {
		return
	}
	if c.total > 0 {
		c.progress("playlist downloaded", 100)
	} else {
		c.progress("playlist downloaded", -1)
	}
}
