// SPDX-License-Identifier: MIT

// Package engine owns the ingestion lifecycle: ownership of the
// in-memory caches, staleness policy, disk persistence, and the
// playlist/guide acquisition pipeline behind one serialized entry
// point.
package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/chanfeed/chanfeed/internal/fetch"
	"github.com/chanfeed/chanfeed/internal/guide"
	"github.com/chanfeed/chanfeed/internal/log"
	"github.com/chanfeed/chanfeed/internal/metrics"
	"github.com/chanfeed/chanfeed/internal/playlist"
	"github.com/chanfeed/chanfeed/internal/provider"
	"github.com/chanfeed/chanfeed/internal/store"
	"github.com/chanfeed/chanfeed/internal/xtream"
)

const (
	// playlistTTL is how long a parsed channel set is served from
	// memory before a non-forced load re-acquires it.
	playlistTTL = 24 * time.Hour

	// guideRetryWindow throttles guide re-resolution after an
	// empty-result attempt. Providers without a guide would otherwise
	// be hit on every load.
	guideRetryWindow = 20 * time.Minute
)

// ConfigSource supplies the active playlist/guide configuration.
// Blank strings mean "unset".
type ConfigSource interface {
	PlaylistURL() string
	GuideURL() string
	FavoriteGroups() []string
}

// ProfileSource supplies the active profile id, used for cache
// ownership and disk-record keying.
type ProfileSource interface {
	ActiveProfileID() string
}

// LoadOptions control a single LoadSnapshot call.
type LoadOptions struct {
	ForcePlaylist bool
	ForceGuide    bool
}

// AcquisitionError is the single fatal failure mode of LoadSnapshot:
// playlist acquisition failed after all retries and fallbacks. It
// wraps the last concrete diagnostic.
type AcquisitionError struct {
	Last error
}

func (e *AcquisitionError) Error() string { return "acquire playlist: " + e.Last.Error() }
func (e *AcquisitionError) Unwrap() error { return e.Last }

// Options configure an Engine.
type Options struct {
	HTTPClient *http.Client     // shared transport for provider API calls
	Fetcher    *fetch.Fetcher   // overridable in tests
	Now        func() time.Time // clock injection for tests
}

// Engine serializes every mutating operation behind mu, so
// overlapping callers never race on the shared memory or the store.
type Engine struct {
	cfg      ConfigSource
	profiles ProfileSource
	store    store.Store
	fetcher  *fetch.Fetcher
	http     *http.Client
	now      func() time.Time

	flight singleflight.Group

	mu sync.Mutex
	// Everything below is guarded by mu.
	ownerProfile string
	ownerSig     string

	channels          []playlist.Channel
	nowNext           map[string]guide.NowNext
	playlistLoadedAt  time.Time
	lastGoodGuideURL  string
	lastEmptyGuideRun time.Time
	diskHadRecord     bool
}

// New wires an Engine from its collaborators.
func New(cfg ConfigSource, profiles ProfileSource, st store.Store, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.New(opts.HTTPClient)
	}
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		store:    st,
		fetcher:  opts.Fetcher,
		http:     opts.HTTPClient,
		now:      opts.Now,
	}
}

// LoadSnapshot is the primary entry point. Only playlist acquisition
// failure is fatal; guide failures degrade into Snapshot.GuideWarning
// and a blank playlist URL short-circuits to an empty snapshot.
func (e *Engine) LoadSnapshot(ctx context.Context, opts LoadOptions, progress fetch.Progress) (*Snapshot, error) {
	if !opts.ForcePlaylist && !opts.ForceGuide {
		// Identical concurrent non-forced loads collapse onto one
		// execution; they would only queue on the mutex otherwise.
		v, err, _ := e.flight.Do("load", func() (any, error) {
			return e.loadSnapshot(ctx, opts, progress)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Snapshot), nil
	}
	return e.loadSnapshot(ctx, opts, progress)
}

func (e *Engine) loadSnapshot(ctx context.Context, opts LoadOptions, progress fetch.Progress) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "engine")

	playlistURL := e.cfg.PlaylistURL()
	guideURL := e.cfg.GuideURL()
	profile := e.profiles.ActiveProfileID()
	sig := Signature(playlistURL, guideURL)

	e.adoptOwnerLocked(profile, sig)

	if playlistURL == "" {
		return buildSnapshot(nil, nil, e.cfg.FavoriteGroups(), "", e.now()), nil
	}

	served := "memory"
	if e.channels == nil {
		e.hydrateLocked(profile, sig, logger)
		if e.channels != nil {
			served = "disk"
		}
	}

	playlistReloaded := false
	if e.channels == nil || opts.ForcePlaylist || e.now().Sub(e.playlistLoadedAt) > playlistTTL {
		served = "network"
		channels, err := e.acquirePlaylist(ctx, playlistURL, progress, logger)
		if err != nil {
			return nil, &AcquisitionError{Last: err}
		}
		e.channels = channels
		e.playlistLoadedAt = e.now()
		playlistReloaded = true
	}
	metrics.SnapshotLoads.WithLabelValues(served).Inc()
	metrics.PlaylistChannels.Set(float64(len(e.channels)))

	warning, guideFresh := e.resolveGuideLocked(ctx, opts, playlistURL, guideURL, progress, logger)

	e.persistLocked(profile, sig, playlistReloaded, guideFresh, logger)

	if progress != nil {
		progress("ready", 100)
	}
	return buildSnapshot(e.channels, e.nowNext, e.cfg.FavoriteGroups(), warning, e.playlistLoadedAt), nil
}

// adoptOwnerLocked re-establishes cache ownership. A differing profile
// or configuration signature clears all in-memory state so one
// profile's playlist can never leak into another's view.
func (e *Engine) adoptOwnerLocked(profile, sig string) {
	if e.ownerProfile == profile && e.ownerSig == sig {
		return
	}
	if e.ownerProfile != "" || e.ownerSig != "" {
		cause := "ownership"
		if e.ownerProfile == profile {
			cause = "config"
		}
		metrics.CacheInvalidations.WithLabelValues(cause).Inc()
	}
	e.ownerProfile = profile
	e.ownerSig = sig
	e.clearMemoryLocked()
}

func (e *Engine) clearMemoryLocked() {
	e.channels = nil
	e.nowNext = nil
	e.playlistLoadedAt = time.Time{}
	e.lastGoodGuideURL = ""
	e.lastEmptyGuideRun = time.Time{}
	e.diskHadRecord = false
}

// hydrateLocked fills memory from the on-disk record. Records with a
// mismatched signature or zero channels are treated as absent.
func (e *Engine) hydrateLocked(profile, sig string, logger zerolog.Logger) {
	rec, err := e.store.Load(profile)
	if err != nil {
		logger.Warn().Err(err).Str("event", "cache.load_failed").Msg("disk record unreadable, treating as absent")
		return
	}
	if rec == nil || rec.Signature != sig || len(rec.Channels) == 0 {
		return
	}
	e.channels = rec.Channels
	if len(rec.NowNext) > 0 {
		e.nowNext = rec.NowNext
	}
	e.playlistLoadedAt = rec.LoadedAt
	e.diskHadRecord = true
	logger.Info().
		Str("event", "cache.hydrated").
		Int("channels", len(rec.Channels)).
		Time("loaded_at", rec.LoadedAt).
		Msg("memory hydrated from disk record")
}

// acquirePlaylist tries the provider API first when the URL carries
// embedded credentials, then falls through to generic download. The
// chain is an ordered strategy list: first non-empty result wins.
func (e *Engine) acquirePlaylist(ctx context.Context, playlistURL string, progress fetch.Progress, logger zerolog.Logger) ([]playlist.Channel, error) {
	if api, ok := provider.Detect(playlistURL); ok {
		if progress != nil {
			progress("contacting provider", -1)
		}
		channels, err := xtream.New(api, e.http).Channels(ctx)
		if err == nil && len(channels) > 0 {
			return channels, nil
		}
		if err != nil {
			logger.Warn().Err(err).Str("event", "provider.failed").Msg("provider API failed, trying generic download")
		} else {
			logger.Warn().Str("event", "provider.empty").Msg("provider API returned no channels, trying generic download")
		}
		metrics.ProviderFallbacks.Inc()
	}
	if progress != nil {
		progress("downloading playlist", -1)
	}
	return e.fetcher.Playlist(ctx, playlistURL, progress)
}

// resolveGuideLocked runs the guide stage. It returns a user-facing
// warning when resolution ended in an error, and whether a fresh
// result landed in memory during this call. Guide failures are never
// fatal.
func (e *Engine) resolveGuideLocked(ctx context.Context, opts LoadOptions, playlistURL, guideURL string, progress fetch.Progress, logger zerolog.Logger) (warning string, fresh bool) {
	if opts.ForceGuide {
		e.nowNext = nil
	}
	if e.nowNext != nil {
		return "", false
	}
	if !opts.ForceGuide && !e.lastEmptyGuideRun.IsZero() && e.now().Sub(e.lastEmptyGuideRun) < guideRetryWindow {
		return "", false
	}

	candidates := e.guideCandidates(playlistURL, guideURL)
	if len(candidates) == 0 {
		return "", false
	}
	if progress != nil {
		progress("loading guide", -1)
	}

	idx := guide.NewIndex(e.channels)
	eval := e.now()
	var lastErr error
	for i, candidate := range candidates {
		nowNext, err := e.resolveCandidate(ctx, candidate, idx, eval)
		if err != nil {
			lastErr = err
			metrics.GuideCandidateAttempts.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Str("event", "guide.candidate_failed").Int("candidate", i).Msg("guide candidate failed")
			continue
		}
		if len(nowNext) > 0 {
			metrics.GuideCandidateAttempts.WithLabelValues("ok").Inc()
			metrics.GuideChannels.Set(float64(len(nowNext)))
			e.nowNext = nowNext
			e.lastGoodGuideURL = candidate
			logger.Info().
				Str("event", "guide.resolved").
				Int("channels", len(nowNext)).
				Msg("guide resolved")
			return "", true
		}
		// An empty but well-formed document is a terminal answer for
		// this candidate, not an error.
		metrics.GuideCandidateAttempts.WithLabelValues("empty").Inc()
		lastErr = nil
	}

	e.lastEmptyGuideRun = e.now()
	if lastErr != nil {
		return "guide unavailable: " + lastErr.Error(), false
	}
	return "", false
}

// guideCandidates returns the ordered guide URLs for this
// configuration: the configured URL when set, otherwise derived
// provider endpoints.
func (e *Engine) guideCandidates(playlistURL, guideURL string) []string {
	if guideURL != "" {
		return []string{guideURL}
	}
	if api, ok := provider.Detect(playlistURL); ok {
		return provider.GuideCandidates(api, e.lastGoodGuideURL)
	}
	return nil
}

func (e *Engine) resolveCandidate(ctx context.Context, candidate string, idx *guide.Index, eval time.Time) (map[string]guide.NowNext, error) {
	body, err := e.fetcher.Open(ctx, candidate)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return guide.Resolve(body, idx, eval)
}

// persistLocked writes the current memory to disk when a reload
// happened, the disk record was absent, or the guide was freshly
// resolved within this call.
func (e *Engine) persistLocked(profile, sig string, playlistReloaded, guideFresh bool, logger zerolog.Logger) {
	if !playlistReloaded && e.diskHadRecord && !guideFresh {
		return
	}
	rec := &store.Record{
		Channels:  e.channels,
		NowNext:   e.nowNext,
		LoadedAt:  e.playlistLoadedAt,
		Signature: sig,
	}
	if err := e.store.Save(profile, rec); err != nil {
		logger.Warn().Err(err).Str("event", "cache.persist_failed").Msg("failed to persist cache record")
		return
	}
	metrics.SnapshotPersists.Inc()
	e.diskHadRecord = true
}

// WarmupFromCacheOnly hydrates memory strictly from the disk record.
// It never performs network I/O, so it can run eagerly at process
// start.
func (e *Engine) WarmupFromCacheOnly() {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.WithComponent("engine")
	profile := e.profiles.ActiveProfileID()
	sig := Signature(e.cfg.PlaylistURL(), e.cfg.GuideURL())
	e.adoptOwnerLocked(profile, sig)
	if e.channels == nil {
		e.hydrateLocked(profile, sig, logger)
	}
}

// IsSnapshotStale reports whether a snapshot has outlived the playlist
// staleness window.
func (e *Engine) IsSnapshotStale(s *Snapshot) bool {
	if s == nil || s.LoadedAt.IsZero() {
		return true
	}
	return e.now().Sub(s.LoadedAt) > playlistTTL
}

// InvalidateCache drops the in-memory caches and removes the current
// profile's disk record. The next load re-acquires everything.
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()

	profile := e.profiles.ActiveProfileID()
	e.clearMemoryLocked()
	metrics.CacheInvalidations.WithLabelValues("explicit").Inc()
	if err := e.store.Delete(profile); err != nil {
		l := log.WithComponent("engine")
		l.Warn().Err(err).Str("event", "cache.delete_failed").Msg("failed to delete disk record")
	}
}
