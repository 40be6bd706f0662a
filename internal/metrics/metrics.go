// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus metrics for the ingestion
// pipeline. Labels stay low-cardinality: no URLs, no profile ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaylistFetchAttempts counts playlist download attempts by outcome
	// (ok, http_error, network_error, empty).
	PlaylistFetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanfeed_playlist_fetch_attempts_total",
		Help: "Total playlist download attempts, by outcome.",
	}, []string{"outcome"})

	// PlaylistChannels records the channel count of the last successful parse.
	PlaylistChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanfeed_playlist_channels",
		Help: "Number of channels in the most recently parsed playlist.",
	})

	// ProviderFallbacks counts provider-API attempts that yielded zero
	// channels and fell through to generic download.
	ProviderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chanfeed_provider_fallbacks_total",
		Help: "Total provider-API acquisitions that fell back to generic download.",
	})

	// GuideCandidateAttempts counts guide-candidate fetches by outcome
	// (ok, empty, error).
	GuideCandidateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanfeed_guide_candidate_attempts_total",
		Help: "Total guide candidate URL attempts, by outcome.",
	}, []string{"outcome"})

	// GuideChannels records how many channels matched guide entries in
	// the last resolution.
	GuideChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanfeed_guide_channels",
		Help: "Number of channels with now/next data after the last guide resolution.",
	})

	// SnapshotLoads counts snapshot loads by source (memory, disk, network).
	SnapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanfeed_snapshot_loads_total",
		Help: "Total snapshot loads, by serving source.",
	}, []string{"source"})

	// SnapshotPersists counts cache-record writes.
	SnapshotPersists = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chanfeed_snapshot_persists_total",
		Help: "Total cache records persisted to the store.",
	})

	// CacheInvalidations counts in-memory cache invalidations by cause
	// (ownership, config, explicit).
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanfeed_cache_invalidations_total",
		Help: "Total in-memory cache invalidations, by cause.",
	}, []string{"cause"})
)
