// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanfeed/chanfeed/internal/fetch"
	"github.com/chanfeed/chanfeed/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const playlistBody = `#EXTM3U
#EXTINF:-1 tvg-id="espn.us" group-title="Sports",ESPN HD
http://host/espn
#EXTINF:-1 group-title="News",World News
http://host/news
`

const guideBody = `<tv>
  <channel id="espn.us"><display-name>ESPN</display-name></channel>
  <programme start="20260115100000 +0000" stop="20260115110000 +0000" channel="espn.us">
    <title>Morning Show</title>
  </programme>
  <programme start="20260115110000 +0000" stop="20260115120000 +0000" channel="espn.us">
    <title>Midday Show</title>
  </programme>
</tv>`

// cfgStub is a mutable ConfigSource/ProfileSource pair.
type cfgStub struct {
	playlistURL string
	guideURL    string
	favorites   []string
	profileID   string
}

func (c *cfgStub) PlaylistURL() string      { return c.playlistURL }
func (c *cfgStub) GuideURL() string         { return c.guideURL }
func (c *cfgStub) FavoriteGroups() []string { return c.favorites }
func (c *cfgStub) ActiveProfileID() string  { return c.profileID }

// countingStore wraps a real store and counts mutations.
type countingStore struct {
	store.Store
	saves   atomic.Int32
	deletes atomic.Int32
}

func (s *countingStore) Save(profileID string, rec *store.Record) error {
	s.saves.Add(1)
	return s.Store.Save(profileID, rec)
}

func (s *countingStore) Delete(profileID string) error {
	s.deletes.Add(1)
	return s.Store.Delete(profileID)
}

type harness struct {
	cfg           *cfgStub
	store         *countingStore
	engine        *Engine
	now           time.Time
	playlistCalls *atomic.Int32
	guideCalls    *atomic.Int32
}

// newHarness starts playlist and guide servers and wires an engine
// with an injected clock and a no-wait fetcher.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		playlistCalls: &atomic.Int32{},
		guideCalls:    &atomic.Int32{},
		now:           time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	playlistSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.playlistCalls.Add(1)
		_, _ = io.WriteString(w, playlistBody)
	}))
	t.Cleanup(playlistSrv.Close)

	guideSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.guideCalls.Add(1)
		_, _ = io.WriteString(w, guideBody)
	}))
	t.Cleanup(guideSrv.Close)

	// Keep-alive connections on the default transport would otherwise
	// trip the leak detector.
	t.Cleanup(func() {
		if tr, ok := http.DefaultTransport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
	})

	h.cfg = &cfgStub{
		playlistURL: playlistSrv.URL,
		guideURL:    guideSrv.URL,
		favorites:   []string{"Sports"},
		profileID:   "profile-a",
	}

	fileStore, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	h.store = &countingStore{Store: fileStore}

	h.engine = New(h.cfg, h.cfg, h.store, Options{
		Fetcher: fetch.NewWithOptions(nil, fetch.Options{
			Sleep: func(context.Context, time.Duration) error { return nil },
		}),
		Now: func() time.Time { return h.now },
	})
	return h
}

func TestLoadSnapshotFullPipeline(t *testing.T) {
	h := newHarness(t)

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	require.Len(t, snap.Channels, 2)
	assert.Equal(t, []string{"News", "Sports"}, snap.Groups)
	assert.Equal(t, []string{"Sports"}, snap.FavoriteGroups)
	assert.Empty(t, snap.GuideWarning)
	assert.Equal(t, h.now, snap.LoadedAt)

	nn, ok := snap.NowNext["epg:espn.us"]
	require.True(t, ok)
	require.NotNil(t, nn.Now)
	assert.Equal(t, "Morning Show", nn.Now.Title)
	require.NotNil(t, nn.Next)
	assert.Equal(t, "Midday Show", nn.Next.Title)

	// First load persists.
	rec, err := h.store.Load("profile-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Signature(h.cfg.playlistURL, h.cfg.guideURL), rec.Signature)
	assert.Equal(t, int32(1), h.store.saves.Load())
}

func TestLoadSnapshotServedFromMemory(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	playlistCalls := h.playlistCalls.Load()
	guideCalls := h.guideCalls.Load()

	// A repeat load within the staleness window touches nothing.
	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Channels, 2)
	assert.Equal(t, playlistCalls, h.playlistCalls.Load())
	assert.Equal(t, guideCalls, h.guideCalls.Load())
	assert.Equal(t, int32(1), h.store.saves.Load())
}

func TestLoadSnapshotStalenessTriggersReload(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	first := h.playlistCalls.Load()

	h.now = h.now.Add(25 * time.Hour)
	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Greater(t, h.playlistCalls.Load(), first)
}

func TestLoadSnapshotBlankPlaylistURL(t *testing.T) {
	h := newHarness(t)
	h.cfg.playlistURL = ""

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Channels)
	assert.Empty(t, snap.Groups)
	assert.Equal(t, []string{"Sports"}, snap.FavoriteGroups)
	assert.Zero(t, h.playlistCalls.Load())
	assert.Zero(t, h.guideCalls.Load())
}

func TestLoadSnapshotProfileSwitchClearsMemory(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), h.playlistCalls.Load())

	// Profile B has no disk record; the load goes to the network.
	h.cfg.profileID = "profile-b"
	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.playlistCalls.Load())

	// Back to A: the disk record satisfies the load without network.
	h.cfg.profileID = "profile-a"
	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.playlistCalls.Load())
	assert.Len(t, snap.Channels, 2)
	require.Contains(t, snap.NowNext, "epg:espn.us")
}

func TestLoadSnapshotConfigChangeInvalidates(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)

	// New playlist URL, same profile: signature mismatch, full reload.
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, playlistBody)
	}))
	defer other.Close()
	h.cfg.playlistURL = other.URL

	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	// The old playlist server is not consulted again.
	assert.Equal(t, int32(1), h.playlistCalls.Load())

	rec, err := h.store.Load("profile-a")
	require.NoError(t, err)
	assert.Equal(t, Signature(other.URL, h.cfg.guideURL), rec.Signature)
}

func TestLoadSnapshotGuideFailureIsWarning(t *testing.T) {
	h := newHarness(t)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	h.cfg.guideURL = broken.URL

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Channels, 2)
	assert.Empty(t, snap.NowNext)
	assert.Contains(t, snap.GuideWarning, "guide unavailable")
}

func TestLoadSnapshotEmptyGuideThrottled(t *testing.T) {
	h := newHarness(t)

	var emptyCalls atomic.Int32
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		emptyCalls.Add(1)
		_, _ = io.WriteString(w, "<tv></tv>")
	}))
	defer empty.Close()
	h.cfg.guideURL = empty.URL

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.NowNext)
	assert.Empty(t, snap.GuideWarning)
	require.Equal(t, int32(1), emptyCalls.Load())

	// Within the throttle window the guide is not re-attempted.
	h.now = h.now.Add(10 * time.Minute)
	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), emptyCalls.Load())

	// Past the window it is.
	h.now = h.now.Add(15 * time.Minute)
	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), emptyCalls.Load())
}

func TestLoadSnapshotForceGuideBypassesThrottle(t *testing.T) {
	h := newHarness(t)

	var emptyCalls atomic.Int32
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		emptyCalls.Add(1)
		_, _ = io.WriteString(w, "<tv></tv>")
	}))
	defer empty.Close()
	h.cfg.guideURL = empty.URL

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), emptyCalls.Load())

	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{ForceGuide: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), emptyCalls.Load())
}

func TestLoadSnapshotForcePlaylistReloads(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), h.playlistCalls.Load())

	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{ForcePlaylist: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.playlistCalls.Load())
	// Forced reload persists again.
	assert.Equal(t, int32(2), h.store.saves.Load())
}

func TestLoadSnapshotAcquisitionFailureFatal(t *testing.T) {
	h := newHarness(t)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	h.cfg.playlistURL = broken.URL

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.Error(t, err)
	var acq *AcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Contains(t, acq.Last.Error(), "502")
}

func TestWarmupFromCacheOnly(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)

	// A fresh engine over the same store serves from disk without any
	// network traffic.
	cold := New(h.cfg, h.cfg, h.store, Options{
		Fetcher: fetch.NewWithOptions(nil, fetch.Options{}),
		Now:     func() time.Time { return h.now },
	})
	playlistCalls := h.playlistCalls.Load()
	guideCalls := h.guideCalls.Load()

	cold.WarmupFromCacheOnly()

	snap, err := cold.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Channels, 2)
	assert.Equal(t, playlistCalls, h.playlistCalls.Load())
	assert.Equal(t, guideCalls, h.guideCalls.Load())
}

func TestInvalidateCache(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)

	h.engine.InvalidateCache()
	assert.Equal(t, int32(1), h.store.deletes.Load())

	rec, err := h.store.Load("profile-a")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The next load goes back to the network.
	_, err = h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.playlistCalls.Load())
}

func TestIsSnapshotStale(t *testing.T) {
	h := newHarness(t)

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.False(t, h.engine.IsSnapshotStale(snap))

	h.now = h.now.Add(25 * time.Hour)
	assert.True(t, h.engine.IsSnapshotStale(snap))

	assert.True(t, h.engine.IsSnapshotStale(nil))
	assert.True(t, h.engine.IsSnapshotStale(&Snapshot{}))
}

func TestProviderFallbackToGenericDownload(t *testing.T) {
	h := newHarness(t)

	// The URL detects as a provider API, but the API answers garbage;
	// a plain GET of the same URL serves a valid playlist.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "" {
			_, _ = io.WriteString(w, `{"user_info": {}}`)
			return
		}
		_, _ = io.WriteString(w, playlistBody)
	}))
	defer srv.Close()
	h.cfg.playlistURL = srv.URL + "/player_api.php?username=u&password=p"
	h.cfg.guideURL = ""

	snap, err := h.engine.LoadSnapshot(context.Background(), LoadOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Channels, 2)
}
