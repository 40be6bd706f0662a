// SPDX-License-Identifier: MIT

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chanfeed/chanfeed/internal/playlist"
)

func TestBuildSnapshotGroupOrdering(t *testing.T) {
	channels := []playlist.Channel{
		{ID: "url:1", Name: "A", Group: "sports"},
		{ID: "url:2", Name: "B", Group: "News"},
		{ID: "url:3", Name: "C", Group: "Movies"},
		{ID: "url:4", Name: "D", Group: "News"},
	}
	snap := buildSnapshot(channels, nil, nil, "", time.Now())

	assert.Equal(t, []string{"Movies", "News", "sports"}, snap.Groups)
	assert.Len(t, snap.Grouped["News"], 2)
	assert.Len(t, snap.Channels, 4)
}

func TestBuildSnapshotCopiesInputs(t *testing.T) {
	channels := []playlist.Channel{{ID: "url:1", Name: "A", Group: "G"}}
	favorites := []string{"G"}
	snap := buildSnapshot(channels, nil, favorites, "", time.Now())

	channels[0].Name = "mutated"
	favorites[0] = "mutated"
	assert.Equal(t, "A", snap.Channels[0].Name)
	assert.Equal(t, "G", snap.FavoriteGroups[0])
}

func TestSignature(t *testing.T) {
	a := Signature("http://host/list", "http://host/guide")
	assert.Equal(t, a, Signature(" http://host/list ", "http://host/guide\n"))
	assert.NotEqual(t, a, Signature("http://host/list", ""))
	assert.NotEqual(t, a, Signature("http://host/other", "http://host/guide"))

	// The two fields must not be confusable with each other.
	assert.NotEqual(t, Signature("x", ""), Signature("", "x"))
}
