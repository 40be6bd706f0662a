// SPDX-License-Identifier: MIT

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want XtreamAPI
		ok   bool
	}{
		{
			name: "plain api url",
			url:  "http://host.example:8080/player_api.php?username=u&password=p",
			want: XtreamAPI{Base: "http://host.example:8080", Username: "u", Password: "p"},
			ok:   true,
		},
		{
			name: "path prefix preserved",
			url:  "https://host.example/panel/player_api.php?username=u&password=p",
			want: XtreamAPI{Base: "https://host.example/panel", Username: "u", Password: "p"},
			ok:   true,
		},
		{
			name: "missing password",
			url:  "http://host.example/player_api.php?username=u",
			ok:   false,
		},
		{
			name: "blank username",
			url:  "http://host.example/player_api.php?username=%20&password=p",
			ok:   false,
		},
		{
			name: "wrong filename",
			url:  "http://host.example/get.php?username=u&password=p",
			ok:   false,
		},
		{
			name: "filename as substring only",
			url:  "http://host.example/not_player_api.php?username=u&password=p",
			ok:   false,
		},
		{
			name: "not a url",
			url:  "://bad",
			ok:   false,
		},
		{
			name: "relative path",
			url:  "player_api.php?username=u&password=p",
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Detect(tc.url)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestGuideCandidatesOrder(t *testing.T) {
	api := XtreamAPI{Base: "http://host.example", Username: "u", Password: "p"}

	got := GuideCandidates(api, "")
	require.Len(t, got, 3)
	assert.Equal(t, "http://host.example/xmltv.php?username=u&password=p", got[0])
	assert.Equal(t, "http://host.example/epg.php?username=u&password=p", got[1])
	assert.Equal(t, "http://host.example/get.php?username=u&password=p&type=epg", got[2])
}

func TestGuideCandidatesLastGoodFirst(t *testing.T) {
	api := XtreamAPI{Base: "http://host.example", Username: "u", Password: "p"}
	lastGood := "http://host.example/epg.php?username=u&password=p"

	got := GuideCandidates(api, lastGood)
	require.Len(t, got, 3)
	assert.Equal(t, lastGood, got[0])
	// The promoted candidate is not repeated.
	for _, c := range got[1:] {
		assert.NotEqual(t, lastGood, c)
	}
}

func TestGuideCandidatesLastGoodForeignBase(t *testing.T) {
	api := XtreamAPI{Base: "http://host.example", Username: "u", Password: "p"}

	got := GuideCandidates(api, "http://other.example/xmltv.php?username=u&password=p")
	require.Len(t, got, 3)
	assert.Equal(t, "http://host.example/xmltv.php?username=u&password=p", got[0])
}

func TestGuideCandidatesEscapesCredentials(t *testing.T) {
	api := XtreamAPI{Base: "http://host.example", Username: "user name", Password: "p&ss"}

	got := GuideCandidates(api, "")
	assert.Contains(t, got[0], "username=user+name")
	assert.Contains(t, got[0], "password=p%26ss")
}
