// SPDX-License-Identifier: MIT

// Package provider inspects playlist URLs and recognizes provider API
// endpoints with embedded credentials.
package provider

import (
	"net/url"
	"strings"
)

// apiFilename is the provider-API endpoint filename whose presence in
// the URL path marks an Xtream-Codes-style source.
const apiFilename = "player_api.php"

// XtreamAPI describes a detected provider API source.
type XtreamAPI struct {
	Base     string // scheme://host[:port][/prefix], no trailing slash
	Username string
	Password string
}

// Detect reports whether playlistURL addresses a provider API: the
// path ends in the API filename and carries non-blank username and
// password query parameters. Anything else is a generic playlist.
func Detect(playlistURL string) (XtreamAPI, bool) {
	u, err := url.Parse(strings.TrimSpace(playlistURL))
	if err != nil || u.Host == "" {
		return XtreamAPI{}, false
	}
	if !strings.HasSuffix(u.Path, "/"+apiFilename) && u.Path != apiFilename {
		return XtreamAPI{}, false
	}
	q := u.Query()
	user := strings.TrimSpace(q.Get("username"))
	pass := strings.TrimSpace(q.Get("password"))
	if user == "" || pass == "" {
		return XtreamAPI{}, false
	}
	base := u.Scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/"+apiFilename)
	return XtreamAPI{
		Base:     strings.TrimRight(base, "/"),
		Username: user,
		Password: pass,
	}, true
}

// GuideCandidates returns the ordered guide-URL candidates for a
// provider API source without a configured guide URL: a previously
// successful derived URL first (when it still belongs to the current
// base), then the canonical guide endpoint, then two endpoint shapes
// observed on older panels. Provider APIs are not self-describing
// about guide availability, so callers try these in order.
func GuideCandidates(api XtreamAPI, lastGood string) []string {
	creds := "username=" + url.QueryEscape(api.Username) + "&password=" + url.QueryEscape(api.Password)
	derived := []string{
		api.Base + "/xmltv.php?" + creds,
		api.Base + "/epg.php?" + creds,
		api.Base + "/get.php?" + creds + "&type=epg",
	}
	if lastGood == "" || !strings.HasPrefix(lastGood, api.Base) {
		return derived
	}
	out := []string{lastGood}
	for _, c := range derived {
		if c != lastGood {
			out = append(out, c)
		}
	}
	return out
}
