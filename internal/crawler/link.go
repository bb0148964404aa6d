package crawler

import (
	"net/url"
	"strings"
)

// LinkKey returns the identity of an article link for deduplication. Scheme
// and host are lowercased, default ports and fragments dropped, and query
// parameters sorted. Links that do not parse are returned trimmed.
func LinkKey(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}
