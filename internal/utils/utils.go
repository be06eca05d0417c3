package utils

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

type URLTools struct {
	URL *url.URL
}

func NewURLTools(raw string) (*URLTools, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse url %s: %w", raw, err)
	}

	urlTools := &URLTools{
		URL: u,
	}
	urlTools.normalize()

	return urlTools, nil
}

func (u *URLTools) normalize() {
	u.URL.Fragment = ""
	u.URL.Scheme = strings.ToLower(u.URL.Scheme)
	u.URL.Host = strings.ToLower(u.URL.Host)

	if (u.URL.Scheme == "http" && strings.HasSuffix(u.URL.Host, ":80")) ||
		(u.URL.Scheme == "https" && strings.HasSuffix(u.URL.Host, ":443")) {
		u.URL.Host, _, _ = strings.Cut(u.URL.Host, ":")
	}

	u.URL.Path = strings.TrimRight(u.URL.Path, "/")

	// Punycode-normalize internationalized hosts so the same portal never
	// indexes under two spellings.
	if host := u.URL.Hostname(); host != "" {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != host {
			port := u.URL.Port()
			if port != "" {
				u.URL.Host = ascii + ":" + port
			} else {
				u.URL.Host = ascii
			}
		}
	}
}

func (u *URLTools) DomainIsSame(target *URLTools) bool {
	return u.URL.Hostname() == target.URL.Hostname()
}

// ResolveFullURLString resolves targetURL against u.URL and returns an
// absolute URL.
func (u *URLTools) ResolveFullURLString(targetURL string) (string, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("couldn't parse url %s: %w", targetURL, err)
	}
	resolved := &URLTools{URL: u.URL.ResolveReference(parsed)}
	resolved.normalize()
	return resolved.URL.String(), nil
}

// CanonicalURL returns the normalized string form of raw, or raw unchanged
// when it does not parse.
func CanonicalURL(raw string) string {
	u, err := NewURLTools(raw)
	if err != nil {
		return raw
	}
	return u.URL.String()
}

// NormalizeTitle lower-cases a title and collapses interior whitespace so
// cosmetic differences don't defeat deduplication.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// OpportunityKey is the dedupe key for a discovered opportunity: normalized
// title plus canonical source URL.
func OpportunityKey(title, sourceURL string) string {
	return NormalizeTitle(title) + "|" + CanonicalURL(sourceURL)
}

// looseDateLayouts are the formats portals commonly print deadlines in.
var looseDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ParseLooseDate tries the common portal date formats in order.
func ParseLooseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range looseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
