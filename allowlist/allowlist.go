// Package allowlist decides whether the document a CSP report was raised on
// belongs to a trusted origin.
package allowlist

import (
	"net/url"
	"strings"
)

// DefaultAllowSpecs is used when neither the CLI nor the config file
// provides any allow rules.
var DefaultAllowSpecs = []string{
	"suffix=.gov.uk,.cloudapps.digital,.g7uk.org,.ukcop26.org",
	"domain=ukcop26.org",
}

// AllowList holds the exact hostnames and hostname suffixes reports may
// originate from. It is immutable after construction and safe for
// concurrent use.
type AllowList struct {
	domains  map[string]string // hostname -> raw rule
	suffixes []suffixEntry
}

type suffixEntry struct {
	suffix string
	raw    string
}

// New creates an AllowList from parsed rules.
func New(rules []Rule) *AllowList {
	a := &AllowList{
		domains: make(map[string]string),
	}
	for _, r := range rules {
		for _, d := range r.Domains {
			a.domains[strings.ToLower(d)] = r.Raw
		}
		for _, s := range r.Suffixes {
			a.suffixes = append(a.suffixes, suffixEntry{suffix: strings.ToLower(s), raw: r.Raw})
		}
	}
	return a
}

// IsAllowed reports whether documentURI is an absolute URL whose hostname
// is allow-listed.
func (a *AllowList) IsAllowed(documentURI string) bool {
	_, ok := a.MatchingRule(documentURI)
	return ok
}

// MatchingRule returns the raw rule that allowed documentURI.
func (a *AllowList) MatchingRule(documentURI string) (string, bool) {
	host := hostname(documentURI)
	if host == "" {
		return "", false
	}

	if raw, ok := a.domains[host]; ok {
		return raw, true
	}
	for _, s := range a.suffixes {
		if strings.HasSuffix(host, s.suffix) {
			return s.raw, true
		}
	}
	return "", false
}

// Empty reports whether the allow-list would reject every origin.
func (a *AllowList) Empty() bool {
	return len(a.domains) == 0 && len(a.suffixes) == 0
}

// hostname returns the lower-cased host of an absolute URL, or "" when
// there is none. A bare "www.gov.uk" parses as a path and has no host.
func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
