// Package cspreport decodes browser Content-Security-Policy violation
// reports and rewrites their fields into one canonical key scheme.
package cspreport

import "strings"

// Prefix marks canonical keys so they cannot collide with audit record
// fields when the two are merged.
const Prefix = "csp_"

// DocumentURLKey is the canonical key for the document the violation
// happened on. Legacy reports call it "document-uri", modern ones
// "documentURL".
const DocumentURLKey = Prefix + "documentURL"

// ModernDocumentURLKey is the document URL key as Report-To style reports
// send it, before normalization.
const ModernDocumentURLKey = "documentURL"

// Canonical is a report whose keys have been normalized and prefixed.
type Canonical map[string]any

// DocumentURL returns the raw document URL value, if any.
func (c Canonical) DocumentURL() (any, bool) {
	v, ok := c[DocumentURLKey]
	return v, ok
}

// Normalize rewrites every key of raw into the canonical scheme. Values
// are passed through untouched.
//
// Only the first hyphenated segment of a key is camel-cased, so
// "script-sample-x" becomes "scriptSample-x". Downstream consumers rely on
// that exact output. Keys are prefixed unconditionally; normalizing an
// already canonical report prefixes it again.
func Normalize(raw map[string]any) Canonical {
	out := make(Canonical, len(raw))
	for k, v := range raw {
		out[NormalizeKey(k)] = v
	}
	return out
}

// NormalizeKey applies the canonical key transform to a single key.
func NormalizeKey(k string) string {
	k = strings.ReplaceAll(k, "-uri", "URL")

	// All occurrences of the first "-x" pair are replaced, then no more.
	if i := firstHyphenLower(k); i >= 0 {
		pair := k[i : i+2]
		k = strings.ReplaceAll(k, pair, strings.ToUpper(pair[1:]))
	}

	return Prefix + k
}

func firstHyphenLower(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '-' && s[i+1] >= 'a' && s[i+1] <= 'z' {
			return i
		}
	}
	return -1
}
