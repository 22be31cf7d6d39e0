package audit

import (
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Decision is the outcome of processing one report.
type Decision string

const (
	Allowed Decision = "allowed"
	Blocked Decision = "blocked"
)

// StatusBlocked is returned to the browser for every rejected report.
const StatusBlocked = 406

// Record keys, following the Splunk web CIM:
// https://docs.splunk.com/Documentation/CIM/latest/User/Web
const (
	KeyAction          = "action"
	KeyBytes           = "bytes"
	KeyBytesIn         = "bytes_in"
	KeyBytesOut        = "bytes_out"
	KeyDest            = "dest"
	KeyError           = "error"
	KeyHTTPContentType = "http_content_type"
	KeyHTTPMethod      = "http_method"
	KeyHTTPReferrer    = "http_referrer"
	KeyHTTPUserAgent   = "http_user_agent"
	KeySrc             = "src"
	KeySrcCountry      = "src_country"
	KeyStatus          = "status"
	KeyURL             = "url"
	KeyXForwardedFor   = "x_forwarded_for"
)

// Record is the audit entry for a single report request. Empty strings
// stand for absent values and are emitted as null.
type Record struct {
	Time     time.Time
	Decision Decision

	Bytes    int
	BytesIn  int
	BytesOut int

	Dest            string
	HTTPContentType string
	HTTPMethod      string
	HTTPReferrer    string
	HTTPUserAgent   string
	Src             string
	SrcCountry      string
	URL             string
	XForwardedFor   string

	Error  string
	Status int

	// Report holds the canonical report fields. It is only set on allowed
	// records.
	Report map[string]any
}

// Allowed reports whether the record accepted the report.
func (r Record) Allowed() bool {
	return r.Decision == Allowed
}

type field struct {
	key   string
	value any
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// fields flattens the record in a stable order. Report fields come last,
// sorted by key.
func (r Record) fields() []field {
	out := []field{
		{KeyAction, string(r.Decision)},
		{KeyBytes, r.Bytes},
		{KeyBytesIn, r.BytesIn},
		{KeyBytesOut, r.BytesOut},
		{KeyDest, nullable(r.Dest)},
		{KeyError, nullable(r.Error)},
		{KeyHTTPContentType, nullable(r.HTTPContentType)},
		{KeyHTTPMethod, nullable(r.HTTPMethod)},
		{KeyHTTPReferrer, nullable(r.HTTPReferrer)},
		{KeyHTTPUserAgent, nullable(r.HTTPUserAgent)},
		{KeySrc, nullable(r.Src)},
		{KeyStatus, r.Status},
		{KeyURL, nullable(r.URL)},
		{KeyXForwardedFor, nullable(r.XForwardedFor)},
	}
	if r.SrcCountry != "" {
		out = append(out, field{KeySrcCountry, r.SrcCountry})
	}
	for _, k := range slices.Sorted(maps.Keys(r.Report)) {
		out = append(out, field{k, r.Report[k]})
	}
	return out
}

// Fields returns the flattened record keyed the way it is logged, without
// the timestamp.
func (r Record) Fields() map[string]any {
	fs := r.fields()
	out := make(map[string]any, len(fs))
	for _, f := range fs {
		out[f.key] = f.value
	}
	return out
}

// Attrs returns the flattened record as slog attributes.
func (r Record) Attrs() []slog.Attr {
	fs := r.fields()
	out := make([]slog.Attr, 0, len(fs))
	for _, f := range fs {
		out = append(out, slog.Any(f.key, f.value))
	}
	return out
}
