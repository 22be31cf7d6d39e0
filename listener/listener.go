// Package listener turns an incoming CSP report request into an audit
// record and an allow/block decision.
package listener

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/quartz"

	"github.com/coder/csplistener/allowlist"
	"github.com/coder/csplistener/audit"
	"github.com/coder/csplistener/cspreport"
)

// DefaultMaxBodyBytes bounds how much of a request body is read.
const DefaultMaxBodyBytes = 64 << 10

// CountryLocator resolves an IP address to a country code.
type CountryLocator interface {
	Country(ip string) string
}

// ErrorRecorder is told about every rejection, by kind.
type ErrorRecorder interface {
	RecordError(kind string)
}

// Config holds configuration for the listener
type Config struct {
	AllowList *allowlist.AllowList
	// Auditor receives every record. Nil suppresses emission.
	Auditor audit.Auditor
	Logger  *slog.Logger
	// Diagnostics receives advisories about reports that were still
	// processed. It should not be filtered by the operational log level.
	// Defaults to Logger.
	Diagnostics *slog.Logger
	// Clock defaults to the real clock.
	Clock        quartz.Clock
	MaxBodyBytes int64
	// Locator and Errors are optional.
	Locator CountryLocator
	Errors  ErrorRecorder
}

// Listener processes CSP reports. It keeps no per-request state and is
// safe for concurrent use.
type Listener struct {
	allowList    *allowlist.AllowList
	auditor      audit.Auditor
	logger       *slog.Logger
	diagnostics  *slog.Logger
	clock        quartz.Clock
	maxBodyBytes int64
	locator      CountryLocator
	errors       ErrorRecorder
}

// New creates a new Listener
func New(config Config) *Listener {
	l := &Listener{
		allowList:    config.AllowList,
		auditor:      config.Auditor,
		logger:       config.Logger,
		diagnostics:  config.Diagnostics,
		clock:        config.Clock,
		maxBodyBytes: config.MaxBodyBytes,
		locator:      config.Locator,
		errors:       config.Errors,
	}
	if l.allowList == nil {
		l.allowList = allowlist.New(nil)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.diagnostics == nil {
		l.diagnostics = l.logger
	}
	if l.clock == nil {
		l.clock = quartz.NewReal()
	}
	if l.maxBodyBytes <= 0 {
		l.maxBodyBytes = DefaultMaxBodyBytes
	}
	return l
}

// HandleReport processes a single report request. It never fails: every
// problem ends up in the returned record's Error with a blocked decision.
func (l *Listener) HandleReport(r *http.Request) audit.Record {
	rec := audit.Record{
		Time:       l.clock.Now("listener", "HandleReport"),
		HTTPMethod: r.Method,
	}

	body, bytesIn, readErr := l.readBody(r)
	rec.BytesIn = bytesIn

	u := requestURL(r)
	rec.URL = u.String()
	rec.Dest = u.Hostname()
	rec.Src = ClientIP(r)
	if l.locator != nil && rec.Src != "" {
		rec.SrcCountry = l.locator.Country(rec.Src)
	}
	copyHeaders(&rec, r)

	report, err := l.parseReport(r, body, readErr)
	if err == nil {
		err = l.checkOrigin(report)
	}
	rec = finish(rec, report, err)

	if err != nil {
		kind := Kind(err)
		l.logger.Debug("report blocked", "kind", kind, "error", err, "cause", errors.Unwrap(err))
		if l.errors != nil {
			l.errors.RecordError(string(kind))
		}
	}

	if l.auditor != nil {
		l.auditor.AuditReport(rec)
	}
	return rec
}

// finish is the single place a decision is made, so status and error always
// agree with it.
func finish(rec audit.Record, report cspreport.Canonical, err error) audit.Record {
	if err != nil {
		rec.Decision = audit.Blocked
		rec.Status = audit.StatusBlocked
		rec.Error = err.Error()
		rec.Report = nil
	} else {
		rec.Decision = audit.Allowed
		rec.Status = http.StatusOK
		rec.Error = ""
		rec.Report = report
	}
	rec.BytesOut = len(rec.Decision)
	rec.Bytes = rec.BytesIn + rec.BytesOut
	return rec
}

// parseReport validates the request and extracts the canonical report. The
// first failure wins.
func (l *Listener) parseReport(r *http.Request, body []byte, readErr error) (cspreport.Canonical, error) {
	if _, ok := r.Header["User-Agent"]; !ok {
		return nil, ErrMissingUserAgent
	}
	if readErr != nil {
		return nil, readErr
	}

	payload, err := cspreport.Decode(body)
	if err != nil {
		return nil, &MalformedBodyError{Diagnostic: diagnostic(body), Err: err}
	}

	if m, ok := payload.(cspreport.Modern); ok && m.Count > 1 {
		l.diagnostics.Warn("More than one item in list, only handling the first...",
			"action", "error",
			"count", m.Count)
		if l.errors != nil {
			l.errors.RecordError(string(KindMultipleReportsIgnored))
		}
	}

	fields := cspreport.Fields(payload)
	if len(fields) == 0 {
		return nil, &MalformedBodyError{Diagnostic: diagnostic(body)}
	}
	// Modern bodies are only trusted when they carry the modern key
	// verbatim; a legacy "document-uri" would otherwise normalize into it.
	if _, ok := payload.(cspreport.Modern); ok {
		if _, ok := fields[cspreport.ModernDocumentURLKey]; !ok {
			return nil, &MissingFieldError{Field: "documentURL", Container: "cspReport"}
		}
	}

	report := cspreport.Normalize(fields)
	if _, ok := report.DocumentURL(); !ok {
		return nil, &MissingFieldError{Field: "documentURL", Container: "cspReport"}
	}
	return report, nil
}

func (l *Listener) checkOrigin(report cspreport.Canonical) error {
	v, _ := report.DocumentURL()
	uri, ok := v.(string)
	if !ok || !l.allowList.IsAllowed(uri) {
		return &OriginNotAllowedError{DocumentURL: fmt.Sprint(v)}
	}
	return nil
}

// readBody reads at most maxBodyBytes and returns the body's length. A
// larger body is reported as malformed; its length then comes from
// Content-Length, or is the capped count when the length is unknown.
func (l *Listener) readBody(r *http.Request) ([]byte, int, error) {
	if r.Body == nil {
		return nil, 0, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, l.maxBodyBytes+1))
	if err != nil {
		return body, len(body), &MalformedBodyError{Diagnostic: "could not read body", Err: err}
	}
	if int64(len(body)) > l.maxBodyBytes {
		n := len(body)
		if r.ContentLength > int64(n) {
			n = int(r.ContentLength)
		}
		return body, n, &MalformedBodyError{Diagnostic: fmt.Sprintf("body larger than %d bytes", l.maxBodyBytes)}
	}
	return body, len(body), nil
}

// diagnostic encodes raw bytes so binary input cannot corrupt the log line.
func diagnostic(body []byte) string {
	return base64.StdEncoding.EncodeToString(body)
}

func copyHeaders(rec *audit.Record, r *http.Request) {
	if v, ok := header(r, "Content-Type"); ok {
		rec.HTTPContentType = v
	}
	// Both spellings are seen in the wild; the correct one wins.
	if v, ok := header(r, "Referer"); ok {
		rec.HTTPReferrer = v
	}
	if v, ok := header(r, "Referrer"); ok {
		rec.HTTPReferrer = v
	}
	if v, ok := forwardedFor(r); ok {
		rec.XForwardedFor = v
	}
	if v, ok := header(r, "User-Agent"); ok {
		rec.HTTPUserAgent = v
	}
}

func header(r *http.Request, key string) (string, bool) {
	values, ok := r.Header[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// requestURL reconstructs the absolute URL the report was posted to.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return &u
}
