package cspreport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// LegacyKey is the top level key of report-uri style reports.
const LegacyKey = "csp-report"

var (
	ErrInvalidUTF8  = xerrors.New("body is not valid UTF-8")
	ErrTrailingData = xerrors.New("unexpected data after JSON value")
)

// Payload is a decoded report body. It is one of Legacy, Modern or
// Unrecognized.
type Payload interface {
	payload()
}

// Legacy is a report-uri style body: {"csp-report": {...}}.
type Legacy struct {
	// Report is nil when the "csp-report" value is not an object.
	Report map[string]any
}

// Modern is a Report-To style body: [{"body": {...}}, ...].
type Modern struct {
	// Count is the number of reports the browser batched together. Only
	// the first one is kept.
	Count int
	// Body of the first report; nil when absent or not an object.
	Body map[string]any
}

// Unrecognized is valid JSON that matches neither report shape.
type Unrecognized struct{}

func (Legacy) payload()       {}
func (Modern) payload()       {}
func (Unrecognized) payload() {}

// Fields returns the raw report fields carried by p.
func Fields(p Payload) map[string]any {
	switch p := p.(type) {
	case Legacy:
		return p.Report
	case Modern:
		return p.Body
	default:
		return nil
	}
}

// shapes are tried in order; the first match wins.
var shapes = []func(v any) (Payload, bool){
	legacyShape,
	modernShape,
}

// Decode parses body as a single UTF-8 JSON value and sniffs its shape.
// Numbers are kept as json.Number so values survive unchanged.
func Decode(body []byte) (Payload, error) {
	if !utf8.Valid(body) {
		return nil, ErrInvalidUTF8
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}

	for _, shape := range shapes {
		if p, ok := shape(v); ok {
			return p, nil
		}
	}
	return Unrecognized{}, nil
}

func legacyShape(v any) (Payload, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := obj[LegacyKey]
	if !ok {
		return nil, false
	}
	report, _ := raw.(map[string]any)
	return Legacy{Report: report}, true
}

func modernShape(v any) (Payload, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	p := Modern{Count: len(list)}
	if len(list) == 0 {
		return p, true
	}
	if first, ok := list[0].(map[string]any); ok {
		p.Body, _ = first["body"].(map[string]any)
	}
	return p, true
}
