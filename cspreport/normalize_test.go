package cspreport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name     string
		input    map[string]any
		expected Canonical
	}{
		{
			name:     "document uri",
			input:    map[string]any{"document-uri": "http://example.com"},
			expected: Canonical{"csp_documentURL": "http://example.com"},
		},
		{
			name: "legacy report",
			input: map[string]any{
				"document-uri":       "http://example.com",
				"violated-directive": "style-src cdn.example.com",
				"disposition":        "report",
			},
			expected: Canonical{
				"csp_documentURL":       "http://example.com",
				"csp_violatedDirective": "style-src cdn.example.com",
				"csp_disposition":       "report",
			},
		},
		{
			name: "modern keys only gain the prefix",
			input: map[string]any{
				"documentURL":        "https://example.com",
				"disposition":        "enforce",
				"effectiveDirective": "frame-src",
			},
			expected: Canonical{
				"csp_documentURL":        "https://example.com",
				"csp_disposition":        "enforce",
				"csp_effectiveDirective": "frame-src",
			},
		},
		{
			name: "values pass through untouched",
			input: map[string]any{
				"status-code": json.Number("200"),
				"nested":      map[string]any{"inner-key": true},
				"empty":       nil,
			},
			expected: Canonical{
				"csp_statusCode": json.Number("200"),
				"csp_nested":     map[string]any{"inner-key": true},
				"csp_empty":      nil,
			},
		},
		{
			name:     "empty",
			input:    map[string]any{},
			expected: Canonical{},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tc.input)
			require.Equal(t, tc.expected, got)
			require.Len(t, got, len(tc.input))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		key      string
		expected string
	}{
		{"document-uri", "csp_documentURL"},
		{"blocked-uri", "csp_blockedURL"},
		{"referrer", "csp_referrer"},
		{"violated-directive", "csp_violatedDirective"},
		{"effective-directive", "csp_effectiveDirective"},
		{"original-policy", "csp_originalPolicy"},
		{"status-code", "csp_statusCode"},
		{"line-number", "csp_lineNumber"},
		// Only the first hyphenated pair is converted.
		{"script-sample-x", "csp_scriptSample-x"},
		// Every occurrence of that first pair is converted though.
		{"a-b-b", "csp_aBB"},
		// Upper case and digits after a hyphen are left alone.
		{"x-Y", "csp_x-Y"},
		{"x-1-y", "csp_x-1Y"},
		// -uri is case sensitive.
		{"document-URI", "csp_document-URI"},
		{"source-file", "csp_sourceFile"},
		{"", "csp_"},
		{"-", "csp_-"},
	}

	for _, tc := range tcs {
		t.Run(tc.key, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, NormalizeKey(tc.key))
		})
	}
}

func TestNormalize_Reapplied(t *testing.T) {
	t.Parallel()

	once := Normalize(map[string]any{"documentURL": "https://www.gov.uk/", "disposition": "enforce"})
	twice := Normalize(once)

	require.Equal(t, Canonical{
		"csp_csp_documentURL": "https://www.gov.uk/",
		"csp_csp_disposition": "enforce",
	}, twice)
}

func TestCanonical_DocumentURL(t *testing.T) {
	t.Parallel()

	v, ok := Normalize(map[string]any{"document-uri": "https://www.gov.uk/"}).DocumentURL()
	require.True(t, ok)
	require.Equal(t, "https://www.gov.uk/", v)

	_, ok = Normalize(map[string]any{"blocked-uri": "inline"}).DocumentURL()
	require.False(t, ok)
}
