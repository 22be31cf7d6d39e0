package listener

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name       string
		remoteAddr string
		xff        []string
		expected   string
	}{
		{
			name:       "peer address",
			remoteAddr: "192.0.2.1:5555",
			expected:   "192.0.2.1",
		},
		{
			name:       "peer address without port",
			remoteAddr: "192.0.2.1",
			expected:   "192.0.2.1",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name:       "no peer",
			remoteAddr: "",
			expected:   "",
		},
		{
			name:       "forwarded for wins",
			remoteAddr: "192.0.2.1:5555",
			xff:        []string{"198.51.100.7"},
			expected:   "198.51.100.7",
		},
		{
			name:       "first forwarded entry",
			remoteAddr: "192.0.2.1:5555",
			xff:        []string{" 198.51.100.7 ,10.0.0.1, 10.0.0.2"},
			expected:   "198.51.100.7",
		},
		{
			name:       "repeated headers",
			remoteAddr: "192.0.2.1:5555",
			xff:        []string{"203.0.113.5", "10.0.0.1"},
			expected:   "203.0.113.5",
		},
		{
			name:       "empty forwarded for",
			remoteAddr: "192.0.2.1:5555",
			xff:        []string{""},
			expected:   "",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/csp-reports", nil)
			req.RemoteAddr = tc.remoteAddr
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			require.Equal(t, tc.expected, ClientIP(req))
		})
	}
}

func TestForwardedFor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/csp-reports", nil)
	_, ok := forwardedFor(req)
	require.False(t, ok)

	req.Header.Add("X-Forwarded-For", "203.0.113.5")
	req.Header.Add("X-Forwarded-For", "10.0.0.1")
	v, ok := forwardedFor(req)
	require.True(t, ok)
	require.Equal(t, "203.0.113.5,10.0.0.1", v)
}
