package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/coder/csplistener/allowlist"
	"github.com/coder/csplistener/listener"
	"github.com/coder/csplistener/metrics"
)

const (
	allowedReport = `{"csp-report": {"document-uri": "https://www.gov.uk/", "violated-directive": "script-src"}}`
	blockedReport = `{"csp-report": {"document-uri": "https://example.com/"}}`
)

func newTestListener(t *testing.T, opts ...func(*listener.Config)) *listener.Listener {
	t.Helper()
	rules, err := allowlist.ParseAllowSpecs(allowlist.DefaultAllowSpecs)
	require.NoError(t, err)
	cfg := listener.Config{AllowList: allowlist.New(rules)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return listener.New(cfg)
}

func postReport(t *testing.T, h http.Handler, path, body string, ua bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/csp-report")
	if ua {
		req.Header.Set("User-Agent", "Mozilla/5.0")
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func TestRouter_Reports(t *testing.T) {
	t.Parallel()

	h := NewRouter(newTestListener(t), "")

	for _, path := range ReportPaths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			rw := postReport(t, h, path, allowedReport, true)
			require.Equal(t, http.StatusOK, rw.Code)
			require.Equal(t, "allowed", rw.Body.String())

			rw = postReport(t, h, path, blockedReport, true)
			require.Equal(t, http.StatusNotAcceptable, rw.Code)
			require.Equal(t, "blocked", rw.Body.String())

			rw = postReport(t, h, path, allowedReport, false)
			require.Equal(t, http.StatusNotAcceptable, rw.Code)
			require.Equal(t, "blocked", rw.Body.String())
		})
	}
}

func TestRouter_ResponseHeaders(t *testing.T) {
	t.Parallel()

	h := NewRouter(newTestListener(t), "")
	rw := postReport(t, h, "/csp-reports", "{}", true)

	require.Equal(t, "noindex, nofollow, noimageindex", rw.Header().Get("X-Robots-Tag"))
	require.Equal(t, "public, max-age=0", rw.Header().Get("Cache-Control"))
	require.Equal(t, "no-cache", rw.Header().Get("Pragma"))
	require.Equal(t, "0", rw.Header().Get("Expires"))
	require.Equal(t, "text/plain; charset=utf-8", rw.Header().Get("Content-Type"))
}

func TestRouter_NoInternalDetail(t *testing.T) {
	t.Parallel()

	h := NewRouter(newTestListener(t), "")
	rw := postReport(t, h, "/csp-reports", `{"blah": 10}`, true)
	require.Equal(t, http.StatusNotAcceptable, rw.Code)
	require.Equal(t, "blocked", rw.Body.String())
}

func TestRouter_Redirect(t *testing.T) {
	t.Parallel()

	t.Run("default", func(t *testing.T) {
		t.Parallel()

		h := NewRouter(newTestListener(t), "")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusFound, rw.Code)
		require.Equal(t, DefaultRedirectURL, rw.Header().Get("Location"))
	})

	t.Run("configured", func(t *testing.T) {
		t.Parallel()

		h := NewRouter(newTestListener(t), "https://example.org/about")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusFound, rw.Code)
		require.Equal(t, "https://example.org/about", rw.Header().Get("Location"))
	})
}

func TestRouter_MethodsAndPaths(t *testing.T) {
	t.Parallel()

	h := NewRouter(newTestListener(t), "")

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/csp-reports", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rw.Code)

	rw = postReport(t, h, "/reports", allowedReport, true)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()

	h := NewRouter(newTestListener(t), "")

	req := httptest.NewRequest(http.MethodOptions, "/csp-reports", nil)
	req.Header.Set("Origin", "https://www.gov.uk")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	require.Equal(t, "*", rw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.MethodPost, rw.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodPost, "/csp-reports", strings.NewReader(allowedReport))
	req.Header.Set("Origin", "https://www.gov.uk")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "*", rw.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	srv := New(Config{
		Address:  "127.0.0.1:0",
		Listener: newTestListener(t),
	})
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	// Starting twice is a no-op.
	require.NoError(t, srv.Start())

	url := "http://" + srv.Addr().String() + "/.well-known/csp-reports"
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(allowedReport))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "allowed", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_StartError(t *testing.T) {
	t.Parallel()

	srv := New(Config{Address: "not-an-address", Listener: newTestListener(t)})
	require.Error(t, srv.Start())
}

func TestDebugRouter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	l := newTestListener(t, func(c *listener.Config) {
		c.Auditor = m
		c.Errors = m
	})
	postReport(t, NewRouter(l, ""), "/csp-reports", blockedReport, true)

	t.Run("metrics", func(t *testing.T) {
		t.Parallel()

		rw := httptest.NewRecorder()
		NewDebugRouter(reg, false).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rw.Code)
		require.Contains(t, rw.Body.String(), `csplistener_reports_total{action="blocked"} 1`)
		require.Contains(t, rw.Body.String(), `csplistener_report_errors_total{kind="origin_not_allowed"} 1`)
	})

	t.Run("pprof disabled", func(t *testing.T) {
		t.Parallel()

		rw := httptest.NewRecorder()
		NewDebugRouter(reg, false).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		require.Equal(t, http.StatusNotFound, rw.Code)
	})

	t.Run("pprof enabled", func(t *testing.T) {
		t.Parallel()

		rw := httptest.NewRecorder()
		NewDebugRouter(reg, true).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		require.Equal(t, http.StatusOK, rw.Code)
	})
}
