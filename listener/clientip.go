package listener

import (
	"net"
	"net/http"
	"strings"
)

// forwardedFor returns the raw X-Forwarded-For value. Repeated headers are
// joined the same way a CGI environment would see them.
func forwardedFor(r *http.Request) (string, bool) {
	values, ok := r.Header["X-Forwarded-For"]
	if !ok {
		return "", false
	}
	return strings.Join(values, ","), true
}

// ClientIP returns the address the report came from: the first entry of
// X-Forwarded-For when the header is present, otherwise the peer address.
// It returns "" when neither is known.
func ClientIP(r *http.Request) string {
	ips, ok := forwardedFor(r)
	if !ok {
		ips = peerAddr(r.RemoteAddr)
	}
	if ips == "" {
		return ""
	}
	first, _, _ := strings.Cut(ips, ",")
	return strings.TrimSpace(first)
}

func peerAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
