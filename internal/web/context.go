package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/pointsimport/internal/importer"
)

// withRequestMetadata adds the client IP and User-Agent to ctx for the run
// history.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = importer.ContextWithIPAddress(ctx, clientIP(r))
	ctx = importer.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already rewritten for proxied requests.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
