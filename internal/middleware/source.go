package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const sourceKey contextKey = "source"

// Source stores the caller address, port stripped, as the admission key.
// Mount it after chi's RealIP so proxied requests are keyed by the client.
func Source(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sourceKey, sourceFromAddr(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSource extracts the source key from context
func GetSource(ctx context.Context) string {
	source, ok := ctx.Value(sourceKey).(string)
	if !ok {
		return ""
	}
	return source
}

func sourceFromAddr(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
