package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/colextract/internal/core"
)

// WithRequestMetadata adds IP and User-Agent to context so service logs can
// name the requester. RemoteAddr has already been rewritten by TrustedRealIP.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r.RemoteAddr))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMetadata(r.Context(), r)))
	})
}
