package api

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds the request context so database calls made by the
// handler give up once the request has run for timeout. Not for websocket
// routes, those live for as long as the peer stays connected. A zero timeout
// leaves the request context untouched.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
