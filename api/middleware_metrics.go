package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// MetricsPath is served by the metrics endpoint and never recorded itself
const MetricsPath = "/api/v1/admin/metrics"

// Middleware records the timing and status of each request under its route
// template, so /chat/sessions/abc and /chat/sessions/xyz share one entry.
// Upgraded websocket connections are not requests and are skipped.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == MetricsPath {
			next.ServeHTTP(w, r)
			return
		}

		startTime := time.Now()
		wrappedWriter := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrappedWriter, r)

		if wrappedWriter.hijacked {
			return
		}

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		mc.RecordTrace(RequestTrace{
			Method:    r.Method,
			Path:      path,
			Status:    wrappedWriter.statusCode,
			StartTime: startTime,
			Duration:  time.Since(startTime),
		})
	})
}
