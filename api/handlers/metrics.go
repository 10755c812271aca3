package handlers

import (
	"fmt"
	"net/http"

	"github.com/aett-tours/tours-api/api"
	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/config"
)

const defaultMetricsRouteLimit = 20

// Metrics serves request and live connection metrics to operators
type Metrics struct {
	Collector *api.MetricsCollector
	Registry  *realtime.Registry
}

// formatRouteMetrics converts duration fields to milliseconds for JSON serialization
func formatRouteMetrics(routes []api.RouteMetrics) []map[string]interface{} {
	result := make([]map[string]interface{}, len(routes))
	for i, route := range routes {
		result[i] = map[string]interface{}{
			"method":      route.Method,
			"path":        route.Path,
			"count":       route.Count,
			"errorCount":  route.ErrorCount,
			"avgTime":     route.AvgTime.Milliseconds(),
			"minTime":     route.MinTime.Milliseconds(),
			"maxTime":     route.MaxTime.Milliseconds(),
			"lastRequest": route.LastRequest,
		}
	}
	return result
}

// MetricsHandler returns the request totals, the busiest routes and the number
// of sessions with live connections
func (m Metrics) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultMetricsRouteLimit)
	if err != nil || limit < 1 {
		config.ErrorStatus("invalid limit", http.StatusBadRequest, w, fmt.Errorf("limit must be a positive number"))
		return
	}

	summary := m.Collector.GetSummary()
	routes := m.Collector.GetRouteMetrics()
	if len(routes) > limit {
		routes = routes[:limit]
	}

	liveSessions := 0
	if m.Registry != nil {
		liveSessions = m.Registry.Sessions()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]interface{}{
			"totalRequests": summary.TotalRequests,
			"totalErrors":   summary.TotalErrors,
			"errorRate":     summary.ErrorRate,
			"since":         summary.Since,
			"routeCount":    summary.RouteCount,
			"liveSessions":  liveSessions,
		},
		"routes": formatRouteMetrics(routes),
	})
}
