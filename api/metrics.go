package api

import (
	"sort"
	"sync"
	"time"
)

// RequestTrace is the timing of a single served request
type RequestTrace struct {
	Method    string
	Path      string
	Status    int
	StartTime time.Time
	Duration  time.Duration
}

// RouteMetrics aggregates the requests served by one route template
type RouteMetrics struct {
	Method      string
	Path        string
	Count       int64
	ErrorCount  int64
	TotalTime   time.Duration
	AvgTime     time.Duration
	MinTime     time.Duration
	MaxTime     time.Duration
	LastRequest time.Time
}

// MetricsSummary is the totals across every route since the collector started
type MetricsSummary struct {
	TotalRequests int64
	TotalErrors   int64
	ErrorRate     float64
	Since         time.Time
	RouteCount    int
}

// MetricsCollector aggregates request timings in memory. Traces are handed to
// a background goroutine and dropped when its queue is full, so recording
// never slows a request down.
type MetricsCollector struct {
	mu            sync.RWMutex
	routeMetrics  map[string]*RouteMetrics
	since         time.Time
	totalRequests int64
	totalErrors   int64

	traceChan chan RequestTrace
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewMetricsCollector starts a collector buffering up to queueSize traces
func NewMetricsCollector(queueSize int) *MetricsCollector {
	mc := &MetricsCollector{
		routeMetrics: make(map[string]*RouteMetrics),
		since:        time.Now().UTC(),
		traceChan:    make(chan RequestTrace, queueSize),
		stopChan:     make(chan struct{}),
	}
	go mc.processTraces()
	return mc
}

// RecordTrace queues a trace without blocking
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.traceChan <- trace:
	default:
	}
}

// Stop ends the background processing. Traces recorded afterwards are dropped
// once the queue fills.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() {
		close(mc.stopChan)
	})
}

func (mc *MetricsCollector) processTraces() {
	for {
		select {
		case trace := <-mc.traceChan:
			mc.processTrace(trace)
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MetricsCollector) processTrace(trace RequestTrace) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	routeKey := trace.Method + " " + trace.Path
	metrics, exists := mc.routeMetrics[routeKey]
	if !exists {
		metrics = &RouteMetrics{
			Method:  trace.Method,
			Path:    trace.Path,
			MinTime: trace.Duration,
		}
		mc.routeMetrics[routeKey] = metrics
	}

	metrics.Count++
	metrics.TotalTime += trace.Duration
	metrics.AvgTime = metrics.TotalTime / time.Duration(metrics.Count)
	metrics.LastRequest = trace.StartTime
	if trace.Duration < metrics.MinTime {
		metrics.MinTime = trace.Duration
	}
	if trace.Duration > metrics.MaxTime {
		metrics.MaxTime = trace.Duration
	}

	mc.totalRequests++
	if trace.Status >= 400 {
		metrics.ErrorCount++
		mc.totalErrors++
	}
}

// GetRouteMetrics returns a copy of every route's metrics, busiest first
func (mc *MetricsCollector) GetRouteMetrics() []RouteMetrics {
	mc.mu.RLock()
	routes := make([]RouteMetrics, 0, len(mc.routeMetrics))
	for _, m := range mc.routeMetrics {
		routes = append(routes, *m)
	}
	mc.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Count != routes[j].Count {
			return routes[i].Count > routes[j].Count
		}
		return routes[i].Method+" "+routes[i].Path < routes[j].Method+" "+routes[j].Path
	})
	return routes
}

// GetSummary returns the totals across every route
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var errorRate float64
	if mc.totalRequests > 0 {
		errorRate = float64(mc.totalErrors) / float64(mc.totalRequests)
	}
	return MetricsSummary{
		TotalRequests: mc.totalRequests,
		TotalErrors:   mc.totalErrors,
		ErrorRate:     errorRate,
		Since:         mc.since,
		RouteCount:    len(mc.routeMetrics),
	}
}
