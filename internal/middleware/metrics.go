package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics stores HTTP and websocket counters. Domain counters (analyses,
// cache, sessions) are pulled from registered sources at read time.
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	RateLimited        uint64
	WebsocketsOpen     uint64
	WebsocketsTotal    uint64
	StartTime          time.Time

	mu      sync.RWMutex
	sources map[string]func() any
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
	sources:   map[string]func() any{},
}

// RegisterSource adds a named snapshot function to the metrics document.
// Registering the same name again replaces it.
func RegisterSource(name string, fn func() any) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.sources[name] = fn
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

func IncrementRateLimited() {
	atomic.AddUint64(&globalMetrics.RateLimited, 1)
}

// WebsocketOpened is called when an upgraded connection starts serving.
func WebsocketOpened() {
	atomic.AddUint64(&globalMetrics.WebsocketsTotal, 1)
	atomic.AddUint64(&globalMetrics.WebsocketsOpen, 1)
}

// WebsocketClosed is the counterpart of WebsocketOpened.
func WebsocketClosed() {
	atomic.AddUint64(&globalMetrics.WebsocketsOpen, ^uint64(0))
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"rate_limited":         atomic.LoadUint64(&globalMetrics.RateLimited),
		"websockets_open":      atomic.LoadUint64(&globalMetrics.WebsocketsOpen),
		"websockets_total":     atomic.LoadUint64(&globalMetrics.WebsocketsTotal),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}

	globalMetrics.mu.RLock()
	names := make([]string, 0, len(globalMetrics.sources))
	for name := range globalMetrics.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = globalMetrics.sources[name]()
	}
	globalMetrics.mu.RUnlock()
	return out
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		// hijacked websocket upgrades report 101
		if wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
