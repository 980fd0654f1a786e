package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketRefills(t *testing.T) {
	start := time.Unix(0, 0)
	tb := NewTokenBucket(2, 1, start)

	ok, _ := tb.Allow(start)
	require.True(t, ok)
	ok, _ = tb.Allow(start)
	require.True(t, ok)
	ok, wait := tb.Allow(start)
	require.False(t, ok)
	require.Equal(t, time.Second, wait)

	ok, _ = tb.Allow(start.Add(1500 * time.Millisecond))
	require.True(t, ok)
}

func TestRateLimitMiddlewareSkipsPublicPaths(t *testing.T) {
	now := time.Unix(100, 0)
	rl := NewRateLimiter(1, 0.5)
	rl.now = func() time.Time { return now }
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:5555"
		h.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusOK, do("/v1/reports/x").Code)
	rec := do("/v1/reports/x")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusOK, do("/health").Code)

	require.Equal(t, 1, rl.prune(now.Add(time.Hour), time.Minute))
}

func TestAPIKeyAuth(t *testing.T) {
	var seen string
	h := APIKeyAuth(map[string]string{"dashboard": "s3cret"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClientFromContext(r.Context())
	}))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/v1/analyses", "", http.StatusUnauthorized},
		{"wrong", "/v1/analyses", "Bearer nope", http.StatusUnauthorized},
		{"public", "/live", "", http.StatusOK},
		{"bearer", "/v1/analyses", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
	require.Equal(t, "dashboard", seen)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=s3cret", nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandlerReportsFailingCheck(t *testing.T) {
	h := HealthHandler(map[string]HealthChecker{
		"db":    CheckFunc(func(context.Context) error { return nil }),
		"minio": CheckFunc(func(context.Context) error { return errors.New("bucket gone") }),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "bucket gone")
}

func TestReadinessDrains(t *testing.T) {
	SetDraining(true)
	defer SetDraining(false)
	rec := httptest.NewRecorder()
	ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsIncludeSources(t *testing.T) {
	RegisterSource("cache", func() any { return map[string]int{"hits": 3} })
	m := GetMetrics()
	require.Equal(t, map[string]int{"hits": 3}, m["cache"])
}

func TestValidators(t *testing.T) {
	require.NoError(t, ValidateSessionToken(""))
	require.NoError(t, ValidateSessionToken("abc-123_x"))
	require.Error(t, ValidateSessionToken("a b"))
	require.Error(t, ValidateSessionToken(strings.Repeat("a", 65)))

	require.NoError(t, ValidateReportID("3f9a4c1e-8a63-4d8e-9d7c-2f1b2e0c5a11"))
	require.Error(t, ValidateReportID("../etc"))

	require.NoError(t, ValidateCapabilityNames([]string{"technical", " Mobile "}))
	require.Error(t, ValidateCapabilityNames([]string{"drop table"}))

	require.Equal(t, "hi", SanitizeString(" h\x00i\x07 "))

	var body struct {
		Targets []string `json:"targets"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"targets":["a.com"],"extra":1}`))
	require.Error(t, DecodeJSON(req, &body))
}
