package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline/internal/features"
	"github.com/stitchline/stitchline/internal/observability"
)

type flagStore struct {
	flags map[string]features.Flag
}

func (s *flagStore) Get(_ context.Context, storeID, key string) (features.Flag, bool, error) {
	f, ok := s.flags[storeID+"/"+key]
	return f, ok, nil
}

func (s *flagStore) Set(_ context.Context, storeID, key string, enabled bool) (features.Flag, error) {
	f := features.Flag{StoreID: storeID, Key: key, Enabled: enabled, UpdatedAt: time.Now()}
	s.flags[storeID+"/"+key] = f
	return f, nil
}

func (s *flagStore) List(_ context.Context, storeID string) ([]features.Flag, error) {
	var out []features.Flag
	for _, f := range s.flags {
		if f.StoreID == storeID {
			out = append(out, f)
		}
	}
	return out, nil
}

func testRouter(t *testing.T) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 100, ScanRateLimitPerMinute: 2}
	metrics := observability.NewMetrics()
	flagService := features.NewService(&flagStore{flags: map[string]features.Flag{}}, nil, features.Config{}, logger)
	return NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		FeaturesHandler: features.NewHandler(logger, flagService),
		Metrics:         metrics,
	}), metrics
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStoreScopedRoutesRequireHeader(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/features/inventory_enforcement", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("X-Store-ID", "4f1c2e8a-6b1d-4c8e-9a51-2f0d3b7c9e10")
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)
}

func TestMetricsEndpointExposesRouteCounters(t *testing.T) {
	router, _ := testRouter(t)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stitchline_http_requests_total{code="200",method="GET",route="/healthz"}`)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/test")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.ConsumeOnComplete)
	assert.True(t, cfg.ReleaseOnCancel)
	assert.Equal(t, time.Duration(0), cfg.ScanTokenTTL)
	assert.Equal(t, "0 2 * * *", cfg.ReconcileCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsNegativeTokenTTL(t *testing.T) {
	t.Setenv("SCAN_TOKEN_TTL", "-1h")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf strings.Builder
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", slog.String("batch_id", "b-1"))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"batch_id":"b-1"`)
}
