package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiotdata/retail-ingest/internal/dedup"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func setupServer(t *testing.T) (*Server, *dedup.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := dedup.New(client)
	return NewServer(store, &fakePinger{}, &fakePinger{}), store, mr
}

func TestHealthAllUp(t *testing.T) {
	srv, _, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "up", health.Checks["redis"].Status)
	assert.Equal(t, "up", health.Checks["postgres"].Status)
	assert.Equal(t, "up", health.Checks["warehouse"].Status)
}

func TestHealthDegradedWhenSinkDown(t *testing.T) {
	srv, _, _ := setupServer(t)
	srv.operational = &fakePinger{err: assert.AnError}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "down", health.Checks["postgres"].Status)
}

func TestHealthNilSinkNotConfigured(t *testing.T) {
	srv, _, _ := setupServer(t)
	srv.analytical = nil

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "not_configured", health.Checks["warehouse"].Status)
}

func TestJobStatusEndpoint(t *testing.T) {
	srv, store, _ := setupServer(t)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "csv_abc123_101500", "completed", map[string]string{"file": "sales.csv"}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/csv_abc123_101500", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status dedup.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, "sales.csv", status.Metadata["file"])
}

func TestJobStatusNotFound(t *testing.T) {
	srv, _, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, store, _ := setupServer(t)
	ctx := context.Background()

	_, err := store.IncrCounter(ctx, "files_processed", 7)
	require.NoError(t, err)
	_, err = store.IncrCounter(ctx, "files_error", 2)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(7), stats.FilesProcessed)
	assert.Equal(t, int64(2), stats.FilesErrored)
}
