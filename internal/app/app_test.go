package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/index"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
	"github.com/yungbote/trace-backend/internal/scheduler"
)

func TestWireServicesFallsBackInProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := defaultConfig()

	s, err := wireServices(ctx, logger.Nop(), cfg, Clients{})
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, s.Cache)

	states := s.Scheduler.Status()
	require.Len(t, states, 2)
	assert.Equal(t, scheduler.JobLineageBuild, states[0].Name)
	assert.Equal(t, "@daily", states[0].Schedule)
	assert.Equal(t, scheduler.JobMatchBatch, states[1].Name)

	_, err = s.Scheduler.ForceRun(ctx, scheduler.JobLineageBuild)
	require.NoError(t, err)
	_, err = s.Scheduler.ForceRun(ctx, scheduler.JobMatchBatch)
	require.NoError(t, err)
}

func TestRegisterBatchJobsDisabledSchedules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := defaultConfig()
	cfg.Schedules.Enabled = false

	s, err := wireServices(ctx, logger.Nop(), cfg, Clients{})
	require.NoError(t, err)
	for _, st := range s.Scheduler.Status() {
		assert.Empty(t, st.Schedule, st.Name)
	}
}

func TestWiredServerResolvesSearch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := defaultConfig()

	s, err := wireServices(ctx, logger.Nop(), cfg, Clients{})
	require.NoError(t, err)
	srv := wireServer(logger.Nop(), cfg, nil, wireHandlers(logger.Nop(), s))

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"who posted this first"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"external_error":"external search not configured"`)

	rec = httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/batch", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), scheduler.JobMatchBatch)

	rec = httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lineage/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyVectorStoreError(t *testing.T) {
	err := classifyVectorStoreError(&qdrant.ConfigError{Code: qdrant.ConfigErrorMissingCollection})
	var be *VectorStoreBootstrapError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, VectorStoreBootstrapErrorMissingColl, be.Code)
	assert.Equal(t, VectorProviderQdrant, be.Provider)

	err = classifyVectorStoreError(errors.New("boom"))
	require.ErrorAs(t, err, &be)
	assert.Equal(t, VectorStoreBootstrapErrorProviderInitFail, be.Code)

	assert.NoError(t, classifyVectorStoreError(nil))
}

func TestInstrumentedVectorStorePassesThrough(t *testing.T) {
	store, provider := resolveVectorStore(logger.Nop(), nil)
	assert.Equal(t, VectorProviderMemory, provider)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, index.NamespaceText, []qdrant.Point{{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{"content_hash": "h"}}}))
	ok, err := store.Exists(ctx, index.NamespaceText, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	matches, err := store.Search(ctx, index.NamespaceText, []float32{1, 0}, 5, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
