package app

import (
	"context"
	"time"

	"github.com/yungbote/trace-backend/internal/index"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
)

type instrumentedVectorStore struct {
	provider VectorProvider
	inner    index.VectorStore
}

func instrumentVectorStore(provider VectorProvider, inner index.VectorStore) index.VectorStore {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorStore{provider: provider, inner: inner}
}

func (s *instrumentedVectorStore) Upsert(ctx context.Context, namespace string, points []qdrant.Point) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, namespace, points)
	s.observe("upsert", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) Search(ctx context.Context, namespace string, vector []float32, limit int, minScore float64, filter *qdrant.Filter) ([]qdrant.Match, error) {
	start := time.Now()
	out, err := s.inner.Search(ctx, namespace, vector, limit, minScore, filter)
	s.observe("search", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) Exists(ctx context.Context, namespace, id string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Exists(ctx, namespace, id)
	s.observe("exists", err, time.Since(start))
	return ok, err
}

func (s *instrumentedVectorStore) observe(operation string, err error, dur time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.Current().ObserveUpstream("vector_"+string(s.provider), operation, status, dur)
}
