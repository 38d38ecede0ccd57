package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/yungbote/trace-backend/internal/platform/qdrant"
)

// MemoryStore is a brute-force cosine store used when QDRANT_URL is unset.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]map[string]qdrant.Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: map[string]map[string]qdrant.Point{}}
}

func (s *MemoryStore) Upsert(_ context.Context, namespace string, points []qdrant.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.points[namespace]
	if ns == nil {
		ns = map[string]qdrant.Point{}
		s.points[namespace] = ns
	}
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("memory store: point id required")
		}
		ns[p.ID] = qdrant.Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: p.Payload}
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, namespace string, vector []float32, limit int, minScore float64, _ *qdrant.Filter) ([]qdrant.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []qdrant.Match{}
	for _, p := range s.points[namespace] {
		score := cosine(vector, p.Vector)
		if score < minScore {
			continue
		}
		out = append(out, qdrant.Match{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, namespace, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.points[namespace][id]
	return ok, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
