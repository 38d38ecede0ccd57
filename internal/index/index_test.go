package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
)

type countingStore struct {
	*MemoryStore
	upserts int
}

func (c *countingStore) Upsert(ctx context.Context, ns string, pts []qdrant.Point) error {
	c.upserts++
	return c.MemoryStore.Upsert(ctx, ns, pts)
}

func TestStoreIsNoOpWhenHashExists(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	ix := New(logger.Nop(), store, HashEmbedder{Dim: 32})

	doc := Document{ContentHash: "h1", ContentType: domain.ContentText, RawText: "the quick brown fox"}
	require.NoError(t, ix.StoreText(ctx, doc))
	require.NoError(t, ix.StoreText(ctx, doc))
	assert.Equal(t, 1, store.upserts)
}

func TestSearchTextMapsPayload(t *testing.T) {
	ctx := context.Background()
	ix := New(logger.Nop(), NewMemoryStore(), HashEmbedder{Dim: 64})
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ix.StoreText(ctx, Document{
		ContentHash:     "h1",
		ContentType:     domain.ContentText,
		RawText:         "breaking news about the river flood",
		SourceURL:       "https://a.example/1",
		ChannelID:       "chan-a",
		Timestamp:       &ts,
		EngagementScore: 3,
	}))
	require.NoError(t, ix.StoreText(ctx, Document{ContentHash: "h2", RawText: "unrelated cooking recipe"}))

	hits, err := ix.SearchText(ctx, "river flood news", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	h := hits[0]
	assert.Equal(t, "h1", h.ContentHash)
	assert.Equal(t, "chan-a", h.ChannelID)
	assert.Equal(t, "https://a.example/1", h.SourceURL)
	require.NotNil(t, h.Timestamp)
	assert.True(t, ts.Equal(*h.Timestamp))
	assert.Equal(t, 3.0, h.EngagementScore)
	assert.Greater(t, h.Similarity, 0.5)
}

func TestSearchImageNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	ix := New(logger.Nop(), NewMemoryStore(), nil)
	require.NoError(t, ix.Store(ctx, NamespaceImage, Document{ContentHash: "img", ChannelID: "c"}, []float32{1, 0}))

	hits, err := ix.SearchImage(ctx, []float32{1, 0}, 3, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)

	hits, err = ix.Search(ctx, NamespaceText, []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchTextWithoutEmbedder(t *testing.T) {
	ix := New(logger.Nop(), NewMemoryStore(), nil)
	_, err := ix.SearchText(context.Background(), "q", 5, 0.7)
	assert.Error(t, err)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Search(context.Context, string, []float32, int, float64, *qdrant.Filter) ([]qdrant.Match, error) {
	return nil, errors.New("boom")
}

func TestSearchPropagatesStoreErrors(t *testing.T) {
	ix := New(logger.Nop(), failingStore{NewMemoryStore()}, HashEmbedder{})
	_, err := ix.SearchText(context.Background(), "q", 5, 0.7)
	assert.Error(t, err)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := HashEmbedder{Dim: 16}
	a, err := e.Embed(context.Background(), []string{"Hello, world", "hello world"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 1.0, cosine(a[0], a[1]), 1e-6)
}
