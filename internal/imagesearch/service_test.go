package imagesearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/lineage"
	"github.com/yungbote/trace-backend/internal/matchqueue"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/tineye"
)

type fakeMatcher struct {
	hits  []domain.OriginHit
	err   error
	calls int
}

func (f *fakeMatcher) Match(context.Context, []byte) ([]domain.OriginHit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeBatch struct {
	submitted [][]tineye.Image
	results   map[string]*tineye.BatchResult
}

func (f *fakeBatch) SubmitBatch(_ context.Context, images []tineye.Image) (string, error) {
	f.submitted = append(f.submitted, images)
	return "batch-1", nil
}

func (f *fakeBatch) BatchResults(_ context.Context, id string) (*tineye.BatchResult, error) {
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return nil, errors.New("unknown batch")
}

type fakeLineage struct {
	stored []domain.OriginAssignment
}

func (f *fakeLineage) StoreOrigin(_ context.Context, id string, _ domain.ContentType, a domain.OriginAssignment) (lineage.StoreAck, error) {
	f.stored = append(f.stored, a)
	return lineage.StoreAck{ArtifactID: id, CacheStored: true}, nil
}

func scored(url string, score float64) domain.OriginHit {
	return domain.OriginHit{URL: url, ChannelID: url, Score: score, Provenance: domain.ProvenanceReverseImage}
}

func TestConfidenceWeights(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(nil))
	assert.InDelta(t, 0.9, Confidence([]domain.OriginHit{scored("a", 0.9)}), 1e-9)
	assert.InDelta(t, (0.9*0.6+0.6*0.3)/0.9, Confidence([]domain.OriginHit{scored("a", 0.9), scored("b", 0.6)}), 1e-9)
	assert.InDelta(t, 0.9*0.6+0.6*0.3+0.3*0.1,
		Confidence([]domain.OriginHit{scored("a", 0.9), scored("b", 0.6), scored("c", 0.3), scored("d", 0.2)}), 1e-9)
}

func TestTopOriginsSortsAndTruncates(t *testing.T) {
	var hits []domain.OriginHit
	for i := 0; i < 12; i++ {
		hits = append(hits, scored(string(rune('a'+i)), float64(i)/20))
	}
	top := TopOrigins(hits, 10)
	require.Len(t, top, 10)
	assert.Equal(t, "l", top[0].URL)
	assert.Equal(t, "c", top[9].URL)
}

func TestResolveImageStrongResultIsCached(t *testing.T) {
	m := &fakeMatcher{hits: []domain.OriginHit{scored("b", 0.7), scored("a", 0.95), scored("c", 0.6)}}
	store := &fakeLineage{}
	q := matchqueue.New(logger.Nop(), nil, 0, 0)
	svc := NewService(logger.Nop(), cache.NewMemory(), m, q, nil, store)

	first, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Bytes([]byte("img")), first.QueryHash)
	assert.Equal(t, "a", first.Origins[0].URL)
	assert.False(t, first.QueuedForBatch)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, SourceReverseImage, first.Source)

	second, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, first.Origins, second.Origins)
	assert.Equal(t, 1, m.calls)

	require.Len(t, store.stored, 1)
	assert.Equal(t, "a", store.stored[0].Simple.Origin.ChannelID())
}

func TestResolveImageWeakResultIsQueued(t *testing.T) {
	m := &fakeMatcher{hits: []domain.OriginHit{scored("a", 0.95)}}
	q := matchqueue.New(logger.Nop(), nil, 0, 0)
	svc := NewService(logger.Nop(), cache.NewMemory(), m, q, nil, nil)

	res, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.True(t, res.QueuedForBatch)
	assert.Equal(t, 1, q.Len())
}

func TestResolveImageMatcherFailureDegrades(t *testing.T) {
	m := &fakeMatcher{err: errors.New("vision quota")}
	c := cache.NewMemory()
	q := matchqueue.New(logger.Nop(), nil, 0, 0)
	svc := NewService(logger.Nop(), c, m, q, nil, nil)

	res, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Empty(t, res.Origins)
	assert.Equal(t, "vision quota", res.MatcherError)
	assert.True(t, res.QueuedForBatch)

	ok, err := c.Exists(context.Background(), fingerprint.Key("image_search", res.QueryHash))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveImageRejectsEmpty(t *testing.T) {
	svc := NewService(logger.Nop(), cache.NewMemory(), nil, nil, nil, nil)
	_, err := svc.ResolveImage(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrMissingSource)
}

func TestRunBatchRecachesCompletedBatches(t *testing.T) {
	hash := fingerprint.Bytes([]byte("img"))
	batch := &fakeBatch{results: map[string]*tineye.BatchResult{
		"batch-1": {BatchID: "batch-1", Complete: true, Matches: map[string][]domain.OriginHit{
			hash: {scored("x", 0.5), scored("y", 0.99)},
		}},
	}}
	c := cache.NewMemory()
	store := &fakeLineage{}
	q := matchqueue.New(logger.Nop(), batch, 0, 0)
	svc := NewService(logger.Nop(), c, &fakeMatcher{}, q, batch, store)

	_, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	run, err := svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, matchqueue.StatusSuccess, run.Submit.Status)
	assert.Equal(t, 1, run.Collect.Completed)
	assert.Equal(t, 1, run.Collect.Recached)
	assert.Empty(t, q.Pending())

	got, ok, err := cache.GetJSON[Result](context.Background(), c, fingerprint.Key("image_search", hash))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceBatch, got.Source)
	assert.Equal(t, "y", got.Origins[0].URL)
	assert.Equal(t, domain.ProvenanceBatchMatch, got.Origins[0].Provenance)
	assert.Len(t, store.stored, 2)
}

func TestRunBatchPendingBatchStaysQueued(t *testing.T) {
	batch := &fakeBatch{results: map[string]*tineye.BatchResult{"batch-1": {BatchID: "batch-1"}}}
	q := matchqueue.New(logger.Nop(), batch, 0, 0)
	svc := NewService(logger.Nop(), cache.NewMemory(), &fakeMatcher{}, q, batch, nil)
	_, err := svc.ResolveImage(context.Background(), []byte("img"))
	require.NoError(t, err)

	run, err := svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Collect.Completed)
	assert.Equal(t, []string{"batch-1"}, q.Pending())
}
