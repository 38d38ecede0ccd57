// Package imagesearch resolves image origins by reverse-image search, with a batch matcher for weak results.
package imagesearch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/lineage"
	"github.com/yungbote/trace-backend/internal/matchqueue"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/tineye"
)

const (
	SourceReverseImage = "reverse_image"
	SourceBatch        = "tineye"

	maxOrigins     = 10
	weakMinOrigins = 3
	weakMaxScore   = 0.8
)

var confidenceWeights = []float64{0.6, 0.3, 0.1}

type Matcher interface {
	Match(ctx context.Context, img []byte) ([]domain.OriginHit, error)
}

type BatchFetcher interface {
	BatchResults(ctx context.Context, batchID string) (*tineye.BatchResult, error)
}

type LineageStore interface {
	StoreOrigin(ctx context.Context, artifactID string, t domain.ContentType, a domain.OriginAssignment) (lineage.StoreAck, error)
}

type Result struct {
	QueryHash      string             `json:"query_hash"`
	Origins        []domain.OriginHit `json:"origins"`
	Confidence     float64            `json:"confidence"`
	Source         string             `json:"source"`
	QueuedForBatch bool               `json:"queued_for_batch"`
	MatcherError   string             `json:"matcher_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

type Service struct {
	log     *logger.Logger
	cache   cache.Cache
	matcher Matcher
	queue   *matchqueue.Queue
	batches BatchFetcher
	lineage LineageStore
	now     func() time.Time
}

// NewService accepts nil matcher, batches and lineage collaborators.
func NewService(log *logger.Logger, c cache.Cache, matcher Matcher, queue *matchqueue.Queue, batches BatchFetcher, store LineageStore) *Service {
	return &Service{
		log:     log.With("service", "ImageSearch"),
		cache:   c,
		matcher: matcher,
		queue:   queue,
		batches: batches,
		lineage: store,
		now:     time.Now,
	}
}

func (s *Service) ResolveImage(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, domain.ErrMissingSource
	}
	hash := fingerprint.Bytes(data)
	key := fingerprint.Key("image_search", hash)

	cached, ok, err := cache.GetJSON[Result](ctx, s.cache, key)
	if err != nil {
		s.log.Warn("image cache read failed", "hash", hash, "error", err)
	}
	if ok {
		observability.Current().IncResolution("cache")
		return &cached, nil
	}

	res := &Result{QueryHash: hash, Source: SourceReverseImage, CreatedAt: s.now().UTC()}
	var hits []domain.OriginHit
	if s.matcher == nil {
		res.MatcherError = "reverse image search not configured"
	} else {
		start := time.Now()
		hits, err = s.matcher.Match(ctx, data)
		status := "ok"
		if err != nil {
			status = "error"
			s.log.Warn("reverse image search failed", "hash", hash, "error", err)
			res.MatcherError = err.Error()
			hits = nil
		}
		observability.Current().ObserveUpstream("vision", "match", status, time.Since(start))
	}
	res.Origins = TopOrigins(hits, maxOrigins)
	res.Confidence = Confidence(res.Origins)

	if weak(res.Origins) && s.queue != nil {
		res.QueuedForBatch = s.queue.Add(hash, data)
	}
	if res.MatcherError != "" {
		return res, nil
	}

	if err := cache.SetJSON(ctx, s.cache, key, res, cache.TTLImage); err != nil {
		s.log.Warn("image cache write failed", "hash", hash, "error", err)
	}
	s.storeOrigin(ctx, res)
	return res, nil
}

func (s *Service) storeOrigin(ctx context.Context, res *Result) {
	if s.lineage == nil {
		return
	}
	origin := domain.NotFound("no reverse image matches")
	if len(res.Origins) > 0 {
		origin = domain.FoundOrigin(res.Origins[0])
	}
	a := domain.NewSimpleAssignment(res.QueryHash, domain.ContentImage, origin, res.Confidence)
	if _, err := s.lineage.StoreOrigin(ctx, res.QueryHash, domain.ContentImage, a); err != nil {
		s.log.Warn("image lineage store failed", "hash", res.QueryHash, "error", err)
	}
}

// CollectReport summarizes one pass over submitted batches.
type CollectReport struct {
	Checked   int      `json:"checked"`
	Completed int      `json:"completed"`
	Recached  int      `json:"recached"`
	Errors    []string `json:"errors,omitempty"`
}

// CollectBatches polls submitted batches and overwrites the cached result of every image in a complete one.
func (s *Service) CollectBatches(ctx context.Context) CollectReport {
	var rep CollectReport
	if s.queue == nil || s.batches == nil {
		return rep
	}
	for _, id := range s.queue.Pending() {
		rep.Checked++
		br, err := s.batches.BatchResults(ctx, id)
		if err != nil {
			s.log.Warn("batch poll failed", "batch_id", id, "error", err)
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if !br.Complete {
			continue
		}
		rep.Completed++
		for hash, hits := range br.Matches {
			res := &Result{
				QueryHash: hash,
				Source:    SourceBatch,
				CreatedAt: s.now().UTC(),
			}
			for _, h := range hits {
				h.Provenance = domain.ProvenanceBatchMatch
				res.Origins = append(res.Origins, h)
			}
			res.Origins = TopOrigins(res.Origins, maxOrigins)
			res.Confidence = Confidence(res.Origins)
			if err := cache.SetJSON(ctx, s.cache, fingerprint.Key("image_search", hash), res, cache.TTLBatch); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", hash, err))
				continue
			}
			rep.Recached++
			s.storeOrigin(ctx, res)
		}
		s.queue.Done(id)
	}
	return rep
}

// BatchRun is the outcome of the scheduled batch job.
type BatchRun struct {
	Submit  matchqueue.Result `json:"submit"`
	Collect CollectReport     `json:"collect"`
}

// RunBatch submits queued images, then collects finished batches.
func (s *Service) RunBatch(ctx context.Context) (BatchRun, error) {
	var run BatchRun
	if s.queue == nil {
		return run, errors.New("imagesearch: batch queue not configured")
	}
	run.Submit = s.queue.Process(ctx)
	run.Collect = s.CollectBatches(ctx)
	if run.Submit.Status == matchqueue.StatusError {
		return run, fmt.Errorf("imagesearch: submit batch: %s", run.Submit.Error)
	}
	return run, nil
}

// TopOrigins sorts by score descending and keeps at most n. Equal scores keep their input order.
func TopOrigins(hits []domain.OriginHit, n int) []domain.OriginHit {
	out := append([]domain.OriginHit(nil), hits...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Confidence weights the top three scores 0.6, 0.3 and 0.1, normalized by the weights used.
func Confidence(origins []domain.OriginHit) float64 {
	var sum, weights float64
	for i, w := range confidenceWeights {
		if i >= len(origins) {
			break
		}
		sum += origins[i].Score * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func weak(origins []domain.OriginHit) bool {
	if len(origins) < weakMinOrigins {
		return true
	}
	var best float64
	for _, o := range origins {
		if o.Score > best {
			best = o.Score
		}
	}
	return best < weakMaxScore
}
