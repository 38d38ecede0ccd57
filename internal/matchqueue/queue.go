// Package matchqueue batches weak reverse-image results for a slower, deeper matcher.
package matchqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/tineye"
)

const (
	DefaultCapacity = 10000
	DefaultFPRate   = 0.001

	StatusEmpty   = "empty"
	StatusSuccess = "success"
	StatusError   = "error"
)

type Submitter interface {
	SubmitBatch(ctx context.Context, images []tineye.Image) (string, error)
}

// Result reports one Process call.
type Result struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	BatchID   string `json:"batch_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Queue owns pending images and the batches submitted for them. Safe for concurrent use.
type Queue struct {
	log       *logger.Logger
	submitter Submitter
	now       func() time.Time

	mu      sync.Mutex
	seen    *bloom.BloomFilter
	items   []tineye.Image
	batches map[string]time.Time
}

// New sizes the dedup filter for capacity entries at fpRate. Zero values use the defaults.
func New(log *logger.Logger, submitter Submitter, capacity uint, fpRate float64) *Queue {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return &Queue{
		log:       log.With("service", "MatchQueue"),
		submitter: submitter,
		now:       time.Now,
		seen:      bloom.NewWithEstimates(capacity, fpRate),
		batches:   map[string]time.Time{},
	}
}

// Add enqueues an image unless its hash was seen before. It reports whether the image was added.
func (q *Queue) Add(hash string, data []byte) bool {
	if hash == "" || len(data) == 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen.TestAndAddString(hash) {
		return false
	}
	q.items = append(q.items, tineye.Image{Hash: hash, Data: data})
	observability.Current().SetMatchQueueDepth(len(q.items))
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Process submits everything queued as one batch. On failure the items go back on the queue.
func (q *Queue) Process(ctx context.Context) Result {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if len(items) == 0 {
		return Result{Status: StatusEmpty}
	}
	if q.submitter == nil {
		q.requeue(items)
		return Result{Status: StatusError, Error: "batch matcher not configured"}
	}

	batchID, err := q.submitter.SubmitBatch(ctx, items)
	if err != nil {
		q.log.Warn("batch submit failed; items requeued", "count", len(items), "error", err)
		q.requeue(items)
		return Result{Status: StatusError, Error: err.Error()}
	}

	q.mu.Lock()
	q.batches[batchID] = q.now().UTC()
	depth := len(q.items)
	q.mu.Unlock()
	observability.Current().SetMatchQueueDepth(depth)
	q.log.Info("batch submitted", "batch_id", batchID, "count", len(items))
	return Result{Status: StatusSuccess, Processed: len(items), BatchID: batchID}
}

func (q *Queue) requeue(items []tineye.Image) {
	q.mu.Lock()
	q.items = append(items, q.items...)
	depth := len(q.items)
	q.mu.Unlock()
	observability.Current().SetMatchQueueDepth(depth)
}

// Pending lists submitted batch ids, oldest first.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.batches))
	for id := range q.batches {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := q.batches[out[i]], q.batches[out[j]]
		if ti.Equal(tj) {
			return out[i] < out[j]
		}
		return ti.Before(tj)
	})
	return out
}

// Done forgets a collected batch.
func (q *Queue) Done(batchID string) {
	q.mu.Lock()
	delete(q.batches, batchID)
	q.mu.Unlock()
}
