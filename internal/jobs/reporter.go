// Package jobs runs media pipelines asynchronously and records their progress snapshots.
package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/sse"
)

type Publisher interface {
	Publish(ctx context.Context, msg sse.Message)
}

// Reporter writes Job snapshots to the cache and publishes them to subscribers.
// Percent never decreases and terminal snapshots are final.
type Reporter struct {
	log   *logger.Logger
	cache cache.Cache
	pub   Publisher
	now   func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobState
}

// jobState serializes updates for one job so writes and publishes keep snapshot order.
type jobState struct {
	mu   sync.Mutex
	last domain.Job
	seen bool
}

func NewReporter(log *logger.Logger, c cache.Cache, pub Publisher) *Reporter {
	return &Reporter{
		log:   log.With("service", "JobReporter"),
		cache: c,
		pub:   pub,
		now:   time.Now,
		jobs:  map[string]*jobState{},
	}
}

func progressKey(kind domain.JobKind, id string) string {
	return fingerprint.Key(string(kind)+"_progress", id)
}

// Track returns the progress handle for one job.
func (r *Reporter) Track(id string, kind domain.JobKind) *Tracker {
	return &Tracker{r: r, id: id, kind: kind}
}

// Snapshot returns the latest stored snapshot for id.
func (r *Reporter) Snapshot(ctx context.Context, id string) (domain.Job, bool, error) {
	for _, kind := range []domain.JobKind{domain.JobKindVideo, domain.JobKindAudio} {
		job, ok, err := cache.GetJSON[domain.Job](ctx, r.cache, progressKey(kind, id))
		if err != nil {
			return domain.Job{}, false, err
		}
		if ok {
			return job, true, nil
		}
	}
	return domain.Job{}, false, nil
}

func (r *Reporter) forget(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

func (r *Reporter) state(id string) *jobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok {
		st = &jobState{}
		r.jobs[id] = st
	}
	return st
}

func (r *Reporter) update(ctx context.Context, id string, kind domain.JobKind, stage domain.Stage, message string, jobErr error) domain.Job {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.last
	if st.seen && prev.Status.Terminal() {
		return prev
	}
	next := domain.Job{
		ID:        id,
		Kind:      kind,
		Status:    stage.Status(),
		Stage:     stage,
		Percent:   prev.Percent,
		Message:   strings.TrimSpace(message),
		UpdatedAt: r.now().UTC(),
	}
	if p, ok := stage.Percent(); ok && p > next.Percent {
		next.Percent = p
	}
	if jobErr != nil {
		next.Error = jobErr.Error()
		if next.Message == "" {
			next.Message = next.Error
		}
	}
	st.last, st.seen = next, true

	if err := cache.SetJSON(ctx, r.cache, progressKey(kind, id), next, cache.TTLProgress); err != nil {
		r.log.Warn("job snapshot write failed", "job_id", id, "stage", stage, "error", err)
	}
	if r.pub != nil {
		event := sse.EventJobProgress
		switch next.Status {
		case domain.JobComplete:
			event = sse.EventJobDone
		case domain.JobError:
			event = sse.EventJobFailed
		}
		if msg, err := sse.NewMessage(sse.JobChannel(id), event, next); err == nil {
			r.pub.Publish(ctx, msg)
		}
	}
	return next
}

// Tracker reports progress for one job. A nil Tracker discards updates.
type Tracker struct {
	r    *Reporter
	id   string
	kind domain.JobKind
}

func (t *Tracker) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

func (t *Tracker) Stage(ctx context.Context, stage domain.Stage, message string) {
	if t == nil {
		return
	}
	t.r.update(ctx, t.id, t.kind, stage, message, nil)
}

func (t *Tracker) Complete(ctx context.Context, message string) {
	if t == nil {
		return
	}
	t.r.update(ctx, t.id, t.kind, domain.StageComplete, message, nil)
}

func (t *Tracker) Fail(ctx context.Context, err error) {
	if t == nil {
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	t.r.update(ctx, t.id, t.kind, domain.StageError, "Processing failed: "+err.Error(), err)
}
