package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

// Func runs one job. Its result is stored as the job's final result.
type Func func(ctx context.Context, t *Tracker) (any, error)

type Runner struct {
	log      *logger.Logger
	reporter *Reporter
	cache    cache.Cache
	base     context.Context
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewRunner runs jobs under base; cancelling base cancels running jobs.
func NewRunner(base context.Context, log *logger.Logger, reporter *Reporter, c cache.Cache, timeout time.Duration) *Runner {
	if base == nil {
		base = context.Background()
	}
	return &Runner{
		log:      log.With("service", "JobRunner"),
		reporter: reporter,
		cache:    c,
		base:     base,
		timeout:  timeout,
	}
}

func resultKey(kind domain.JobKind, id string) string {
	return fingerprint.Key(string(kind)+"_result", id)
}

// Submit records a starting snapshot and runs fn in the background. It returns the job id.
func (r *Runner) Submit(kind domain.JobKind, fn Func) string {
	id := uuid.NewString()
	t := r.reporter.Track(id, kind)
	t.Stage(r.base, domain.StageStarting, "Job accepted")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.reporter.forget(id)
		ctx, cancel := r.jobContext()
		defer cancel()
		start := time.Now()

		res, err := r.run(ctx, t, fn)

		// Final writes must land even when the job context expired.
		final, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer finalCancel()
		// A failed job may still carry a partial result.
		if res != nil {
			if err := cache.SetJSON(final, r.cache, resultKey(kind, id), res, cache.TTLResult); err != nil {
				r.log.Warn("job result write failed", "job_id", id, "error", err)
			}
		}
		if err != nil {
			r.log.Warn("job failed", "job_id", id, "kind", kind, "error", err)
			observability.Current().IncPipelineResult(string(kind), "error")
			t.Fail(final, err)
			return
		}
		observability.Current().IncPipelineResult(string(kind), "ok")
		observability.Current().ObserveStage(string(kind), "total", time.Since(start))
		t.Complete(final, "Processing complete")
	}()
	return id
}

func (r *Runner) jobContext() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(r.base, r.timeout)
	}
	return context.WithCancel(r.base)
}

func (r *Runner) run(ctx context.Context, t *Tracker, fn Func) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Job panic", "job_id", t.ID(), "panic", p)
			err = &panicError{Val: p}
		}
	}()
	return fn(ctx, t)
}

// Result returns the stored final result for id.
func (r *Runner) Result(ctx context.Context, id string) (json.RawMessage, bool, error) {
	for _, kind := range []domain.JobKind{domain.JobKindVideo, domain.JobKindAudio} {
		raw, ok, err := r.cache.Get(ctx, resultKey(kind, id))
		if err != nil {
			return nil, false, err
		}
		if ok {
			return raw, true, nil
		}
	}
	return nil, false, nil
}

func (r *Runner) Snapshot(ctx context.Context, id string) (domain.Job, bool, error) {
	return r.reporter.Snapshot(ctx, id)
}

// Wait blocks until submitted jobs return.
func (r *Runner) Wait() {
	r.wg.Wait()
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
