// Package scheduler runs the periodic batch jobs and lets callers force a run out of band.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	JobLineageBuild = "lineage_build"
	JobMatchBatch   = "match_batch"

	TriggerSchedule = "schedule"
	TriggerForced   = "forced"
)

// Func runs one batch job. The returned value is reported to forced callers.
type Func func(ctx context.Context) (any, error)

// JobState is a read-only view of one registered job.
type JobState struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

type entry struct {
	name     string
	schedule string
	fn       Func
	id       cron.EntryID
	lastRun  *time.Time
	lastErr  string
	runs     int
}

// Scheduler owns its cron runner and per-job run state. Forced and scheduled runs are not coordinated.
type Scheduler struct {
	log    *logger.Logger
	ctx    context.Context
	parser cron.Parser
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

// New creates a scheduler whose scheduled runs use ctx.
func New(ctx context.Context, log *logger.Logger) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		log:     log.With("service", "Scheduler"),
		ctx:     ctx,
		parser:  parser,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:     time.Now,
		entries: map[string]*entry{},
	}
}

// Register adds a job. An empty schedule registers it for forced runs only.
func (s *Scheduler) Register(name, schedule string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("scheduler: name and func required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	e := &entry{name: name, schedule: schedule, fn: fn}
	if schedule != "" {
		if _, err := s.parser.Parse(schedule); err != nil {
			return fmt.Errorf("scheduler: parse %q for %s: %w", schedule, name, err)
		}
		id, err := s.cron.AddFunc(schedule, func() {
			if _, err := s.run(s.ctx, e, TriggerSchedule); err != nil {
				s.log.Warn("scheduled job failed", "job", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduler: add %s: %w", name, err)
		}
		e.id = id
	}
	s.entries[name] = e
	s.log.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.entries))
}

// Stop halts scheduling and waits for running scheduled jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// ErrUnknownJob is returned by ForceRun for unregistered names.
type ErrUnknownJob struct{ Name string }

func (e *ErrUnknownJob) Error() string { return fmt.Sprintf("scheduler: unknown job %q", e.Name) }

// ForceRun runs name synchronously and records it as the latest run.
func (s *Scheduler) ForceRun(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, &ErrUnknownJob{Name: name}
	}
	return s.run(ctx, e, TriggerForced)
}

func (s *Scheduler) run(ctx context.Context, e *entry, trigger string) (out any, err error) {
	start := s.now()
	s.log.Info("batch job started", "job", e.name, "trigger", trigger)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: %s panic: %v", e.name, p)
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.Current().ObserveSchedulerRun(e.name, trigger, status, s.now().Sub(start))

		s.mu.Lock()
		at := start.UTC()
		e.lastRun = &at
		e.runs++
		e.lastErr = ""
		if err != nil {
			e.lastErr = err.Error()
		}
		s.mu.Unlock()
		s.log.Info("batch job finished", "job", e.name, "trigger", trigger, "status", status, "duration", s.now().Sub(start).String())
	}()
	return e.fn(ctx)
}

// Status lists registered jobs by name.
func (s *Scheduler) Status() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.entries))
	for _, e := range s.entries {
		st := JobState{Name: e.name, Schedule: e.schedule, LastError: e.lastErr, Runs: e.runs}
		if e.lastRun != nil {
			t := *e.lastRun
			st.LastRun = &t
		}
		if e.id != 0 && s.started {
			if next := s.cron.Entry(e.id).Next; !next.IsZero() {
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
