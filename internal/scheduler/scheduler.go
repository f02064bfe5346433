// Package scheduler is the bot's single cooperative run loop. Jobs run inline, one at a time,
// so no job ever overlaps another or itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"versebot/internal/clock"
	"versebot/internal/metrics"
)

// DefaultTick is the loop resolution.
const DefaultTick = time.Second

type State string

const (
	StateIdle    State = "idle"
	StateDue     State = "due"
	StateRunning State = "running"
)

type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	trigger Trigger
	fn      JobFunc
	state   State
	next    time.Time
	lastRun time.Time
}

type Scheduler struct {
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	tick    time.Duration

	mu      sync.Mutex
	jobs    []*job
	running atomic.Bool
}

func New(clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{clock: clk, log: log.Named("scheduler"), metrics: m, tick: DefaultTick}
}

// SetTick changes the loop resolution. Only tests need anything but DefaultTick.
func (s *Scheduler) SetTick(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// Add registers a job. Its first due time is computed now.
func (s *Scheduler) Add(name string, trigger Trigger, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{name: name, trigger: trigger, fn: fn, state: StateIdle, next: trigger.First(s.clock.Now())}
	s.jobs = append(s.jobs, j)
	s.log.Info("scheduler.job.registered", zap.String("job", name), zap.Time("next", j.next))
}

// Tick runs every job that is due, in registration order, and returns their joined errors.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.state == StateIdle && !now.Before(j.next) {
			j.state = StateDue
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	var errs error
	for _, j := range due {
		errs = errors.Join(errs, s.runJob(ctx, j))
	}
	return errs
}

func (s *Scheduler) runJob(ctx context.Context, j *job) (err error) {
	s.setState(j, StateRunning)
	runID := uuid.NewString()
	start := s.clock.Now()
	log := s.log.With(zap.String("job", j.name), zap.String("run_id", runID))
	log.Info("scheduler.job.start")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		finished := s.clock.Now()
		elapsed := finished.Sub(start)
		s.metrics.JobRun(j.name, elapsed, err)
		fields := []zap.Field{zap.Int64("duration_ms", elapsed.Milliseconds())}
		if err != nil {
			log.Error("scheduler.job.finish", append(fields, zap.Error(err))...)
			err = fmt.Errorf("%s: %w", j.name, err)
		} else {
			log.Info("scheduler.job.finish", fields...)
		}

		s.mu.Lock()
		j.state = StateIdle
		j.lastRun = finished
		j.next = j.trigger.Next(finished)
		s.mu.Unlock()
	}()

	return j.fn(ctx)
}

func (s *Scheduler) setState(j *job, st State) {
	s.mu.Lock()
	j.state = st
	s.mu.Unlock()
}

// Run ticks until ctx is done or Stop is called. A running job always finishes; the job
// context is detached from ctx so shutdown never aborts a remote call mid-flight.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer s.running.Store(false)

	jobCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.log.Info("scheduler.started", zap.Int("jobs", len(s.NextRuns())))

	for s.running.Load() {
		if err := s.Tick(jobCtx); err != nil {
			s.log.Warn("scheduler.tick_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler.stopped", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
		}
	}
	s.log.Info("scheduler.stopped")
	return nil
}

// Stop asks Run to return after the current tick.
func (s *Scheduler) Stop() {
	s.running.Store(false)
}

type NextRun struct {
	Job     string    `json:"job"`
	State   State     `json:"state"`
	Next    time.Time `json:"next"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// NextRuns lists every job ordered by next due time.
func (s *Scheduler) NextRuns() []NextRun {
	s.mu.Lock()
	out := make([]NextRun, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, NextRun{Job: j.name, State: j.state, Next: j.next, LastRun: j.lastRun})
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, k int) bool { return out[i].Next.Before(out[k].Next) })
	return out
}
