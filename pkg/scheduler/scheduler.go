// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package scheduler runs named maintenance jobs on cron schedules, such as
// the idle-model eviction sweep and store compaction.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/store"
	"github.com/mofa-org/mofa/pkg/types"
)

var (
	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = types.WithCategory(types.ErrInvalidInput, errors.New("job already registered"))
	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = types.WithCategory(types.ErrNotFound, errors.New("job not found"))
	// ErrJobRunning is returned when a SkipIfRunning job is triggered while
	// a previous run is in flight.
	ErrJobRunning = types.WithCategory(types.ErrResourceLimit, errors.New("job is still running"))
)

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) error

// Job is a named function run on a cron spec. Specs use the standard five
// field syntax or descriptors such as "@every 30s" and "@hourly".
type Job struct {
	Name          string
	Spec          string
	Run           JobFunc
	SkipIfRunning bool
	Timeout       time.Duration
}

// Every returns the spec for a fixed interval. Cron rounds intervals below
// one second up to one second.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Record is the persisted run history of a job.
type Record struct {
	Name            string        `json:"name"`
	Spec            string        `json:"spec"`
	Paused          bool          `json:"paused"`
	Runs            uint64        `json:"runs"`
	Failures        uint64        `json:"failures"`
	Skipped         uint64        `json:"skipped"`
	LastRun         time.Time     `json:"last_run"`
	LastDuration    time.Duration `json:"last_duration"`
	LastError       string        `json:"last_error,omitempty"`
	LastExecutionID string        `json:"last_execution_id,omitempty"`
}

// Status is a Record plus live scheduling state.
type Status struct {
	Record
	Running bool
	Next    time.Time
}

// Config configures a Scheduler. History is optional; when set, job
// records survive restarts.
type Config struct {
	History  store.Repository[Record]
	Location *time.Location
	Logger   *zap.Logger
	Tracer   observability.Tracer
}

type job struct {
	Job
	rec       Record
	entry     cron.EntryID
	scheduled bool
	running   bool
}

// Scheduler owns a cron engine and the jobs registered on it.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	logger *zap.Logger
	tracer observability.Tracer

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.Tracer = observability.OrNoOp(cfg.Tracer)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{cfg.Logger.Named("cron").Sugar()}),
		),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers j. A persisted record for the same name restores the run
// counters and the paused flag.
func (s *Scheduler) Add(ctx context.Context, j Job) error {
	if j.Name == "" {
		return fmt.Errorf("%w: job name is required", types.ErrInvalidInput)
	}
	if j.Run == nil {
		return fmt.Errorf("%w: job %s has no function", types.ErrInvalidInput, j.Name)
	}
	if _, err := cron.ParseStandard(j.Spec); err != nil {
		return fmt.Errorf("%w: job %s: invalid spec %q: %v", types.ErrInvalidInput, j.Name, j.Spec, err)
	}

	rec := Record{Name: j.Name, Spec: j.Spec}
	if s.cfg.History != nil {
		prev, ok, err := s.cfg.History.Get(ctx, j.Name)
		if err != nil {
			s.logger.Warn("scheduler_history_load_failed", zap.String("job", j.Name), zap.Error(err))
		} else if ok {
			rec = prev
			rec.Spec = j.Spec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, j.Name)
	}
	jb := &job{Job: j, rec: rec}
	if s.started && !s.stopped && !rec.Paused {
		if err := s.scheduleLocked(jb); err != nil {
			return err
		}
	}
	s.jobs[j.Name] = jb
	s.logger.Info("scheduler_job_added", zap.String("job", j.Name), zap.String("spec", j.Spec), zap.Bool("paused", rec.Paused))
	return nil
}

func (s *Scheduler) scheduleLocked(j *job) error {
	name := j.Name
	id, err := s.cron.AddFunc(j.Spec, func() {
		_ = s.run(s.ctx, name)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.entry = id
	j.scheduled = true
	return nil
}

func (s *Scheduler) unscheduleLocked(j *job) {
	if j.scheduled {
		s.cron.Remove(j.entry)
		j.scheduled = false
	}
}

// Remove unregisters a job. A run in flight finishes.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.unscheduleLocked(j)
	delete(s.jobs, name)
	return nil
}

// Pause stops scheduled runs of a job. Trigger still runs it.
func (s *Scheduler) Pause(ctx context.Context, name string) error {
	return s.setPaused(ctx, name, true)
}

// Resume re-enables scheduled runs of a paused job.
func (s *Scheduler) Resume(ctx context.Context, name string) error {
	return s.setPaused(ctx, name, false)
}

func (s *Scheduler) setPaused(ctx context.Context, name string, paused bool) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	j.rec.Paused = paused
	if paused {
		s.unscheduleLocked(j)
	} else if s.started && !s.stopped && !j.scheduled {
		if err := s.scheduleLocked(j); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	rec := j.rec
	s.mu.Unlock()

	s.persist(ctx, rec)
	return nil
}

// Trigger runs a job now on the caller's goroutine and returns its error.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	return s.run(ctx, name)
}

func (s *Scheduler) run(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if j.running && j.SkipIfRunning {
		j.rec.Skipped++
		rec := j.rec
		s.mu.Unlock()
		s.logger.Info("scheduler_job_skipped", zap.String("job", name))
		s.persist(ctx, rec)
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	j.running = true
	fn, timeout := j.Run, j.Timeout
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	execID := uuid.New().String()
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	runCtx, span := s.tracer.StartSpan(runCtx, observability.SpanSchedulerJob,
		observability.WithAttribute("job", name),
		observability.WithAttribute(observability.AttrExecutionID, execID))
	defer s.tracer.EndSpan(span)

	start := time.Now()
	err := safeRun(runCtx, fn)
	elapsed := time.Since(start)

	s.mu.Lock()
	j.running = false
	j.rec.Runs++
	j.rec.LastRun = start
	j.rec.LastDuration = elapsed
	j.rec.LastExecutionID = execID
	j.rec.LastError = ""
	if err != nil {
		j.rec.Failures++
		j.rec.LastError = err.Error()
	}
	rec := j.rec
	s.mu.Unlock()

	result := "success"
	fields := []zap.Field{
		zap.String("job", name),
		zap.String(observability.AttrExecutionID, execID),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		result = "failure"
		span.RecordError(err)
		s.logger.Error("scheduler_job_failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("scheduler_job_completed", fields...)
	}
	s.tracer.RecordMetric(observability.MetricSchedulerRuns, 1, map[string]string{"job": name, "result": result})
	s.persist(ctx, rec)
	return err
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: job panicked: %v\n%s", types.ErrFatal, r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) persist(ctx context.Context, rec Record) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.Save(context.WithoutCancel(ctx), rec.Name, rec); err != nil {
		s.logger.Warn("scheduler_history_save_failed", zap.String("job", rec.Name), zap.Error(err))
	}
}

// Start schedules every unpaused job and starts the cron engine. Scheduled
// runs receive a context that is cancelled by Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler already stopped")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	stop := context.AfterFunc(ctx, s.cancel)
	for _, j := range s.jobs {
		if j.rec.Paused {
			continue
		}
		if err := s.scheduleLocked(j); err != nil {
			stop()
			return err
		}
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler_started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the cron engine and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			s.logger.Warn("scheduler_stop_timeout")
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler_stop_timeout")
		return ctx.Err()
	}
	s.logger.Info("scheduler_stopped")
	return nil
}

// Jobs returns the status of every job, sorted by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := Status{Record: j.rec, Running: j.running}
		if j.scheduled {
			st.Next = s.cron.Entry(j.entry).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Job returns the status of one job.
func (s *Scheduler) Job(name string) (Status, bool) {
	for _, st := range s.Jobs() {
		if st.Name == name {
			return st, true
		}
	}
	return Status{}, false
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
