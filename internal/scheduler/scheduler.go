package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

// TriggerType is the trigger recorded for scheduled runs.
const TriggerType = "schedule"

const (
	DefaultTick     = 60 * time.Second
	DefaultPoolSize = 4
)

// FlowRunner runs a diagram by id. Satisfied by *engine.Engine.
type FlowRunner interface {
	RunFlow(ctx context.Context, diagramID string, vars map[string]any) (*schema.RunResult, error)
}

// ScheduleStore is the part of store.Store the scheduler needs.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sched *store.Schedule) error
	UpdateSchedule(ctx context.Context, id string, update store.ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets the polling interval.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// WithPoolSize bounds how many scheduled runs execute at once.
func WithPoolSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// Scheduler polls the store for due schedules and runs their diagrams.
type Scheduler struct {
	store     ScheduleStore
	runner    FlowRunner
	parser    cron.Parser
	logger    *slog.Logger
	tickEvery time.Duration
	poolSize  int
	pool      *ants.Pool

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a Scheduler with its dispatch pool.
func NewScheduler(s ScheduleStore, runner FlowRunner, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:     s,
		runner:    runner,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:    logger,
		tickEvery: DefaultTick,
		poolSize:  DefaultPoolSize,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	pool, err := ants.NewPool(sched.poolSize)
	if err != nil {
		return nil, fmt.Errorf("create schedule pool: %w", err)
	}
	sched.pool = pool
	return sched, nil
}

// Add validates the cron expression, computes the first run and stores sched.
func (s *Scheduler) Add(ctx context.Context, sched *store.Schedule) error {
	next, err := s.CalculateNextRun(sched.CronExpression, time.Now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	sched.NextRunAt = &next
	return s.store.CreateSchedule(ctx, sched)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("tick", s.tickEvery))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled schedule that is due and waits for them to finish.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	s.dispatch(ctx, now, func(sc *store.Schedule) bool {
		return sc.NextRunAt == nil || !sc.NextRunAt.After(now)
	})
}

// RecoverMissed runs once every enabled schedule whose next_run_at has passed.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	now := time.Now().UTC()
	n, err := s.dispatch(ctx, now, func(sc *store.Schedule) bool {
		return sc.NextRunAt != nil && sc.NextRunAt.Before(now)
	})
	if err != nil {
		return fmt.Errorf("list missed schedules: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", n))
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time, due func(*store.Schedule) bool) (int, error) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return 0, err
	}

	var wg sync.WaitGroup
	started := 0
	for _, sc := range schedules {
		if !due(sc) || !s.tryAcquire(sc.ID) {
			continue
		}
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			defer s.release(sc.ID)
			if err := s.runSchedule(ctx, sc, now); err != nil {
				s.logger.Error("failed to run schedule",
					slog.String("schedule_id", sc.ID),
					slog.String("error", err.Error()),
				)
			}
		})
		if err != nil {
			wg.Done()
			s.release(sc.ID)
			s.logger.Error("failed to submit schedule",
				slog.String("schedule_id", sc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
	}
	wg.Wait()
	return started, nil
}

// runSchedule runs the schedule's diagram and records the outcome.
func (s *Scheduler) runSchedule(ctx context.Context, sc *store.Schedule, now time.Time) error {
	s.logger.Info("running schedule",
		slog.String("schedule_id", sc.ID),
		slog.String("diagram_id", sc.DiagramID),
	)

	res, err := s.runner.RunFlow(engine.WithTriggerType(ctx, TriggerType), sc.DiagramID, sc.Variables)
	status := string(schema.RunStatusFailed)
	if res != nil {
		status = string(engine.RunStatusOf(res))
	}
	if err != nil {
		s.logger.Error("scheduled run failed",
			slog.String("schedule_id", sc.ID),
			slog.String("error", err.Error()),
		)
	}

	next, cerr := s.CalculateNextRun(sc.CronExpression, now)
	if cerr != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sc.ID, cerr)
	}
	return s.store.UpdateSchedule(ctx, sc.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: &status,
	})
}

// tryAcquire returns true and marks the schedule as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a 5-field cron expression
// or a descriptor such as "@hourly".
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduling loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Close stops the loop and releases the dispatch pool.
func (s *Scheduler) Close() error {
	err := s.Stop()
	s.pool.Release()
	return err
}

var _ FlowRunner = (*engine.Engine)(nil)
