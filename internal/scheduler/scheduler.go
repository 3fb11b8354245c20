package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/models"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

type Runner interface {
	RunMonitoringCycle(ctx context.Context) (models.RunReport, error)
}

// Scheduler runs monitoring cycles on a cron schedule. A tick that fires
// while the previous run of this process is still going is dropped; runs in
// other processes are excluded by the runner's lock.
type Scheduler struct {
	log    *slog.Logger
	runner Runner
	parser cron.Parser
	c      *cron.Cron

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(log *slog.Logger, runner Runner, schedule, timezone string) (*Scheduler, error) {
	const op = "scheduler.New"

	if schedule == "" {
		schedule = DefaultSchedule
	}

	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%s: timezone %q: %w", op, timezone, err)
		}
		loc = l
	}

	s := &Scheduler{
		log:    log.With(slog.String("component", "scheduler")),
		runner: runner,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	if _, err := s.c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("%s: schedule %q: %w", op, schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.c.Start()
	s.log.Info("scheduler started", slog.Time("next", s.Next()))
}

// Stop cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.c.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := s.runner.RunMonitoringCycle(ctx)
	if err != nil {
		s.log.Error("scheduled run failed", slog.String("run_id", report.RunID), sl.Err(err))
		return
	}
	s.log.Info("scheduled run finished",
		slog.String("run_id", report.RunID),
		slog.String("state", string(report.State)),
	)
}
