package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dpeinsight/backend/internal/config"
)

// Syncer refreshes the stored datasets of a list of departments
type Syncer interface {
	Sync(ctx context.Context, departments []string, newHousing bool, limit *int) error
}

// Scheduler runs the department sync on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	syncer  Syncer
	cfg     config.SyncConfig
	timeout time.Duration
	logger  *slog.Logger
}

// New registers the sync job. Standard five-field expressions and
// descriptors such as @daily are accepted
func New(syncer Syncer, cfg config.SyncConfig, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		syncer:  syncer,
		cfg:     cfg,
		timeout: timeout,
		logger:  slog.Default().With("component", "scheduler"),
	}

	id, err := s.cron.AddFunc(cfg.Cron, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Scheduled sync finished with errors", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cfg.Cron, err)
	}
	s.entry = id
	return s, nil
}

// RunOnce syncs every configured department now
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var limit *int
	if s.cfg.Limit > 0 {
		l := s.cfg.Limit
		limit = &l
	}
	start := time.Now()
	s.logger.Info("Starting sync", "departments", s.cfg.Departments, "new", s.cfg.New)
	err := s.syncer.Sync(ctx, s.cfg.Departments, s.cfg.New, limit)
	s.logger.Info("Sync finished", "elapsed", time.Since(start).Round(time.Millisecond))
	return err
}

// Next returns the next scheduled run, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "cron", s.cfg.Cron, "next", s.Next())
}

// Stop halts the schedule and waits for a running sync up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out, sync still running")
	}
}
