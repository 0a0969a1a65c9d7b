// Package sweeper auto-releases jobs whose confirmation window closed.
// A customer who never confirms does not hold the provider's money
// hostage: once the deadline passes, the sweep completes the job and
// triggers the payout.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mworkman/handypay/internal/job"
	"github.com/mworkman/handypay/internal/metrics"
)

const batchSize = 100

// Jobs is the slice of the job service the sweeper drives.
type Jobs interface {
	ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*job.Job, error)
	AutoComplete(ctx context.Context, jobID string) (*job.Job, error)
}

// Sweeper runs the auto-release sweep on a cron schedule.
type Sweeper struct {
	jobs     Jobs
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a sweeper. schedule is a cron expression or a descriptor
// like "@hourly".
func New(jobs Jobs, schedule string, logger *slog.Logger) *Sweeper {
	log := logger.With("component", "sweeper")
	return &Sweeper{
		jobs:     jobs,
		schedule: schedule,
		logger:   log,
		now:      time.Now,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(printfAdapter{log})),
		)),
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("auto-release sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached while a sweep was running")
	}
}

// Sweep releases every job strictly past its confirmation deadline.
// Per-job failures are logged and skipped; the next sweep retries them.
func (s *Sweeper) Sweep(ctx context.Context) (released int) {
	metrics.SweepRunsTotal.Inc()
	start := s.now()

	for {
		due, err := s.jobs.ListConfirmationDue(ctx, start, batchSize)
		if err != nil {
			s.logger.Error("listing jobs due for release", "error", err)
			return released
		}
		if len(due) == 0 {
			break
		}

		progressed := false
		for _, j := range due {
			if ctx.Err() != nil {
				return released
			}
			if _, err := s.jobs.AutoComplete(ctx, j.ID); err != nil {
				if errors.Is(err, job.ErrInvalidStateTransition) {
					// Confirmed or cancelled between listing and now.
					continue
				}
				s.logger.Error("auto-release failed", "jobId", j.ID, "error", err)
				continue
			}
			progressed = true
			released++
			metrics.SweepReleasedTotal.Inc()
			s.logger.Info("job auto-released", "jobId", j.ID,
				"confirmBy", j.ConfirmBy, "providerId", j.ProviderID)
		}

		if len(due) < batchSize {
			break
		}
		if !progressed {
			// Every job in a full batch failed; bail rather than spin on
			// the same page forever.
			s.logger.Warn("sweep made no progress on a full batch, stopping early")
			break
		}
	}

	if released > 0 {
		s.logger.Info("sweep complete", "released", released, "took", time.Since(start))
	}
	return released
}

// printfAdapter bridges slog into the cron logger interface.
type printfAdapter struct {
	log *slog.Logger
}

func (p printfAdapter) Printf(format string, args ...any) {
	p.log.Error("cron: "+format, "args", args)
}
