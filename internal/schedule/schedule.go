// Package schedule runs a sync of the current week on a cron schedule, with
// the calendar export downloaded from a URL on every tick.
package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"bubusync/internal/config"
	"bubusync/internal/ics"
	appLog "bubusync/internal/log"
	"bubusync/internal/model"
)

// Syncer is the part of syncer.Service the scheduler needs.
type Syncer interface {
	Synchronize(ctx context.Context, calendar []byte, week ics.Week) (model.Report, error)
}

// Source yields the calendar export for one run.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Scheduler triggers RunOnce according to cfg.Schedule.Cron.
type Scheduler struct {
	cfg    *config.Config
	syncer Syncer
	source Source
	cron   *cron.Cron
}

// New validates the schedule and returns a stopped Scheduler.
func New(cfg *config.Config, s Syncer, src Source) (*Scheduler, error) {
	if cfg.Schedule.ICSURL == "" {
		return nil, errors.New("schedule: ics_url is not configured")
	}

	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	sc := &Scheduler{cfg: cfg, syncer: s, source: src, cron: c}
	if _, err := c.AddFunc(cfg.Schedule.Cron, func() {
		// A tick has no caller to report to; errors end up in the log.
		_, _ = sc.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron %q: %w", cfg.Schedule.Cron, err)
	}
	return sc, nil
}

// Start begins firing scheduled runs in the background.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "cron", s.cfg.Schedule.Cron, "timezone", s.cfg.Location().String())
	s.cron.Start()
}

// Stop stops the scheduler and returns a context that is done once a run
// in progress has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce downloads the export and syncs the current week.
func (s *Scheduler) RunOnce(ctx context.Context) (model.Report, error) {
	calendar, err := s.source.Fetch(ctx, s.cfg.Schedule.ICSURL)
	if err != nil {
		appLog.Error("scheduled sync: fetch failed", err)
		return model.Report{}, err
	}

	report, err := s.syncer.Synchronize(ctx, calendar, ics.CurrentWeek)
	if err != nil {
		appLog.Error("scheduled sync failed", err, "run_id", report.RunID)
		return report, err
	}

	for _, f := range report.Failures() {
		appLog.Info("scheduled sync: lesson not booked",
			"run_id", report.RunID,
			"phone", f.Candidate.Phone,
			"date", f.Candidate.Key(),
			"reason", f.Reason,
		)
	}
	return report, nil
}
