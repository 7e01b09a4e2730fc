package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"bubusync/internal/config"
	"bubusync/internal/crm"
	"bubusync/internal/ics"
	appLog "bubusync/internal/log"
	"bubusync/internal/model"
)

// ErrBusy is returned by Service.Synchronize while another sync runs.
var ErrBusy = errors.New("a sync is already running")

// Synchronize performs one full run: extract lessons of the selected week
// from calendar, log in, drop lessons that already exist, book the rest and
// log out.
//
// Input and config errors are returned before any network call. Once logged
// in, logout always runs, and its failure never replaces the returned
// outcome. Per-lesson failures are part of the report, not errors.
func Synchronize(ctx context.Context, cfg *config.Config, calendar []byte, week ics.Week) (model.Report, error) {
	return synchronize(ctx, cfg, calendar, week, time.Now())
}

func synchronize(ctx context.Context, cfg *config.Config, calendar []byte, week ics.Week, now time.Time) (report model.Report, err error) {
	report.RunID = uuid.NewString()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return report, err
	}

	loc := cfg.Location()
	report.WeekStart, report.WeekEnd = ics.WeekWindow(now, week, loc)

	candidates, err := ics.NewExtractor(cfg.UTCOffsetHours).Extract(calendar)
	if err != nil {
		return report, err
	}
	if cfg.ExpandRecurring {
		candidates, err = ics.ExpandRecurring(candidates, ics.ExpandConfig{
			RangeStart: report.WeekStart,
			RangeEnd:   report.WeekEnd,
		})
		if err != nil {
			return report, err
		}
	}
	candidates = ics.FilterRange(candidates, report.WeekStart, report.WeekEnd)
	report.Extracted = len(candidates)

	appLog.Info("lessons extracted",
		"run_id", report.RunID,
		"week", week.String(),
		"from", report.WeekStart.Format(time.DateOnly),
		"to", report.WeekEnd.Format(time.DateOnly),
		"lessons", report.Extracted,
	)

	client := crm.NewClient(cfg.BaseURL, cfg.RequestTimeout)
	sess, err := client.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return report, err
	}
	defer sess.Logout(context.WithoutCancel(ctx))

	dir, err := crm.BuildDirectory(ctx, sess, cfg.UserID, cfg.ProductIDs)
	if err != nil {
		return report, err
	}

	eng := &Engine{
		UserID:     cfg.UserID,
		ProductIDs: cfg.ProductIDs,
		Now:        func() time.Time { return now.In(loc) },
	}
	report.Results, report.Duplicates, err = eng.Run(ctx, sess, dir, candidates)
	if err != nil {
		return report, err
	}

	appLog.Info("sync finished",
		"run_id", report.RunID,
		"processed", len(report.Results),
		"created", report.Created(),
		"failed", len(report.Failures()),
		"duplicates", report.Duplicates,
		"elapsed", appLog.Since(start),
	)
	return report, nil
}

// Service serializes syncs coming from several shells (CLI, HTTP upload,
// scheduler). Two syncs never overlap; a second caller gets ErrBusy instead
// of waiting.
type Service struct {
	cfg *config.Config
	now func() time.Time

	mu sync.Mutex
}

// NewService returns a Service running syncs with cfg.
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg, now: time.Now}
}

// Synchronize runs one sync unless another one is in progress.
func (s *Service) Synchronize(ctx context.Context, calendar []byte, week ics.Week) (model.Report, error) {
	if !s.mu.TryLock() {
		return model.Report{}, ErrBusy
	}
	defer s.mu.Unlock()

	return synchronize(ctx, s.cfg, calendar, week, s.now())
}
