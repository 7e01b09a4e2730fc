package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "bubusync/internal/log"
	"bubusync/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandConfig controls how recurring lessons are expanded.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd)
	// occurrences must fall in.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences is a safety cap per recurring event. Zero means
	// defaultMaxOccurrences.
	MaxOccurrences int
}

// ExpandRecurring replaces every candidate carrying an RRULE by its
// occurrences inside the window. Single events pass through unchanged, so
// the caller still has to apply the week filter. Output keeps the input
// order, with occurrences of one event in chronological order.
//
// A rule that cannot be parsed keeps the candidate as a single event and is
// logged; recurrence is an enrichment, not a reason to abort a sync.
func ExpandRecurring(candidates []model.LessonCandidate, cfg ExpandConfig) ([]model.LessonCandidate, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	out := make([]model.LessonCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.RRule == "" {
			out = append(out, c)
			continue
		}
		occ, err := expandCandidate(c, cfg)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "phone", c.Phone, "rrule", c.RRule)
			out = append(out, c)
			continue
		}
		out = append(out, occ...)
	}
	return out, nil
}

func expandCandidate(c model.LessonCandidate, cfg ExpandConfig) ([]model.LessonCandidate, error) {
	r, err := rrule.StrToRRule(c.RRule)
	if err != nil {
		return nil, err
	}
	r.DTStart(c.Date)

	// Between is inclusive on both ends with inc=true; the window is
	// half-open so occurrences at RangeEnd are dropped below.
	loc := c.Date.Location()
	times := r.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)
	if len(times) > cfg.MaxOccurrences {
		appLog.Error("expand: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"phone", c.Phone,
			"cap", cfg.MaxOccurrences,
		)
		times = times[:cfg.MaxOccurrences]
	}

	out := make([]model.LessonCandidate, 0, len(times))
	for _, t := range times {
		if !t.Before(cfg.RangeEnd) {
			continue
		}
		out = append(out, model.LessonCandidate{
			Phone: c.Phone,
			Date:  t.In(loc),
			RRule: c.RRule,
		})
	}
	return out, nil
}
