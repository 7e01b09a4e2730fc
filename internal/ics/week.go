package ics

import (
	"time"

	"bubusync/internal/model"
)

// Week selects which Monday-to-Monday window a sync covers, as an offset in
// weeks from the current one.
type Week int

const (
	CurrentWeek Week = 0
	LastWeek    Week = -1
)

// ParseWeek maps the shell-facing names "current" and "last" to a Week.
func ParseWeek(s string) (Week, bool) {
	switch s {
	case "", "current":
		return CurrentWeek, true
	case "last", "previous":
		return LastWeek, true
	default:
		return CurrentWeek, false
	}
}

func (w Week) String() string {
	if w == LastWeek {
		return "last"
	}
	return "current"
}

// WeekWindow returns [from, to) for the week containing now, shifted by
// offset weeks. from is the most recent Monday on or before now's date at
// 00:00 in loc; to is exactly seven days later.
func WeekWindow(now time.Time, offset Week, loc *time.Location) (from, to time.Time) {
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	// time.Weekday counts from Sunday; shift so Monday is 0.
	back := (int(day.Weekday()) + 6) % 7
	from = day.AddDate(0, 0, -back+7*int(offset))
	to = from.AddDate(0, 0, 7)
	return from, to
}

// FilterToWeek keeps the candidates whose date falls inside the window
// selected by offset, preserving order.
func FilterToWeek(candidates []model.LessonCandidate, now time.Time, offset Week, loc *time.Location) []model.LessonCandidate {
	from, to := WeekWindow(now, offset, loc)
	return FilterRange(candidates, from, to)
}

// FilterRange keeps candidates with from <= Date < to.
func FilterRange(candidates []model.LessonCandidate, from, to time.Time) []model.LessonCandidate {
	out := make([]model.LessonCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Date.Before(from) && c.Date.Before(to) {
			out = append(out, c)
		}
	}
	return out
}
