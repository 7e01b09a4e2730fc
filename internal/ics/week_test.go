package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bubusync/internal/model"
)

var msk = time.FixedZone("UTC+3", 3*3600)

func TestWeekWindow(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		week     Week
		from, to string
	}{
		{"wednesday", time.Date(2024, 3, 6, 12, 0, 0, 0, msk), CurrentWeek, "2024-03-04", "2024-03-11"},
		{"monday midnight", time.Date(2024, 3, 4, 0, 0, 0, 0, msk), CurrentWeek, "2024-03-04", "2024-03-11"},
		{"sunday night", time.Date(2024, 3, 10, 23, 59, 0, 0, msk), CurrentWeek, "2024-03-04", "2024-03-11"},
		{"last week", time.Date(2024, 3, 6, 12, 0, 0, 0, msk), LastWeek, "2024-02-26", "2024-03-04"},
		// Sunday 22:00 UTC is already Monday in UTC+3.
		{"utc clock", time.Date(2024, 3, 3, 22, 0, 0, 0, time.UTC), CurrentWeek, "2024-03-04", "2024-03-11"},
		{"year boundary", time.Date(2025, 1, 1, 9, 0, 0, 0, msk), LastWeek, "2024-12-23", "2024-12-30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := WeekWindow(tt.now, tt.week, msk)
			assert.Equal(t, tt.from, from.Format(time.DateOnly))
			assert.Equal(t, tt.to, to.Format(time.DateOnly))
			assert.Equal(t, time.Monday, from.Weekday())
			assert.Equal(t, 0, from.Hour())
			assert.Equal(t, 7*24*time.Hour, to.Sub(from))
		})
	}
}

func TestFilterToWeek(t *testing.T) {
	at := func(s string) model.LessonCandidate {
		d, err := time.ParseInLocation(model.DedupLayout, s, msk)
		require.NoError(t, err)
		return model.LessonCandidate{Phone: "+70000000001", Date: d}
	}
	candidates := []model.LessonCandidate{
		at("2024-03-03 23:59"),
		at("2024-03-04 00:00"),
		at("2024-03-07 10:00"),
		at("2024-03-10 23:59"),
		at("2024-03-11 00:00"),
		at("2024-02-26 10:00"),
	}
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, msk)

	got := FilterToWeek(candidates, now, CurrentWeek, msk)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-03-04 00:00", got[0].Key())
	assert.Equal(t, "2024-03-07 10:00", got[1].Key())
	assert.Equal(t, "2024-03-10 23:59", got[2].Key())

	got = FilterToWeek(candidates, now, LastWeek, msk)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-03-03 23:59", got[0].Key())
	assert.Equal(t, "2024-02-26 10:00", got[1].Key())
}

func TestParseWeek(t *testing.T) {
	for in, want := range map[string]Week{"": CurrentWeek, "current": CurrentWeek, "last": LastWeek, "previous": LastWeek} {
		got, ok := ParseWeek(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseWeek("next")
	assert.False(t, ok)

	assert.Equal(t, "current", CurrentWeek.String())
	assert.Equal(t, "last", LastWeek.String())
}
