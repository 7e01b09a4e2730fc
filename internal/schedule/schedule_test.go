package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bubusync/internal/config"
	"bubusync/internal/ics"
	"bubusync/internal/model"
)

type fakeSource struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeSource) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.body, f.err
}

type fakeSyncer struct {
	report   model.Report
	err      error
	calendar []byte
	weeks    []ics.Week
}

func (f *fakeSyncer) Synchronize(_ context.Context, calendar []byte, week ics.Week) (model.Report, error) {
	f.calendar = calendar
	f.weeks = append(f.weeks, week)
	return f.report, f.err
}

func scheduledConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Schedule.ICSURL = "https://calendar.example.com/private.ics"
	return cfg
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.DefaultConfig(), &fakeSyncer{}, &fakeSource{})
	assert.Error(t, err)

	cfg := scheduledConfig()
	cfg.Schedule.Cron = "every sunday"
	_, err = New(cfg, &fakeSyncer{}, &fakeSource{})
	assert.Error(t, err)

	sc, err := New(scheduledConfig(), &fakeSyncer{}, &fakeSource{})
	require.NoError(t, err)
	sc.Start()
	<-sc.Stop().Done()
}

func TestRunOnceSyncsCurrentWeek(t *testing.T) {
	src := &fakeSource{body: []byte("BEGIN:VCALENDAR")}
	s := &fakeSyncer{report: model.Report{RunID: "r1", Results: []model.SyncResult{
		{Created: true},
		{Reason: model.ReasonNotFound},
	}}}
	sc, err := New(scheduledConfig(), s, src)
	require.NoError(t, err)

	report, err := sc.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "r1", report.RunID)
	assert.Equal(t, []string{"https://calendar.example.com/private.ics"}, src.urls)
	assert.Equal(t, "BEGIN:VCALENDAR", string(s.calendar))
	assert.Equal(t, []ics.Week{ics.CurrentWeek}, s.weeks)
}

func TestRunOnceFetchFailureSkipsSync(t *testing.T) {
	src := &fakeSource{err: ics.ErrInput}
	s := &fakeSyncer{}
	sc, err := New(scheduledConfig(), s, src)
	require.NoError(t, err)

	_, err = sc.RunOnce(t.Context())
	require.ErrorIs(t, err, ics.ErrInput)
	assert.Empty(t, s.weeks)
}

func TestRunOnceReturnsSyncError(t *testing.T) {
	boom := errors.New("boom")
	sc, err := New(scheduledConfig(), &fakeSyncer{err: boom}, &fakeSource{body: []byte("x")})
	require.NoError(t, err)

	_, err = sc.RunOnce(t.Context())
	assert.ErrorIs(t, err, boom)
}
