package syncer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bubusync/internal/config"
	"bubusync/internal/crm"
	"bubusync/internal/crm/crmtest"
	"bubusync/internal/ics"
)

// wednesday is 2024-03-06 12:00 in UTC+3; its week starts 2024-03-04.
var wednesday = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)

func testConfig(srv *crmtest.Server) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Email = testEmail
	cfg.Password = testPassword
	cfg.UserID = testUserID
	cfg.ProductIDs = []int64{1, 2}
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func icsCalendar(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n")
	for i, e := range events {
		b.WriteString("BEGIN:VEVENT\r\nUID:")
		b.WriteString(string(rune('a' + i)))
		b.WriteString("\r\n")
		b.WriteString(e)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func event(summary, dtstart string) string {
	return "SUMMARY:" + summary + "\r\nDTSTART:" + dtstart + "\r\n"
}

func TestSynchronizeCurrentWeek(t *testing.T) {
	srv := newBackend(t)
	cal := icsCalendar(
		event("Anna +7 000 000 00 01", "20240304T070000Z"),
		event("Old lesson +70000000001", "20240205T070000Z"),
	)

	report, err := synchronize(t.Context(), testConfig(srv), cal, ics.CurrentWeek, wednesday)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "2024-03-04", report.WeekStart.Format(time.DateOnly))
	assert.Equal(t, "2024-03-11", report.WeekEnd.Format(time.DateOnly))
	assert.Equal(t, 1, report.Extracted)
	assert.Zero(t, report.Duplicates)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Created)
	assert.Equal(t, "2024-03-04 10:00", report.Results[0].Candidate.Key())

	created := srv.Created()
	require.Len(t, created, 1)
	assert.Equal(t, "2024-03-04T10:00:00.000Z", created[0]["start"])
	assert.True(t, srv.LoggedOut())
	assert.Zero(t, srv.StaleUses())
}

func TestSynchronizeLastWeekSkipsExisting(t *testing.T) {
	srv := newBackend(t)
	srv.Events = []string{"2024-02-26 10:00"}
	cal := icsCalendar(
		event("+70000000001", "20240226T070000Z"),
		event("+70000000002", "20240227T070000Z"),
		event("+70000000003", "20240304T070000Z"),
	)

	report, err := synchronize(t.Context(), testConfig(srv), cal, ics.LastWeek, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 1, report.Duplicates)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "+70000000002", report.Results[0].Candidate.Phone)
	assert.Equal(t, 1, report.Created())
}

func TestSynchronizeExpandsRecurring(t *testing.T) {
	srv := newBackend(t)
	cfg := testConfig(srv)
	cfg.ExpandRecurring = true
	cal := icsCalendar(
		event("+70000000001", "20240108T070000Z") + "RRULE:FREQ=WEEKLY;BYDAY=MO,TH\r\n",
	)

	report, err := synchronize(t.Context(), cfg, cal, ics.CurrentWeek, wednesday)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "2024-03-04 10:00", report.Results[0].Candidate.Key())
	assert.Equal(t, "2024-03-07 10:00", report.Results[1].Candidate.Key())
	assert.Equal(t, 2, report.Created())
}

func TestSynchronizeInputErrorsStayOffline(t *testing.T) {
	srv := newBackend(t)

	_, err := synchronize(t.Context(), testConfig(srv), icsCalendar(event("no phone", "20240304T070000Z")), ics.CurrentWeek, wednesday)
	require.ErrorIs(t, err, ics.ErrInput)

	cfg := testConfig(srv)
	cfg.Password = ""
	_, err = synchronize(t.Context(), cfg, icsCalendar(), ics.CurrentWeek, wednesday)
	require.ErrorIs(t, err, config.ErrInvalid)

	assert.Empty(t, srv.Requests())
}

func TestSynchronizeEmptyWeekStillLogsInAndOut(t *testing.T) {
	srv := newBackend(t)

	report, err := synchronize(t.Context(), testConfig(srv), icsCalendar(), ics.CurrentWeek, wednesday)
	require.NoError(t, err)
	assert.Zero(t, report.Extracted)
	assert.Empty(t, report.Results)
	assert.True(t, srv.LoggedOut())
}

func TestSynchronizeLoginFailure(t *testing.T) {
	srv := newBackend(t)
	cfg := testConfig(srv)
	cfg.Password = "wrong"

	_, err := synchronize(t.Context(), cfg, icsCalendar(), ics.CurrentWeek, wednesday)
	require.ErrorIs(t, err, crm.ErrAuth)
	assert.NotContains(t, srv.Requests(), "GET /logout")
}

func TestSynchronizeLogsOutAfterFatalError(t *testing.T) {
	srv := newBackend(t)
	srv.FailPath = "/api/students"
	srv.FailStatus = 500

	_, err := synchronize(t.Context(), testConfig(srv),
		icsCalendar(event("+70000000001", "20240304T070000Z")), ics.CurrentWeek, wednesday)
	var herr *crm.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 500, herr.StatusCode)
	assert.True(t, srv.LoggedOut())
	assert.Empty(t, srv.Created())
}

func TestServiceRejectsConcurrentSync(t *testing.T) {
	srv := newBackend(t)
	svc := NewService(testConfig(srv))
	svc.now = func() time.Time { return wednesday }

	svc.mu.Lock()
	_, err := svc.Synchronize(t.Context(), icsCalendar(), ics.CurrentWeek)
	svc.mu.Unlock()
	require.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, srv.Requests())

	report, err := svc.Synchronize(t.Context(), icsCalendar(event("+70000000001", "20240304T070000Z")), ics.CurrentWeek)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created())
}
