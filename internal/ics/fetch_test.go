package ics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	body := calendar(vevent("1", "+70000000001", "20240304T070000Z"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/private/cal.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())

	got, err := f.Fetch(t.Context(), srv.URL+"/private/cal.ics")
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = f.Fetch(t.Context(), srv.URL+"/other.ics")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInput)
	assert.NotContains(t, err.Error(), "other.ics")

	_, err = f.Fetch(t.Context(), "")
	assert.ErrorIs(t, err, ErrInput)
}

func TestFetchRejectsOversizedExport(t *testing.T) {
	old := maxBodyBytes
	maxBodyBytes = 16
	t.Cleanup(func() { maxBodyBytes = old })

	body := "0123456789abcdef"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
		if r.URL.Path == "/big.ics" {
			_, _ = w.Write([]byte("!"))
		}
	}))
	defer srv.Close()

	got, err := NewFetcher(srv.Client()).Fetch(t.Context(), srv.URL+"/exact.ics")
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	got, err = NewFetcher(srv.Client()).Fetch(t.Context(), srv.URL+"/big.ics")
	require.ErrorIs(t, err, ErrInput)
	assert.Nil(t, got)
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/cal.ics"
	srv.Close()

	_, err := NewFetcher(nil).Fetch(t.Context(), url)
	assert.ErrorIs(t, err, ErrInput)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/u/42/private-abc.ics?token=secret"))
	assert.Equal(t, "http://host:8080/...(redacted)", redactURL("http://host:8080"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
