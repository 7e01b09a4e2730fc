package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "bubusync/internal/log"
)

// maxBodyBytes caps a downloaded export. Larger exports are rejected.
var maxBodyBytes int64 = 16 << 20

// Fetcher downloads calendar exports published at a URL. Nothing is cached:
// every sync starts from the current export.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client uses a client with a 30s
// timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the export at url. Any failure is reported as ErrInput so
// that a scheduled run aborts before logging in to the CRM.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: calendar URL is empty", ErrInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}

	appLog.Info("ics fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrInput, redactURL(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrInput, redactURL(url), errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInput, redactURL(url), err)
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, fmt.Errorf("%w: export at %s exceeds %d bytes", ErrInput, redactURL(url), maxBodyBytes)
	}

	appLog.Info("ics fetch success", "url", redactURL(url), "bytes", len(body))
	return body, nil
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
// Private calendar links carry their secret in the path or query:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}

	return u[:j] + redactedSuffix
}
