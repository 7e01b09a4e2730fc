package model

import "time"

// DedupLayout is the minute-precision layout the CRM uses for the "start"
// field of scheduled events. Candidates are compared against remote events
// by formatting their Date with this layout.
const DedupLayout = "2006-01-02 15:04"

// LessonCandidate is a lesson extracted from a calendar export that has not
// yet been confirmed against the CRM.
type LessonCandidate struct {
	// Phone is the contact number, "+" followed by digits, no spaces.
	Phone string

	// Date is the lesson start as local wall-clock time in the configured
	// fixed UTC offset.
	Date time.Time

	// RRule is the raw RRULE of the source VEVENT, empty for single events.
	RRule string
}

// Key returns the dedup key of the candidate. The key is deliberately not
// phone-aware: the CRM only exposes start times for existing events.
func (c LessonCandidate) Key() string {
	return c.Date.Format(DedupLayout)
}

// Failure reasons recorded on SyncResult. The CRM gives no structured error
// for a failed creation, so these only distinguish where the lesson stopped.
const (
	ReasonNotFound = "not_found"
	ReasonRejected = "rejected"
)

// SyncResult is the per-lesson outcome of one synchronization run.
type SyncResult struct {
	Candidate LessonCandidate
	Created   bool
	Reason    string
}

// Report aggregates the results of one run for rendering by a shell.
type Report struct {
	RunID      string
	WeekStart  time.Time
	WeekEnd    time.Time
	Extracted  int // candidates inside the week window
	Duplicates int // dropped because an event already exists at that time
	Results    []SyncResult
}

// Created returns the number of lessons that were created.
func (r Report) Created() int {
	n := 0
	for _, res := range r.Results {
		if res.Created {
			n++
		}
	}
	return n
}

// Failures returns the results that were not created, in file order.
func (r Report) Failures() []SyncResult {
	var out []SyncResult
	for _, res := range r.Results {
		if !res.Created {
			out = append(out, res)
		}
	}
	return out
}
