package ics

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "bubusync/internal/log"
	"bubusync/internal/model"
)

var (
	// ErrInput marks calendar input that cannot be read at all.
	ErrInput = errors.New("calendar input error")

	// ErrParse marks a calendar whose events cannot be turned into lessons.
	// It wraps ErrInput so callers can treat both as one class.
	ErrParse = fmt.Errorf("%w: parse failed", ErrInput)
)

// utcStampLayout is the only DTSTART form lessons are exported in.
const utcStampLayout = "20060102T150405Z"

var (
	// summaryPhone matches the first "+digits" run preceded only by
	// non-digits, e.g. "Lesson Anna +7 916 123 45 67" or "Anna + 7 916".
	summaryPhone = regexp.MustCompile(`^\D*(\+[\d ]*\d)`)
	utcStamp     = regexp.MustCompile(`^\d{8}T\d{6}Z$`)
)

// Extractor turns a calendar export into lesson candidates.
type Extractor struct {
	// Location is the fixed zone UTC stamps are shifted into. Nil means UTC.
	Location *time.Location
}

// NewExtractor returns an Extractor that shifts UTC stamps by offsetHours.
func NewExtractor(offsetHours int) *Extractor {
	return &Extractor{
		Location: time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600),
	}
}

// Extract parses body and returns exactly one candidate per VEVENT, in file
// order. Extraction is all-or-nothing: a single event without a phone in
// SUMMARY or without a UTC DTSTART fails the whole call with ErrParse.
func (x *Extractor) Extract(body []byte) ([]model.LessonCandidate, error) {
	if !bytes.Contains(body, []byte("BEGIN:VEVENT")) {
		return []model.LessonCandidate{}, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	loc := x.Location
	if loc == nil {
		loc = time.UTC
	}

	events := cal.Events()
	out := make([]model.LessonCandidate, 0, len(events))
	for i, ve := range events {
		c, perr := parseVEvent(ve, loc)
		if perr != nil {
			return nil, fmt.Errorf("%w: event #%d: %v", ErrParse, i+1, perr)
		}
		out = append(out, c)
	}

	appLog.Debug("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.LessonCandidate, error) {
	var out model.LessonCandidate

	summary := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		summary = p.Value
	}
	phone, ok := PhoneFromSummary(summary)
	if !ok {
		return out, fmt.Errorf("no phone in summary %q", summary)
	}
	out.Phone = phone

	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return out, errors.New("missing DTSTART")
	}
	stamp := strings.TrimSpace(p.Value)
	if !utcStamp.MatchString(stamp) {
		return out, fmt.Errorf("DTSTART %q is not a UTC timestamp", stamp)
	}
	start, err := time.Parse(utcStampLayout, stamp)
	if err != nil {
		return out, err
	}
	out.Date = start.In(loc)

	if rp := ve.GetProperty(ical.ComponentPropertyRrule); rp != nil {
		out.RRule = rp.Value
	}

	return out, nil
}

// PhoneFromSummary extracts the contact phone from an event summary with
// spaces stripped.
func PhoneFromSummary(summary string) (string, bool) {
	m := summaryPhone.FindStringSubmatch(summary)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(m[1], " ", ""), true
}

// ReadFile reads a calendar export from disk. A missing or unreadable file
// is reported as ErrInput.
func ReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no calendar file given", ErrInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	return data, nil
}
