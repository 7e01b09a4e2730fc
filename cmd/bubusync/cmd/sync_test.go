package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bubusync/internal/model"
)

func TestPrintReport(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	r := model.Report{
		WeekStart:  time.Date(2024, 3, 4, 0, 0, 0, 0, loc),
		WeekEnd:    time.Date(2024, 3, 11, 0, 0, 0, 0, loc),
		Extracted:  3,
		Duplicates: 1,
		Results: []model.SyncResult{
			{Candidate: model.LessonCandidate{Phone: "+70000000001", Date: time.Date(2024, 3, 4, 10, 0, 0, 0, loc)}, Created: true},
			{Candidate: model.LessonCandidate{Phone: "+70000000002", Date: time.Date(2024, 3, 5, 11, 30, 0, 0, loc)}, Reason: model.ReasonNotFound},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "week 04.03.2024 - 10.03.2024: 3 lessons, 1 already scheduled, 2 processed, 1 created")
	assert.Contains(t, out, "lesson 05.03.2024 11:30 for +70000000002 not booked (not_found)")
	assert.NotContains(t, out, "all lessons booked")

	buf.Reset()
	r.Results = r.Results[:1]
	printReport(&buf, r)
	assert.Contains(t, buf.String(), "all lessons booked")
}
