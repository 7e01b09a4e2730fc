package crm

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	appLog "bubusync/internal/log"
)

const (
	eventsPath      = "/api/calendars/events"
	eventsAddPath   = "/api/calendars/events/add"
	startedAfterFmt = "2006-01-02T00:00:00"

	// payloadTimeFmt mirrors what the backoffice UI sends: local wall-clock
	// time with a literal "Z".
	payloadTimeFmt = "2006-01-02T15:04:05.000Z"
)

// LessonDuration is the length of every created lesson.
const LessonDuration = 30 * time.Minute

// ScheduledEvent is an existing calendar event as listed by the CRM. Only
// Start is used; it has minute precision ("2006-01-02 15:04").
type ScheduledEvent struct {
	Start string `json:"start"`
}

// ListEvents returns the user's events starting on or after the day of
// since.
func ListEvents(ctx context.Context, sess *Session, userID int64, since time.Time) ([]ScheduledEvent, error) {
	q := url.Values{}
	q.Set("filter[user_id]", strconv.FormatInt(userID, 10))
	q.Set("filter[started_after]", since.Format(startedAfterFmt))

	var resp struct {
		Events []ScheduledEvent `json:"events"`
	}
	if err := getJSON(ctx, sess, eventsPath, q, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// NewEvent is what CreateEvent needs to book one lesson.
type NewEvent struct {
	UserID    int64
	ProductID int64
	Customer  Record
	Student   Record
	Phone     string
	Start     time.Time
}

// Payload builds the JSON body of an event creation request. The customer
// object is copied with its phone set to the lesson's phone.
func (e NewEvent) Payload() map[string]any {
	customer := e.Customer.Clone()
	customer["phone"] = e.Phone

	return map[string]any{
		"id":             nil,
		"product_id":     e.ProductID,
		"skip_reason_id": nil,
		"is_repeatable":  false,
		"comment":        "",
		"is_diagnostic":  false,
		"is_paid":        true,
		"product": map[string]any{
			"id":          0,
			"unique_name": "",
			"name":        "",
		},
		"user_id":     e.UserID,
		"start":       e.Start.Format(payloadTimeFmt),
		"end":         e.Start.Add(LessonDuration).Format(payloadTimeFmt),
		"customer_id": e.Customer["id"],
		"customer":    customer,
		"student_id":  e.Student["id"],
		"student":     e.Student,
	}
}

// CreateEvent books one lesson. It reports true iff the backend answered
// 2xx with a non-null event id. Rejections (non-2xx, missing id, unreadable
// body) return false without error so a batch can continue; only a
// transport failure or a broken session is returned as an error.
func CreateEvent(ctx context.Context, sess *Session, ev NewEvent) (bool, error) {
	body, err := sess.PostJSON(ctx, eventsAddPath, ev.Payload())
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && !herr.Transport() && !errors.Is(err, ErrTokensMissing) {
			appLog.Debug("event creation rejected", "status", herr.StatusCode, "phone", ev.Phone)
			return false, nil
		}
		return false, err
	}

	var resp struct {
		Event *struct {
			ID any `json:"id"`
		} `json:"event"`
	}
	if err := decodeJSON(eventsAddPath, body, &resp); err != nil {
		appLog.Error("event creation response unreadable", err, "phone", ev.Phone)
		return false, nil
	}
	return resp.Event != nil && resp.Event.ID != nil, nil
}
