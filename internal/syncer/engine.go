// Package syncer books lessons extracted from a calendar export into the CRM:
// it drops lessons that already exist, resolves each phone to a customer and
// student, and creates the rest one by one.
package syncer

import (
	"context"
	"time"

	"bubusync/internal/crm"
	appLog "bubusync/internal/log"
	"bubusync/internal/model"
)

// existingWindow is how far back existing events are fetched. Lessons are
// only synced for the current or the previous week, so two weeks covers
// every possible collision.
const existingWindow = 14 * 24 * time.Hour

// Catalog is the lookup side of crm.Directory.
type Catalog interface {
	LookupCustomer(productID int64, phone string) (crm.Record, bool)
	LookupStudent(productID int64, customerID string) (crm.Record, bool)
}

// Resolution is the (product, customer, student) triple a lesson is booked
// under.
type Resolution struct {
	ProductID int64
	Customer  crm.Record
	Student   crm.Record
}

// Engine runs one batch for one CRM user.
type Engine struct {
	UserID     int64
	ProductIDs []int64

	// Now is used for the existing-events window. Nil means time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// FetchExistingEvents returns the start keys of the user's events that
// start at most 14 days before now. There is no upper bound.
func FetchExistingEvents(ctx context.Context, sess *crm.Session, userID int64, now time.Time) (map[string]struct{}, error) {
	events, err := crm.ListEvents(ctx, sess, userID, now.Add(-existingWindow))
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(events))
	for _, ev := range events {
		keys[ev.Start] = struct{}{}
	}
	return keys, nil
}

// Dedupe drops candidates whose minute-precision start equals the start of
// an existing event. The phone is not part of the key.
func Dedupe(candidates []model.LessonCandidate, existing map[string]struct{}) []model.LessonCandidate {
	out := make([]model.LessonCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := existing[c.Key()]; dup {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Resolve walks productIDs in order and returns the first product in which
// the phone maps to a customer that also has a student. A product where
// only the customer is known is skipped.
func Resolve(dir Catalog, productIDs []int64, c model.LessonCandidate) (Resolution, bool) {
	for _, pid := range productIDs {
		customer, ok := dir.LookupCustomer(pid, c.Phone)
		if !ok {
			continue
		}
		student, ok := dir.LookupStudent(pid, customer.ID())
		if !ok {
			continue
		}
		return Resolution{ProductID: pid, Customer: customer, Student: student}, true
	}
	return Resolution{}, false
}

// Submit creates the lesson starting at date under res. It returns false
// when the backend did not confirm creation; the error is reserved for
// failures that end the session.
func Submit(ctx context.Context, sess *crm.Session, userID int64, res Resolution, phone string, date time.Time) (bool, error) {
	return crm.CreateEvent(ctx, sess, crm.NewEvent{
		UserID:    userID,
		ProductID: res.ProductID,
		Customer:  res.Customer,
		Student:   res.Student,
		Phone:     phone,
		Start:     date,
	})
}

// Run fetches existing events, drops duplicates and books the remaining
// candidates in order. A lesson that cannot be resolved or is rejected is
// recorded and the batch continues; any returned error aborts the batch
// and the results collected so far are returned with it.
func (e *Engine) Run(ctx context.Context, sess *crm.Session, dir Catalog, candidates []model.LessonCandidate) ([]model.SyncResult, int, error) {
	existing, err := FetchExistingEvents(ctx, sess, e.UserID, e.now())
	if err != nil {
		return nil, 0, err
	}

	pending := Dedupe(candidates, existing)
	duplicates := len(candidates) - len(pending)
	appLog.Info("dedupe done", "candidates", len(candidates), "duplicates", duplicates)

	results := make([]model.SyncResult, 0, len(pending))
	for _, c := range pending {
		res, ok := Resolve(dir, e.ProductIDs, c)
		if !ok {
			appLog.Info("lesson not addable: no customer/student for phone", "phone", c.Phone, "date", c.Key())
			results = append(results, model.SyncResult{Candidate: c, Reason: model.ReasonNotFound})
			continue
		}

		created, err := Submit(ctx, sess, e.UserID, res, c.Phone, c.Date)
		if err != nil {
			return results, duplicates, err
		}
		r := model.SyncResult{Candidate: c, Created: created}
		if !created {
			r.Reason = model.ReasonRejected
			appLog.Info("lesson rejected by crm", "phone", c.Phone, "date", c.Key(), "product_id", res.ProductID)
		} else {
			appLog.Debug("lesson created", "phone", c.Phone, "date", c.Key(), "product_id", res.ProductID)
		}
		results = append(results, r)
	}

	return results, duplicates, nil
}
