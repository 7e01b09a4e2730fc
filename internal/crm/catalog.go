package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	appLog "bubusync/internal/log"
)

const (
	customersPath = "/api/customers"
	studentsPath  = "/api/students"
)

// Record is an opaque CRM object (customer or student). Fields are kept as
// decoded so they can be echoed back in a creation payload unchanged;
// numbers are json.Number to avoid float rounding of ids.
type Record map[string]any

// ID returns the record's "id" as a string key, or "" if absent.
func (r Record) ID() string {
	return idKey(r["id"])
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FirstPhone returns the first entry of the record's "phones" list.
func (r Record) FirstPhone() (string, bool) {
	phones, ok := r["phones"].([]any)
	if !ok || len(phones) == 0 {
		return "", false
	}
	first, ok := phones[0].(map[string]any)
	if !ok {
		return "", false
	}
	phone, ok := first["phone"].(string)
	return phone, ok && phone != ""
}

func idKey(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case json.Number:
		return id.String()
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	default:
		return fmt.Sprint(id)
	}
}

// catalog is one product's pair of indices.
type catalog struct {
	customersByPhone map[string]Record
	studentsByCust   map[string]Record
}

// Directory indexes customers and students per product for the lifetime of
// one session. It is read-only once built.
type Directory struct {
	catalogs map[int64]*catalog
}

// BuildDirectory loads customers (with phones) and students of userID for
// every product, in order, over sess.
//
// Customers are indexed by their first phone. If two customers of the same
// product share that phone, the one later in the response wins.
func BuildDirectory(ctx context.Context, sess *Session, userID int64, productIDs []int64) (*Directory, error) {
	d := &Directory{catalogs: make(map[int64]*catalog, len(productIDs))}

	for _, pid := range productIDs {
		filter := fmt.Sprintf("%d,%d", userID, pid)

		custQ := url.Values{}
		custQ.Set("filter[has_user]", filter)
		custQ.Set("include", "phones")
		var customers struct {
			Data []Record `json:"data"`
		}
		if err := getJSON(ctx, sess, customersPath, custQ, &customers); err != nil {
			return nil, err
		}

		studQ := url.Values{}
		studQ.Set("filter[has_user]", filter)
		var students struct {
			Students []Record `json:"students"`
		}
		if err := getJSON(ctx, sess, studentsPath, studQ, &students); err != nil {
			return nil, err
		}

		cat := &catalog{
			customersByPhone: make(map[string]Record, len(customers.Data)),
			studentsByCust:   make(map[string]Record, len(students.Students)),
		}
		for _, c := range customers.Data {
			phone, ok := c.FirstPhone()
			if !ok {
				appLog.Debug("customer without phone skipped", "product_id", pid, "customer_id", c.ID())
				continue
			}
			cat.customersByPhone[phone] = c
		}
		for _, s := range students.Students {
			key := idKey(s["customer_id"])
			if key == "" {
				continue
			}
			cat.studentsByCust[key] = s
		}
		d.catalogs[pid] = cat

		appLog.Info("catalog loaded",
			"product_id", pid,
			"customers", len(cat.customersByPhone),
			"students", len(cat.studentsByCust),
		)
	}

	return d, nil
}

// LookupCustomer returns the customer indexed under phone in productID.
func (d *Directory) LookupCustomer(productID int64, phone string) (Record, bool) {
	cat, ok := d.catalogs[productID]
	if !ok {
		return nil, false
	}
	c, ok := cat.customersByPhone[phone]
	return c, ok
}

// LookupStudent returns the student of customerID in productID.
func (d *Directory) LookupStudent(productID int64, customerID string) (Record, bool) {
	cat, ok := d.catalogs[productID]
	if !ok || customerID == "" {
		return nil, false
	}
	s, ok := cat.studentsByCust[customerID]
	return s, ok
}

func getJSON(ctx context.Context, sess *Session, path string, query url.Values, v any) error {
	body, err := sess.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return decodeJSON(path, body, v)
}

func decodeJSON(path string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("crm: decode %s response: %w", path, err)
	}
	return nil
}
