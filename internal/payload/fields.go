// Package payload reads provider JSON documents whose key names differ
// between API versions. Every logical field is described by an ordered list
// of accessor paths; the first path holding a non-empty scalar wins.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Path is a nested key path, e.g. {"data", "status"}.
type Path []string

// P builds a Path from dotted notation.
func P(dotted string) Path {
	return strings.Split(dotted, ".")
}

func (p Path) String() string { return strings.Join(p, ".") }

// Aliases lists the paths of one logical field in priority order.
type Aliases []Path

func aliases(dotted ...string) Aliases {
	a := make(Aliases, 0, len(dotted))
	for _, d := range dotted {
		a = append(a, P(d))
	}
	return a
}

// withData appends the data.* variant of every top-level alias.
func withData(a Aliases) Aliases {
	out := append(Aliases{}, a...)
	for _, p := range a {
		out = append(out, append(Path{"data"}, p...))
	}
	return out
}

var (
	TransactionID = withData(aliases(
		"collectionTransactionID",
		"transactionId",
		"transaction_id",
		"transactionReference",
		"transaction_reference",
	))

	// TransactionReference is read from initiation and status responses.
	TransactionReference = withData(aliases(
		"transaction_reference",
		"transactionReference",
		"transactionId",
		"transaction_id",
		"collectionTransactionID",
	))

	RegistrationID = withData(aliases(
		"registration_id",
		"registrationId",
		"externalReference",
		"external_reference",
		"clientReference",
		"client_reference",
		"reference",
	))

	Status = aliases(
		"status",
		"payment_status",
		"paymentStatus",
		"data.status",
		"data.collectionStatus",
		"data.collection_status",
		"collection.status",
		"data.collection.status",
	)

	Description = aliases(
		"description",
		"data.description",
		"collection.description",
	)

	Message = aliases(
		"message",
		"error",
		"errorMessage",
		"data.message",
		"description",
	)

	Success = aliases("success", "data.success")
)

// Document is a decoded JSON object.
type Document map[string]any

// Parse decodes raw into a Document. Numbers are kept as json.Number so that
// codes such as 200 are read back exactly.
func Parse(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("payload.Parse: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("payload.Parse: not a JSON object")
	}
	return doc, nil
}

// Lookup walks p and returns the value found there.
func (d Document) Lookup(p Path) (any, bool) {
	var cur any = map[string]any(d)
	for _, key := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			if doc, isDoc := cur.(Document); isDoc {
				m = doc
			} else {
				return nil, false
			}
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the first non-empty scalar found under a, or "".
func (d Document) String(a Aliases) string {
	s, _ := d.Find(a)
	return s
}

// Find is String that also reports which path matched.
func (d Document) Find(a Aliases) (string, Path) {
	for _, p := range a {
		v, ok := d.Lookup(p)
		if !ok {
			continue
		}
		if s := scalar(v); s != "" {
			return s, p
		}
	}
	return "", nil
}

// Bool reads the first alias that holds a boolean-like value.
func (d Document) Bool(a Aliases) (value bool, found bool) {
	for _, p := range a {
		v, ok := d.Lookup(p)
		if !ok || v == nil {
			continue
		}
		b, err := cast.ToBoolE(scalar(v))
		if err != nil {
			continue
		}
		return b, true
	}
	return false, false
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil, map[string]any, []any:
		return ""
	case json.Number:
		return t.String()
	case string:
		return strings.TrimSpace(t)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
