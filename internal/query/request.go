// Package query decodes proxy requests and translates them into store
// queries, applying sanitization, whitelist and pagination rules on the way.
package query

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
)

// Pagination bounds. Every SELECT carries an explicit range so the store's
// own page size never truncates a result.
const (
	MaxRows     = 50000
	DefaultFrom = 0
	DefaultTo   = MaxRows - 1
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is the body of POST /api/supabase.
type Request struct {
	Table      json.RawMessage            `json:"table"`
	Method     string                     `json:"method" validate:"max=16"`
	Data       json.RawMessage            `json:"data,omitempty"`
	Filter     map[string]json.RawMessage `json:"filter,omitempty" validate:"max=32"`
	Select     string                     `json:"select,omitempty" validate:"max=2000"`
	OrderBy    json.RawMessage            `json:"orderBy,omitempty"`
	Limit      *int                       `json:"limit,omitempty"`
	Range      *RangeSpec                 `json:"range,omitempty"`
	Single     bool                       `json:"single,omitempty"`
	Count      bool                       `json:"count,omitempty"`
	OnConflict string                     `json:"onConflict,omitempty" validate:"max=256"`
}

type RangeSpec struct {
	From int `json:"from" validate:"min=0"`
	To   int `json:"to" validate:"gtefield=From"`
}

type OrderSpec struct {
	Column    string `json:"column" validate:"required,max=63"`
	Ascending *bool  `json:"ascending,omitempty"`
}

// Decode reads and validates a request body.
func Decode(r io.Reader) (*Request, error) {
	var req Request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidJSON)
	}
	if err := validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && strings.HasPrefix(verrs[0].StructNamespace(), "Request.Range.") {
			return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidRange)
		}
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidJSON)
	}
	return &req, nil
}

// TableName returns the table field, which must be a non-empty JSON string.
func (r *Request) TableName() (string, error) {
	if isNull(r.Table) {
		return "", apperr.New(apperr.MalformedRequest, apperr.MsgTableRequired)
	}
	var name string
	if err := json.Unmarshal(r.Table, &name); err != nil || name == "" {
		return "", apperr.New(apperr.MalformedRequest, apperr.MsgTableRequired)
	}
	return name, nil
}

// decodeAny decodes raw with numbers kept exact, then narrows them.
func decodeAny(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers turns json.Number into int64 when integral, else float64.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeNumbers(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalizeNumbers(item)
		}
		return x
	default:
		return v
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
