package query

import (
	"bytes"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// Translate turns a decoded request into a store query for t and m. Nothing
// is executed; any sanitizer or shape failure is returned classified.
func Translate(req *Request, t *policy.Table, m datastore.Method) (*datastore.Query, error) {
	q := &datastore.Query{Table: t.Name, Method: m, Count: req.Count}

	items, err := ParseSelect(req.Select, t)
	if err != nil {
		return nil, err
	}
	q.Select = items

	switch m {
	case datastore.Select:
		if q.Filters, err = Filters(req.Filter, t); err != nil {
			return nil, err
		}
		if q.Order, err = ParseOrder(req.OrderBy, t); err != nil {
			return nil, err
		}
		r := Pagination(req.Limit, req.Range)
		q.Range = &r
		q.Single = req.Single

	case datastore.Insert, datastore.Upsert:
		rows, err := dataRows(req.Data, m)
		if err != nil {
			return nil, err
		}
		q.Rows = rows
		q.Returning = strings.TrimSpace(req.Select) != ""
		q.Single = req.Single
		if m == datastore.Upsert {
			if q.OnConflict, err = conflictTarget(req.OnConflict, t); err != nil {
				return nil, err
			}
		}

	case datastore.Update:
		if len(req.Filter) == 0 {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgFilterRequired, m.String())
		}
		values, err := dataObject(req.Data, m)
		if err != nil {
			return nil, err
		}
		q.Values = values
		if q.Filters, err = Filters(req.Filter, t); err != nil {
			return nil, err
		}
		q.Returning = strings.TrimSpace(req.Select) != ""
		q.Single = req.Single

	case datastore.Delete:
		if len(req.Filter) == 0 {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgFilterRequired, m.String())
		}
		if !isNull(req.Data) {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidData)
		}
		if q.Filters, err = Filters(req.Filter, t); err != nil {
			return nil, err
		}
		q.Returning = strings.TrimSpace(req.Select) != ""
		q.Single = req.Single

	default:
		return nil, apperr.New(apperr.UnsupportedMethod, apperr.MsgInvalidMethod, m.String())
	}

	// A single-row write reports its row back, so the store can refuse it
	// before anything is committed.
	if q.Single && m.IsWrite() && !q.Returning {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgSingleNeedsSelect, m.String())
	}
	return q, nil
}

// Pagination resolves limit and range into one explicit window. An explicit
// range wins; a limit is clamped to [1, MaxRows]; otherwise the full window.
func Pagination(limit *int, rng *RangeSpec) datastore.Range {
	if rng != nil {
		to := rng.To
		if to-rng.From >= MaxRows {
			to = rng.From + MaxRows - 1
		}
		return datastore.Range{From: rng.From, To: to}
	}
	if limit != nil {
		n := min(max(*limit, 1), MaxRows)
		return datastore.Range{From: 0, To: n - 1}
	}
	return datastore.Range{From: DefaultFrom, To: DefaultTo}
}

// ParseSelect sanitizes and parses a select clause against t's columns and
// embeddable relations.
func ParseSelect(clause string, t *policy.Table) ([]datastore.SelectItem, error) {
	if strings.TrimSpace(clause) == "" {
		return nil, nil
	}
	cleaned, err := security.SanitizeSQL(clause)
	if err != nil {
		return nil, err
	}
	items, err := datastore.ParseSelect(cleaned)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidSelect)
	}
	if err := resolveItems(items, t); err != nil {
		return nil, err
	}
	return items, nil
}

func resolveItems(items []datastore.SelectItem, t *policy.Table) error {
	for i := range items {
		it := &items[i]
		if it.Alias != "" && !security.IsIdentifier(it.Alias) {
			return apperr.New(apperr.MalformedRequest, apperr.MsgInvalidSelect)
		}
		if it.Embed == nil {
			if it.Column == "*" {
				continue
			}
			if !security.IsIdentifier(it.Column) {
				return apperr.New(apperr.MalformedRequest, apperr.MsgInvalidSelect)
			}
			if t.IsHidden(it.Column) {
				return apperr.New(apperr.MalformedRequest, apperr.MsgColumnNotAccessible, it.Column)
			}
			continue
		}

		rel, ok := t.Relation(it.Embed.Name)
		if !ok {
			return apperr.New(apperr.MalformedRequest, apperr.MsgRelationNotAllowed, it.Embed.Name)
		}
		child, ok := policy.Lookup(rel.Table)
		if !ok {
			return apperr.New(apperr.InvalidTable, apperr.MsgInvalidTable)
		}
		it.Embed.Relation = rel
		if err := resolveItems(it.Embed.Items, child); err != nil {
			return err
		}
	}
	return nil
}

// Filters converts a filter map into conditions, sorted by column so the
// generated query is deterministic.
func Filters(filter map[string]json.RawMessage, t *policy.Table) ([]datastore.Condition, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]datastore.Condition, 0, len(keys))
	for _, k := range keys {
		col, err := filterColumn(k)
		if err != nil {
			return nil, err
		}
		if t.IsHidden(col) {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgColumnNotAccessible, col)
		}
		fv, err := ParseFilterValue(col, filter[k])
		if err != nil {
			return nil, err
		}
		out = append(out, fv.Condition(col))
	}
	return out, nil
}

// filterColumn sanitizes a filter or order key. Names the store reads as
// query options are refused so they can never drop a row filter.
func filterColumn(name string) (string, error) {
	col, err := security.SanitizeIdentifier(name)
	if err != nil {
		return "", err
	}
	if datastore.IsReservedName(col) {
		return "", apperr.New(apperr.MalformedRequest, apperr.MsgReservedColumn, col)
	}
	return col, nil
}

// ParseOrder accepts one order spec or an array of them.
func ParseOrder(raw json.RawMessage, t *policy.Table) ([]datastore.Order, error) {
	if isNull(raw) {
		return nil, nil
	}
	var specs []OrderSpec
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &specs); err != nil {
			return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidOrder)
		}
	} else {
		var one OrderSpec
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidOrder)
		}
		specs = []OrderSpec{one}
	}

	out := make([]datastore.Order, 0, len(specs))
	for _, s := range specs {
		if err := validate.Struct(s); err != nil {
			return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidOrder)
		}
		col, err := filterColumn(s.Column)
		if err != nil {
			return nil, err
		}
		if t.IsHidden(col) {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgColumnNotAccessible, col)
		}
		asc := s.Ascending == nil || *s.Ascending
		out = append(out, datastore.Order{Column: col, Ascending: asc})
	}
	return out, nil
}

// dataRows accepts an object or a non-empty array of objects.
func dataRows(raw json.RawMessage, m datastore.Method) ([]map[string]any, error) {
	if isNull(raw) {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgDataRequired, m.String())
	}
	v, err := decodeAny(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidData)
	}

	var records []any
	switch x := v.(type) {
	case map[string]any:
		records = []any{x}
	case []any:
		records = x
	}
	if len(records) == 0 {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidData)
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidData)
		}
		row, err := sanitizeRecord(obj)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// dataObject accepts exactly one non-empty object.
func dataObject(raw json.RawMessage, m datastore.Method) (map[string]any, error) {
	if isNull(raw) {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgDataRequired, m.String())
	}
	v, err := decodeAny(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidData)
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidData)
	}
	return sanitizeRecord(obj)
}

// sanitizeRecord free-text sanitizes every string leaf and key, then
// requires the top-level keys to be column identifiers.
func sanitizeRecord(obj map[string]any) (map[string]any, error) {
	clean, err := security.SanitizeValue(obj)
	if err != nil {
		return nil, err
	}
	row := clean.(map[string]any)
	for k := range row {
		if _, err := security.SanitizeIdentifier(k); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func conflictTarget(raw string, t *policy.Table) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return slices.Clone(t.PrimaryKey), nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidConflict)
		}
		col, err := security.SanitizeIdentifier(p)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}
