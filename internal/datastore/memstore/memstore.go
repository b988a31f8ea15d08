// Package memstore is an in-process datastore.Store used for local
// development and tests. It evaluates the full query contract over maps.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// Call records one Execute invocation.
type Call struct {
	Credential datastore.Credential
	Query      datastore.Query
}

type Store struct {
	// DefaultLimit caps a SELECT that carries no range, the way hosted stores
	// apply a max-rows setting. Zero disables the cap.
	DefaultLimit int

	mu       sync.Mutex
	tables   map[string][]map[string]any
	nextID   map[string]int64
	calls    []Call
	failNext error
}

func New() *Store {
	return &Store{
		tables: make(map[string][]map[string]any),
		nextID: make(map[string]int64),
	}
}

// Seed appends rows to a table. Rows without an "id" get one.
func (s *Store) Seed(table string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.insertLocked(table, maps.Clone(r))
	}
}

// Calls returns every Execute call so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// FailNext makes the next Execute return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func (s *Store) Execute(ctx context.Context, cred datastore.Credential, q *datastore.Query) (*datastore.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Credential: cred, Query: *q})
	if err := s.failNext; err != nil {
		s.failNext = nil
		return nil, err
	}

	if q.Single && q.Method.IsWrite() {
		n, err := s.targetCountLocked(q)
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, datastore.SingleRowError(n)
		}
	}

	var (
		affected []map[string]any
		count    *int
		err      error
	)
	switch q.Method {
	case datastore.Select:
		affected, count, err = s.selectLocked(q)
	case datastore.Insert:
		for _, r := range q.Rows {
			affected = append(affected, s.insertLocked(q.Table, maps.Clone(r)))
		}
	case datastore.Upsert:
		affected, err = s.upsertLocked(q)
	case datastore.Update:
		affected, err = s.updateLocked(q)
	case datastore.Delete:
		affected, err = s.deleteLocked(q)
	default:
		return nil, fmt.Errorf("memstore: unsupported method %s", q.Method)
	}
	if err != nil {
		return nil, err
	}

	rows := []map[string]any{}
	if q.Method == datastore.Select || q.Returning {
		for _, r := range affected {
			rows = append(rows, s.project(q.Table, r, q.Select))
		}
	}
	if q.Single && q.Method == datastore.Select && len(rows) != 1 {
		return nil, datastore.SingleRowError(len(rows))
	}
	return &datastore.Result{Rows: rows, Count: count}, nil
}

// targetCountLocked reports how many rows a write would touch.
func (s *Store) targetCountLocked(q *datastore.Query) (int, error) {
	switch q.Method {
	case datastore.Insert, datastore.Upsert:
		return len(q.Rows), nil
	default:
		matched, err := s.match(q.Table, q.Filters)
		return len(matched), err
	}
}

func (s *Store) selectLocked(q *datastore.Query) ([]map[string]any, *int, error) {
	matched, err := s.match(q.Table, q.Filters)
	if err != nil {
		return nil, nil, err
	}
	if len(q.Order) > 0 {
		slices.SortStableFunc(matched, func(a, b map[string]any) int {
			for _, o := range q.Order {
				c, _ := compare(a[o.Column], b[o.Column])
				if c == 0 {
					continue
				}
				if !o.Ascending {
					c = -c
				}
				return c
			}
			return 0
		})
	}

	var count *int
	if q.Count {
		n := len(matched)
		count = &n
	}

	from, to := 0, len(matched)-1
	if q.Range != nil {
		from, to = q.Range.From, q.Range.To
	} else if s.DefaultLimit > 0 {
		to = s.DefaultLimit - 1
	}
	if from >= len(matched) || from > to {
		return []map[string]any{}, count, nil
	}
	if to >= len(matched) {
		to = len(matched) - 1
	}
	return matched[from : to+1], count, nil
}

func (s *Store) insertLocked(table string, row map[string]any) map[string]any {
	if _, ok := row["id"]; !ok {
		s.nextID[table]++
		row["id"] = s.nextID[table]
	} else if n, ok := toFloat(row["id"]); ok && int64(n) > s.nextID[table] {
		s.nextID[table] = int64(n)
	}
	s.tables[table] = append(s.tables[table], row)
	return row
}

func (s *Store) upsertLocked(q *datastore.Query) ([]map[string]any, error) {
	target := q.OnConflict
	if len(target) == 0 {
		target = []string{"id"}
	}
	var out []map[string]any
	for _, in := range q.Rows {
		var existing map[string]any
		for _, r := range s.tables[q.Table] {
			if sameKey(r, in, target) {
				existing = r
				break
			}
		}
		if existing == nil {
			out = append(out, s.insertLocked(q.Table, maps.Clone(in)))
			continue
		}
		maps.Copy(existing, in)
		out = append(out, existing)
	}
	return out, nil
}

func (s *Store) updateLocked(q *datastore.Query) ([]map[string]any, error) {
	matched, err := s.match(q.Table, q.Filters)
	if err != nil {
		return nil, err
	}
	for _, r := range matched {
		maps.Copy(r, q.Values)
	}
	return matched, nil
}

func (s *Store) deleteLocked(q *datastore.Query) ([]map[string]any, error) {
	var kept, removed []map[string]any
	for _, r := range s.tables[q.Table] {
		ok, err := matchesAll(r, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	s.tables[q.Table] = kept
	return removed, nil
}

func (s *Store) match(table string, filters []datastore.Condition) ([]map[string]any, error) {
	var out []map[string]any
	for _, r := range s.tables[table] {
		ok, err := matchesAll(r, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) project(table string, row map[string]any, items []datastore.SelectItem) map[string]any {
	if len(items) == 0 {
		return maps.Clone(row)
	}
	out := make(map[string]any, len(items))
	for _, it := range items {
		switch {
		case it.Embed != nil:
			rel := it.Embed.Relation
			var related []map[string]any
			for _, r := range s.tables[rel.Table] {
				if c, ok := compare(r[rel.ForeignColumn], row[rel.LocalColumn]); ok && c == 0 {
					related = append(related, s.project(rel.Table, r, it.Embed.Items))
				}
			}
			if rel.Many {
				if related == nil {
					related = []map[string]any{}
				}
				out[it.OutputName()] = related
			} else if len(related) > 0 {
				out[it.OutputName()] = related[0]
			} else {
				out[it.OutputName()] = nil
			}
		case it.Column == "*":
			for k, v := range row {
				out[k] = v
			}
		default:
			out[it.OutputName()] = row[it.Column]
		}
	}
	return out
}

func sameKey(a, b map[string]any, cols []string) bool {
	for _, c := range cols {
		bv, ok := b[c]
		if !ok {
			return false
		}
		if cmp, ok := compare(a[c], bv); !ok || cmp != 0 {
			return false
		}
	}
	return true
}

func matchesAll(row map[string]any, filters []datastore.Condition) (bool, error) {
	for _, f := range filters {
		ok, err := matches(row[f.Column], f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matches(v any, f datastore.Condition) (bool, error) {
	switch f.Op {
	case datastore.OpEq:
		c, ok := compare(v, f.Value)
		return ok && c == 0, nil
	case datastore.OpILike:
		pattern, ok := f.Value.(string)
		if !ok {
			return false, &datastore.Error{Message: "ilike requires a text pattern", Code: "42883"}
		}
		s, ok := v.(string)
		return ok && likeRegexp(pattern).MatchString(s), nil
	case datastore.OpGt, datastore.OpLt, datastore.OpGte, datastore.OpLte:
		c, ok := compare(v, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case datastore.OpGt:
			return c > 0, nil
		case datastore.OpLt:
			return c < 0, nil
		case datastore.OpGte:
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	case datastore.OpIn:
		list, ok := f.Value.([]any)
		if !ok {
			return false, &datastore.Error{Message: "in requires a list", Code: "22P02"}
		}
		for _, item := range list {
			if c, ok := compare(v, item); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("memstore: unsupported operator %q", f.Op)
	}
}

// compare orders two values numerically when both are numbers, otherwise by
// their text form. ok is false when either side is nil.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
