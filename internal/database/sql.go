package database

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// statement is a parameterised query built from a datastore.Query.
type statement struct {
	sql      string
	args     []interface{}
	countSQL string // SELECT only, when a count was requested
	rows     bool   // whether sql returns rows
}

type builder struct {
	schema string
	args   []interface{}
	embeds int
}

func (b *builder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (b *builder) relation(table, alias string) string {
	return fmt.Sprintf("%s.%s AS %s", quoteIdent(b.schema), quoteIdent(table), quoteIdent(alias))
}

// buildStatement renders q against schema. q must already be validated.
func buildStatement(schema string, q *datastore.Query) (*statement, error) {
	b := &builder{schema: schema}
	t := q.Table

	switch q.Method {
	case datastore.Select:
		cols, err := b.selectList(t, q.Select)
		if err != nil {
			return nil, err
		}
		// The select list binds no arguments, so the count query can share args.
		where := b.where(t, q.Filters)
		sql := fmt.Sprintf("SELECT %s FROM %s%s%s%s", cols, b.relation(t, t), where, orderClause(t, q.Order), rangeClause(q.Range))
		st := &statement{sql: sql, args: b.args, rows: true}
		if q.Count {
			st.countSQL = fmt.Sprintf("SELECT COUNT(*) FROM %s%s", b.relation(t, t), where)
		}
		return st, nil

	case datastore.Insert, datastore.Upsert:
		if len(q.Rows) == 0 {
			return nil, fmt.Errorf("%s requires at least one row", q.Method)
		}
		columns := unionColumns(q.Rows)
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = quoteIdent(c)
		}
		valueSets := make([]string, 0, len(q.Rows))
		for _, rec := range q.Rows {
			placeholders := make([]string, len(columns))
			for i, col := range columns {
				v, ok := rec[col]
				if !ok {
					placeholders[i] = "DEFAULT"
					continue
				}
				placeholders[i] = b.arg(v)
			}
			valueSets = append(valueSets, "("+strings.Join(placeholders, ", ")+")")
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", b.relation(t, t), strings.Join(quoted, ", "), strings.Join(valueSets, ", "))
		if q.Method == datastore.Upsert {
			if len(q.OnConflict) == 0 {
				return nil, fmt.Errorf("upsert requires a conflict target")
			}
			sql += onConflictClause(q.OnConflict, columns)
		}
		return b.returning(sql, q)

	case datastore.Update:
		if len(q.Filters) == 0 {
			return nil, fmt.Errorf("update requires a filter")
		}
		if len(q.Values) == 0 {
			return nil, fmt.Errorf("update requires values")
		}
		keys := make([]string, 0, len(q.Values))
		for k := range q.Values {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		sets := make([]string, len(keys))
		for i, k := range keys {
			sets[i] = fmt.Sprintf("%s = %s", quoteIdent(k), b.arg(q.Values[k]))
		}
		sql := fmt.Sprintf("UPDATE %s SET %s%s", b.relation(t, t), strings.Join(sets, ", "), b.where(t, q.Filters))
		return b.returning(sql, q)

	case datastore.Delete:
		if len(q.Filters) == 0 {
			return nil, fmt.Errorf("delete requires a filter")
		}
		sql := fmt.Sprintf("DELETE FROM %s%s", b.relation(t, t), b.where(t, q.Filters))
		return b.returning(sql, q)

	default:
		return nil, fmt.Errorf("unsupported method %s", q.Method)
	}
}

func (b *builder) returning(sql string, q *datastore.Query) (*statement, error) {
	if !q.Returning {
		return &statement{sql: sql, args: b.args}, nil
	}
	cols, err := b.selectList(q.Table, q.Select)
	if err != nil {
		return nil, err
	}
	return &statement{sql: sql + " RETURNING " + cols, args: b.args, rows: true}, nil
}

// selectList renders items qualified by alias. Embedded relations become
// correlated subqueries returning JSON.
func (b *builder) selectList(alias string, items []datastore.SelectItem) (string, error) {
	if len(items) == 0 {
		return quoteIdent(alias) + ".*", nil
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		switch {
		case it.Embed != nil:
			sub, err := b.embed(alias, it.Embed)
			if err != nil {
				return "", err
			}
			parts = append(parts, sub+" AS "+quoteIdent(it.OutputName()))
		case it.Column == "*":
			parts = append(parts, quoteIdent(alias)+".*")
		case it.Alias != "":
			parts = append(parts, fmt.Sprintf("%s.%s AS %s", quoteIdent(alias), quoteIdent(it.Column), quoteIdent(it.Alias)))
		default:
			parts = append(parts, quoteIdent(alias)+"."+quoteIdent(it.Column))
		}
	}
	return strings.Join(parts, ", "), nil
}

func (b *builder) embed(parent string, e *datastore.Embed) (string, error) {
	rel := e.Relation
	if rel.Table == "" || rel.LocalColumn == "" || rel.ForeignColumn == "" {
		return "", fmt.Errorf("embed %s has no relation", e.Name)
	}
	b.embeds++
	alias := fmt.Sprintf("_e%d", b.embeds)
	cols, err := b.selectList(alias, e.Items)
	if err != nil {
		return "", err
	}
	inner := fmt.Sprintf("SELECT %s FROM %s WHERE %s.%s = %s.%s",
		cols, b.relation(rel.Table, alias),
		quoteIdent(alias), quoteIdent(rel.ForeignColumn),
		quoteIdent(parent), quoteIdent(rel.LocalColumn))
	if rel.Many {
		return fmt.Sprintf("COALESCE((SELECT json_agg(%s_r) FROM (%s) %s_r), '[]'::json)", alias, inner, alias), nil
	}
	return fmt.Sprintf("(SELECT row_to_json(%s_r) FROM (%s LIMIT 1) %s_r)", alias, inner, alias), nil
}

func (b *builder) where(alias string, filters []datastore.Condition) string {
	if len(filters) == 0 {
		return ""
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		col := quoteIdent(alias) + "." + quoteIdent(f.Column)
		switch f.Op {
		case datastore.OpEq:
			if f.Value == nil {
				conds = append(conds, col+" IS NULL")
			} else {
				conds = append(conds, col+" = "+b.arg(f.Value))
			}
		case datastore.OpILike:
			conds = append(conds, col+"::text ILIKE "+b.arg(f.Value))
		case datastore.OpGt:
			conds = append(conds, col+" > "+b.arg(f.Value))
		case datastore.OpLt:
			conds = append(conds, col+" < "+b.arg(f.Value))
		case datastore.OpGte:
			conds = append(conds, col+" >= "+b.arg(f.Value))
		case datastore.OpLte:
			conds = append(conds, col+" <= "+b.arg(f.Value))
		case datastore.OpIn:
			list, _ := f.Value.([]interface{})
			if len(list) == 0 {
				conds = append(conds, "FALSE")
				continue
			}
			placeholders := make([]string, len(list))
			for i, v := range list {
				placeholders[i] = b.arg(v)
			}
			conds = append(conds, col+" IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func orderClause(alias string, order []datastore.Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if !o.Ascending {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s.%s %s", quoteIdent(alias), quoteIdent(o.Column), dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func rangeClause(r *datastore.Range) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", r.Len(), r.From)
}

func onConflictClause(target, columns []string) string {
	conflictSet := make(map[string]bool, len(target))
	quotedConflict := make([]string, len(target))
	for i, c := range target {
		conflictSet[c] = true
		quotedConflict[i] = quoteIdent(c)
	}
	setClauses := make([]string, 0, len(columns))
	for _, col := range columns {
		if !conflictSet[col] {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
		}
	}
	if len(setClauses) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quotedConflict, ", "))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quotedConflict, ", "), strings.Join(setClauses, ", "))
}

// unionColumns returns every key used by any row, sorted.
func unionColumns(rows []map[string]interface{}) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}
