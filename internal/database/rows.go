package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// collectRows drains rows into column-name keyed records.
func collectRows(rows pgx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	descs := rows.FieldDescriptions()
	result := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(descs))
		for i, desc := range descs {
			row[desc.Name] = convertPgValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// convertPgValue turns pgx-specific values into JSON friendly ones.
func convertPgValue(v interface{}) interface{} {
	switch val := v.(type) {
	case [16]byte:
		u := pgtype.UUID{Bytes: val, Valid: true}
		s, _ := u.Value()
		return s
	case pgtype.UUID:
		if !val.Valid {
			return nil
		}
		s, _ := val.Value()
		return s
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = convertPgValue(item)
		}
		return out
	default:
		return v
	}
}

// primaryKey returns the primary key columns of schema.table in key order.
func primaryKey(ctx context.Context, tx pgx.Tx, schema, table string) ([]string, error) {
	const q = `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
		  AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)
	`
	rows, err := tx.Query(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
