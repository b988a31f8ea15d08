package query

import (
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
)

// StripHidden removes hidden columns from rows, including rows of embedded
// relations, so a wildcard select never leaks them.
func StripHidden(rows []map[string]any, t *policy.Table, items []datastore.SelectItem) {
	for _, row := range rows {
		stripRow(row, t, items)
	}
}

func stripRow(row map[string]any, t *policy.Table, items []datastore.SelectItem) {
	for _, col := range t.Hidden {
		delete(row, col)
	}
	for _, it := range items {
		if it.Embed == nil {
			continue
		}
		child, ok := policy.Lookup(it.Embed.Relation.Table)
		if !ok {
			delete(row, it.OutputName())
			continue
		}
		switch v := row[it.OutputName()].(type) {
		case map[string]any:
			stripRow(v, child, it.Embed.Items)
		case []any:
			for _, e := range v {
				if m, ok := e.(map[string]any); ok {
					stripRow(m, child, it.Embed.Items)
				}
			}
		case []map[string]any:
			for _, m := range v {
				stripRow(m, child, it.Embed.Items)
			}
		}
	}
}
