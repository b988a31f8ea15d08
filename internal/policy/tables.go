// Package policy decides which tables the data proxy may touch, which of them
// are readable without a credential, which need the elevated store credential,
// and which roles may write to them.
package policy

import (
	"slices"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// Table describes one whitelisted table.
type Table struct {
	Name string
	// PublicRead allows SELECT without an identity.
	PublicRead bool
	// Elevated runs every operation with the service credential, because
	// store-side row policies would block the ordinary one.
	Elevated bool
	// Embeds lists the related tables that may appear in a select clause.
	Embeds map[string]datastore.Relation
	// Hidden columns are never selected, filtered, ordered or returned.
	Hidden []string
	// PrimaryKey is the default conflict target for UPSERT.
	PrimaryKey []string
}

var whitelist = map[string]*Table{
	"main_categories": {
		Name:       "main_categories",
		PublicRead: true,
		Elevated:   true,
		PrimaryKey: []string{"id"},
	},
	"sub_categories": {
		Name:       "sub_categories",
		PublicRead: true,
		Elevated:   true,
		PrimaryKey: []string{"id"},
		Embeds: map[string]datastore.Relation{
			"main_categories": {Table: "main_categories", LocalColumn: "main_category_id", ForeignColumn: "id"},
		},
	},
	"districts": {
		Name:       "districts",
		PublicRead: true,
		PrimaryKey: []string{"id"},
	},
	"neighborhoods": {
		Name:       "neighborhoods",
		PublicRead: true,
		PrimaryKey: []string{"id"},
		Embeds: map[string]datastore.Relation{
			"districts": {Table: "districts", LocalColumn: "district_id", ForeignColumn: "id"},
		},
	},
	"map_settings": {
		Name:       "map_settings",
		PublicRead: true,
		Elevated:   true,
		PrimaryKey: []string{"id"},
	},
	"addresses": {
		Name:       "addresses",
		Elevated:   true,
		PrimaryKey: []string{"id"},
		Embeds: map[string]datastore.Relation{
			"main_categories": {Table: "main_categories", LocalColumn: "main_category_id", ForeignColumn: "id"},
			"sub_categories":  {Table: "sub_categories", LocalColumn: "sub_category_id", ForeignColumn: "id"},
			"neighborhoods":   {Table: "neighborhoods", LocalColumn: "neighborhood_id", ForeignColumn: "id"},
		},
	},
	"users": {
		Name:       "users",
		Elevated:   true,
		PrimaryKey: []string{"id"},
		Hidden:     []string{"password_hash"},
	},
	"activity_logs": {
		Name:       "activity_logs",
		PrimaryKey: []string{"id"},
		Embeds: map[string]datastore.Relation{
			"users": {Table: "users", LocalColumn: "user_id", ForeignColumn: "id"},
		},
	},
}

// Lookup returns the whitelisted table with the given name.
func Lookup(name string) (*Table, bool) {
	t, ok := whitelist[name]
	return t, ok
}

// Tables returns every whitelisted table sorted by name.
func Tables() []*Table {
	out := make([]*Table, 0, len(whitelist))
	for _, t := range whitelist {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Table) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// PublicReadFor reports whether m may run without an identity.
func (t *Table) PublicReadFor(m datastore.Method) bool {
	return t.PublicRead && m == datastore.Select
}

// Credential selects the store credential used for this table.
func (t *Table) Credential() datastore.Credential {
	if t.Elevated {
		return datastore.ServiceCredential
	}
	return datastore.AnonCredential
}

func (t *Table) IsHidden(column string) bool {
	return slices.Contains(t.Hidden, column)
}

// Relation returns the embed definition for a related table.
func (t *Table) Relation(name string) (datastore.Relation, bool) {
	rel, ok := t.Embeds[name]
	return rel, ok
}

// Decision is the outcome of evaluating a request against the policy.
type Decision struct {
	Authenticated bool `json:"authenticated"`
	Authorized    bool `json:"authorized"`
	Elevated      bool `json:"usesElevatedCredential"`
}
