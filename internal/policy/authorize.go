package policy

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Authorizer applies the role gates on writes.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	gated    map[string][]string // "table/OP" -> roles named in policy
}

// NewAuthorizer builds the enforcer from the embedded model and policy.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	rules, err := enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("read casbin policy: %w", err)
	}
	gated := make(map[string][]string)
	for _, rule := range rules {
		if len(rule) < 3 {
			continue
		}
		if _, ok := whitelist[rule[1]]; !ok {
			return nil, fmt.Errorf("policy references unknown table %q", rule[1])
		}
		if _, ok := datastore.ParseMethod(rule[2]); !ok {
			return nil, fmt.Errorf("policy references unknown operation %q", rule[2])
		}
		key := gateKey(rule[1], rule[2])
		gated[key] = append(gated[key], rule[0])
	}

	return &Authorizer{enforcer: enforcer, gated: gated}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

func gateKey(table, op string) string {
	return table + "/" + op
}

// Authorize checks that role may run m against t. Reads and ungated writes
// are allowed for any authenticated role.
func (a *Authorizer) Authorize(role string, t *Table, m datastore.Method) error {
	if !m.IsWrite() {
		return nil
	}
	if _, ok := a.gated[gateKey(t.Name, m.String())]; !ok {
		return nil
	}
	allowed, err := a.enforcer.Enforce(role, t.Name, m.String())
	if err != nil {
		return fmt.Errorf("enforce %s on %s: %w", m, t.Name, err)
	}
	if !allowed {
		return apperr.New(apperr.Unauthorized, apperr.MsgForbidden)
	}
	return nil
}

// TableRules is the access summary of one table.
type TableRules struct {
	Table      string              `json:"table"`
	PublicRead bool                `json:"publicRead"`
	Elevated   bool                `json:"requiresElevated"`
	Embeds     []string            `json:"embeds,omitempty"`
	Gates      map[string][]string `json:"roleGates,omitempty"`
}

// Rules returns the whole access matrix, sorted by table.
func (a *Authorizer) Rules() []TableRules {
	var out []TableRules
	for _, t := range Tables() {
		r := TableRules{Table: t.Name, PublicRead: t.PublicRead, Elevated: t.Elevated}
		for name := range t.Embeds {
			r.Embeds = append(r.Embeds, name)
		}
		slices.Sort(r.Embeds)
		for _, m := range datastore.Methods() {
			roles, ok := a.gated[gateKey(t.Name, m.String())]
			if !ok {
				continue
			}
			if r.Gates == nil {
				r.Gates = make(map[string][]string)
			}
			r.Gates[m.String()] = a.effectiveRoles(roles)
		}
		out = append(out, r)
	}
	return out
}

// effectiveRoles expands the named roles with every role that inherits them.
func (a *Authorizer) effectiveRoles(roles []string) []string {
	set := make(map[string]struct{})
	for _, r := range roles {
		set[r] = struct{}{}
		users, err := a.enforcer.GetUsersForRole(r)
		if err != nil {
			continue
		}
		for _, u := range users {
			set[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
