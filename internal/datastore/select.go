package datastore

import (
	"errors"
	"fmt"
	"strings"
)

// SelectItem is one entry of a select clause: a column, "*", or an embedded
// relation with its own items.
type SelectItem struct {
	Column string
	Alias  string
	Embed  *Embed
}

type Embed struct {
	Name     string
	Relation Relation
	Items    []SelectItem
}

var ErrSelectSyntax = errors.New("invalid select clause")

// ParseSelect parses "col, alias:col, rel(col, *)". An empty clause or "*"
// yields nil, meaning every column.
func ParseSelect(s string) ([]SelectItem, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return nil, nil
	}
	items, err := parseItems(s, 0)
	if err != nil {
		return nil, err
	}
	return items, nil
}

const maxEmbedDepth = 2

func parseItems(s string, depth int) ([]SelectItem, error) {
	parts, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	items := make([]SelectItem, 0, len(parts))
	for _, part := range parts {
		item, err := parseItem(part, depth)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseItem(s string, depth int) (SelectItem, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SelectItem{}, fmt.Errorf("%w: empty item", ErrSelectSyntax)
	}

	var item SelectItem
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return SelectItem{}, fmt.Errorf("%w: unterminated embed %q", ErrSelectSyntax, s)
		}
		if depth >= maxEmbedDepth {
			return SelectItem{}, fmt.Errorf("%w: embeds nested too deep", ErrSelectSyntax)
		}
		head := strings.TrimSpace(s[:open])
		alias, name := splitAlias(head)
		inner := s[open+1 : len(s)-1]
		var children []SelectItem
		if strings.TrimSpace(inner) != "*" && strings.TrimSpace(inner) != "" {
			var err error
			children, err = parseItems(inner, depth+1)
			if err != nil {
				return SelectItem{}, err
			}
		}
		item = SelectItem{Alias: alias, Embed: &Embed{Name: name, Items: children}}
		if name == "" {
			return SelectItem{}, fmt.Errorf("%w: embed without name", ErrSelectSyntax)
		}
		return item, nil
	}

	if strings.ContainsAny(s, ")") {
		return SelectItem{}, fmt.Errorf("%w: unbalanced parenthesis", ErrSelectSyntax)
	}
	alias, col := splitAlias(s)
	if col == "" {
		return SelectItem{}, fmt.Errorf("%w: empty column", ErrSelectSyntax)
	}
	if col == "*" && alias != "" {
		return SelectItem{}, fmt.Errorf("%w: cannot alias *", ErrSelectSyntax)
	}
	return SelectItem{Column: col, Alias: alias}, nil
}

func splitAlias(s string) (alias, name string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return "", strings.TrimSpace(s)
}

func splitTopLevel(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parenthesis", ErrSelectSyntax)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parenthesis", ErrSelectSyntax)
	}
	return append(parts, s[start:]), nil
}

// FormatSelect renders items back into select syntax. Nil renders "*".
func FormatSelect(items []SelectItem) string {
	if len(items) == 0 {
		return "*"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		var b strings.Builder
		if it.Alias != "" {
			b.WriteString(it.Alias)
			b.WriteByte(':')
		}
		if it.Embed != nil {
			b.WriteString(it.Embed.Name)
			b.WriteByte('(')
			b.WriteString(FormatSelect(it.Embed.Items))
			b.WriteByte(')')
		} else {
			b.WriteString(it.Column)
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}

// OutputName is the key an item appears under in a result row.
func (it SelectItem) OutputName() string {
	if it.Alias != "" {
		return it.Alias
	}
	if it.Embed != nil {
		return it.Embed.Name
	}
	return it.Column
}
