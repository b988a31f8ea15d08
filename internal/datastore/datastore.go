// Package datastore defines the record-oriented contract between the data
// proxy and whatever store executes its queries.
package datastore

import (
	"context"
	"fmt"
	"strings"
)

// Method is the operation a query performs.
type Method int

const (
	Select Method = iota + 1
	Insert
	Update
	Delete
	Upsert
)

var methodNames = map[Method]string{
	Select: "SELECT",
	Insert: "INSERT",
	Update: "UPDATE",
	Delete: "DELETE",
	Upsert: "UPSERT",
}

// ParseMethod accepts a method name in any case.
func ParseMethod(s string) (Method, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELECT":
		return Select, true
	case "INSERT":
		return Insert, true
	case "UPDATE":
		return Update, true
	case "DELETE":
		return Delete, true
	case "UPSERT":
		return Upsert, true
	default:
		return 0, false
	}
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func (m Method) IsWrite() bool {
	return m == Insert || m == Update || m == Delete || m == Upsert
}

// Methods lists every method in declaration order.
func Methods() []Method {
	return []Method{Select, Insert, Update, Delete, Upsert}
}

// reservedNames are query parameters PostgREST reads as options, never as
// column filters.
var reservedNames = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"columns":     true,
	"on_conflict": true,
	"and":         true,
	"or":          true,
	"not":         true,
}

// IsReservedName reports whether name cannot be used as a filter or order
// column.
func IsReservedName(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// Credential selects which store key a query runs under.
type Credential int

const (
	AnonCredential Credential = iota
	ServiceCredential
)

func (c Credential) String() string {
	if c == ServiceCredential {
		return "service"
	}
	return "anon"
}

// Operator is a filter comparison.
type Operator string

const (
	OpEq    Operator = "eq"
	OpILike Operator = "ilike"
	OpGt    Operator = "gt"
	OpLt    Operator = "lt"
	OpGte   Operator = "gte"
	OpLte   Operator = "lte"
	OpIn    Operator = "in"
)

func ParseOperator(s string) (Operator, bool) {
	switch op := Operator(strings.ToLower(s)); op {
	case OpEq, OpILike, OpGt, OpLt, OpGte, OpLte, OpIn:
		return op, true
	default:
		return "", false
	}
}

// Condition is one filter term. For OpIn, Value is a []any.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

type Order struct {
	Column    string
	Ascending bool
}

// Range is an inclusive, zero-based row window.
type Range struct {
	From int
	To   int
}

func (r Range) Len() int { return r.To - r.From + 1 }

// Relation describes how a related table joins back to its parent.
type Relation struct {
	Table         string
	LocalColumn   string
	ForeignColumn string
	Many          bool
}

// Caller is the verified identity a query runs on behalf of, if any.
type Caller struct {
	UserID   string
	Username string
	Role     string
}

// Query is one store operation.
type Query struct {
	Table  string
	Method Method
	// Select is the projection. Empty means every column. For writes it is
	// the returned representation and is only used when Returning is set.
	Select    []SelectItem
	Returning bool
	Filters   []Condition
	Order     []Order
	Range     *Range
	Single    bool
	Count     bool
	// Rows holds INSERT/UPSERT records, Values the UPDATE assignments.
	Rows       []map[string]any
	Values     map[string]any
	OnConflict []string
	Caller     *Caller
}

// Result is what a store returns. Rows is never nil on success.
type Result struct {
	Rows  []map[string]any
	Count *int
}

// Error is an error reported by the store itself. Its fields are passed
// through to the client.
type Error struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store error %s: %s", e.Code, e.Message)
	}
	return "store error: " + e.Message
}

// SingleRowError is returned when a single-row query matched n rows.
func SingleRowError(n int) *Error {
	return &Error{
		Message: "JSON object requested, multiple (or no) rows returned",
		Details: fmt.Sprintf("The result contains %d rows", n),
		Code:    "PGRST116",
	}
}

// Store executes queries.
type Store interface {
	Execute(ctx context.Context, cred Credential, q *Query) (*Result, error)
	Ping(ctx context.Context) error
	Close()
}
