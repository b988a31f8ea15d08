package query

import (
	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// FilterValue is either a bare literal (equality) or an explicit operator.
type FilterValue interface {
	Condition(column string) datastore.Condition
}

type Literal struct{ Value any }

func (l Literal) Condition(column string) datastore.Condition {
	return datastore.Condition{Column: column, Op: datastore.OpEq, Value: l.Value}
}

type OperatorValue struct {
	Op    datastore.Operator
	Value any
}

func (o OperatorValue) Condition(column string) datastore.Condition {
	return datastore.Condition{Column: column, Op: o.Op, Value: o.Value}
}

// ParseFilterValue classifies raw. An object carrying "operator" is an
// OperatorValue; any other scalar is a Literal. String values are sanitized.
func ParseFilterValue(column string, raw json.RawMessage) (FilterValue, error) {
	if isNull(raw) {
		return Literal{}, nil
	}
	v, err := decodeAny(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgInvalidFilter, column)
	}

	obj, isObj := v.(map[string]any)
	if !isObj {
		val, err := sanitizeScalar(column, v)
		if err != nil {
			return nil, err
		}
		return Literal{Value: val}, nil
	}

	name, ok := obj["operator"].(string)
	if !ok {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidFilter, column)
	}
	op, ok := datastore.ParseOperator(name)
	if !ok {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidOperator, name)
	}

	if op == datastore.OpIn {
		list, ok := obj["value"].([]any)
		if !ok {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidFilter, column)
		}
		out := make([]any, len(list))
		for i, item := range list {
			if out[i], err = sanitizeScalar(column, item); err != nil {
				return nil, err
			}
		}
		return OperatorValue{Op: op, Value: out}, nil
	}

	val, err := sanitizeScalar(column, obj["value"])
	if err != nil {
		return nil, err
	}
	if val == nil && op != datastore.OpEq {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidFilter, column)
	}
	return OperatorValue{Op: op, Value: val}, nil
}

func sanitizeScalar(column string, v any) (any, error) {
	switch x := v.(type) {
	case string:
		return security.SanitizeString(x)
	case nil, bool, int64, float64:
		return x, nil
	default:
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidFilter, column)
	}
}
