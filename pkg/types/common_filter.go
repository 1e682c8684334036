package types

import (
	"errors"

	"gorm.io/gorm/clause"
)

type FilterOperator string

const (
	FilterOperatorEq    FilterOperator = "eq"
	FilterOperatorNotEq FilterOperator = "not_eq"
	FilterOperatorLt    FilterOperator = "lt"
	FilterOperatorGte   FilterOperator = "gte"
	FilterOperatorRange FilterOperator = "range"
	FilterOperatorIn    FilterOperator = "in"
)

var ErrFilterField = errors.New("filter_field_not_allowed")

// JobFilterFields are the job_outbox columns an operator may filter on.
var JobFilterFields = []string{"id", "job_type", "status", "idempotency_key", "attempts", "run_after", "created_at", "updated_at", "locked_by"}

// CommonFilter is one column predicate of an admin list query.
type CommonFilter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Values   []any          `json:"values"`
}

// Check rejects fields outside allowed. Field names reach SQL as column identifiers.
func (f *CommonFilter) Check(allowed []string) error {
	for _, a := range allowed {
		if a == f.Field {
			return nil
		}
	}
	return ErrFilterField
}

// Build writes the predicate; a filter without values, or an unknown operator, writes nothing.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		return
	}
	col := clause.Column{Name: f.Field}
	first := f.Values[0]

	var expr clause.Expression
	switch f.Operator {
	case FilterOperatorEq:
		expr = clause.Eq{Column: col, Value: first}
	case FilterOperatorNotEq:
		expr = clause.Neq{Column: col, Value: first}
	case FilterOperatorLt:
		expr = clause.Lt{Column: col, Value: first}
	case FilterOperatorGte:
		expr = clause.Gte{Column: col, Value: first}
	case FilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		expr = clause.And(clause.Gte{Column: col, Value: first}, clause.Lt{Column: col, Value: f.Values[1]})
	case FilterOperatorIn:
		expr = clause.IN{Column: col, Values: f.Values}
	default:
		return
	}
	expr.Build(builder)
}
