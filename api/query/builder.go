// Package query turns structured, caller-supplied filter descriptions into
// parameterized SQL and runs them against the shared Postgres pool.
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/validate"
)

// Operators accepted in filters and rule templates.
var Operators = map[string]string{
	"=":     "=",
	"!=":    "!=",
	">":     ">",
	"<":     "<",
	">=":    ">=",
	"<=":    "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
	"in":    "IN",
}

// Aggregates accepted in payloads and rules.
var Aggregates = map[string]bool{
	"count": true,
	"max":   true,
	"min":   true,
	"sum":   true,
	"avg":   true,
}

// FilterCondition is one predicate of a query.
type FilterCondition struct {
	Column   string `json:"column" validate:"required,sqlident"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// Payload is the body of POST /api/query.
type Payload struct {
	Table           string            `json:"table,omitempty" validate:"omitempty,sqlident"`
	Select          []string          `json:"select,omitempty"`
	Filters         []FilterCondition `json:"filters,omitempty" validate:"dive"`
	Aggregates      []string          `json:"aggregates,omitempty" validate:"dive,oneof=count max min sum avg"`
	AggregateColumn string            `json:"aggregate_column,omitempty" validate:"omitempty,sqlident"`
	RawSQL          string            `json:"raw_sql,omitempty"`
}

// Statement is SQL text with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Args collects positional arguments while predicates are assembled, so
// placeholders stay numbered in the order they are emitted.
type Args struct {
	values []any
}

// Values returns the collected arguments in placeholder order.
func (a *Args) Values() []any {
	return a.values
}

func (a *Args) next(v any) string {
	a.values = append(a.values, normalize(v))
	return fmt.Sprintf("$%d", len(a.values))
}

// Predicate renders `"column" op $n`, or `"column" IN ($n, $n+1, ...)` for
// the in operator, appending the values to a.
func (a *Args) Predicate(column, operator string, value any) (string, error) {
	if !validate.IsIdentifier(column) {
		return "", apierror.Validationf("Invalid column: %s", column)
	}
	sqlOp, ok := Operators[strings.ToLower(operator)]
	if !ok {
		return "", apierror.Validationf("Unsupported operator: %s", operator)
	}

	if sqlOp == "IN" {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return "", apierror.Validationf("Operator in on %s requires a non-empty list", column)
		}
		placeholders := make([]string, len(list))
		for i, item := range list {
			if !isScalar(item) {
				return "", apierror.Validationf("Operator in on %s requires a list of scalar values", column)
			}
			placeholders[i] = a.next(item)
		}
		return fmt.Sprintf("%s IN (%s)", QuoteIdent(column), strings.Join(placeholders, ", ")), nil
	}

	if !isScalar(value) {
		return "", apierror.Validationf("Operator %s on %s requires a scalar value", operator, column)
	}
	return fmt.Sprintf("%s %s %s", QuoteIdent(column), sqlOp, a.next(value)), nil
}

// QuoteIdent double-quotes each part of a validated identifier.
func QuoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

// AggregateExpr renders `fn("col") AS "fn_col"`.
func AggregateExpr(fn, column, alias string) (string, error) {
	fn = strings.ToLower(fn)
	if !Aggregates[fn] {
		return "", apierror.Validationf("Unsupported aggregate: %s", fn)
	}
	if !validate.IsIdentifier(column) {
		return "", apierror.Validationf("Invalid column: %s", column)
	}
	if alias == "" {
		alias = fn + "_" + lastPart(column)
	}
	if !validate.IsIdentifier(alias) || strings.Contains(alias, ".") {
		return "", apierror.Validationf("Invalid alias: %s", alias)
	}
	return fmt.Sprintf("%s(%s) AS %s", fn, QuoteIdent(column), QuoteIdent(alias)), nil
}

// Build validates p and assembles its SELECT statement. It never touches the
// database. Payloads carrying raw_sql are not handled here.
func Build(p *Payload) (*Statement, error) {
	if p.Table == "" && p.RawSQL == "" {
		return nil, apierror.Validation("Either raw_sql or table must be provided.")
	}
	if p.Table != "" && p.RawSQL != "" {
		return nil, apierror.Validation("Provide either raw_sql or table, not both.")
	}
	if p.Table == "" {
		return nil, apierror.Validation("raw_sql payloads cannot be built")
	}
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	expr, err := selectExpr(p)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(expr)
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdent(p.Table))

	var args Args
	if len(p.Filters) > 0 {
		preds := make([]string, 0, len(p.Filters))
		for _, f := range p.Filters {
			pred, err := args.Predicate(f.Column, f.Operator, f.Value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	return &Statement{SQL: sb.String(), Args: args.Values()}, nil
}

func selectExpr(p *Payload) (string, error) {
	switch {
	case len(p.Select) > 0:
		cols := make([]string, len(p.Select))
		for i, c := range p.Select {
			if c == "*" {
				cols[i] = c
				continue
			}
			if !validate.IsIdentifier(c) {
				return "", apierror.Validationf("Invalid column: %s", c)
			}
			cols[i] = QuoteIdent(c)
		}
		return strings.Join(cols, ", "), nil
	case len(p.Aggregates) > 0:
		if p.AggregateColumn == "" {
			return "", apierror.Validation("aggregate_column is required when aggregates are requested")
		}
		exprs := make([]string, len(p.Aggregates))
		for i, fn := range p.Aggregates {
			expr, err := AggregateExpr(fn, p.AggregateColumn, "")
			if err != nil {
				return "", err
			}
			exprs[i] = expr
		}
		return strings.Join(exprs, ", "), nil
	default:
		return "*", nil
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return false
	default:
		return true
	}
}

// normalize turns whole JSON numbers into int64 so they bind to integer
// columns.
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}

func lastPart(ident string) string {
	if i := strings.LastIndexByte(ident, '.'); i >= 0 {
		return ident[i+1:]
	}
	return ident
}
