// Package rules stores named query templates and executes them against
// caller parameters.
package rules

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/query"
	"github.com/careconnect/backend/api/validate"
)

// JSONList is a list persisted in a jsonb column.
type JSONList[T any] []T

// Scan implements sql.Scanner.
func (l *JSONList[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = JSONList[T]{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("rules: cannot scan %T into a json list", src)
	}
	out := JSONList[T]{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("rules: invalid json list: %w", err)
	}
	*l = out
	return nil
}

// Value implements driver.Valuer.
func (l JSONList[T]) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]T(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Condition is one where_template entry. Exactly one of Param and Value is
// set: Param names a caller parameter, Value is a fixed literal.
type Condition struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Param    string `json:"param,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// Aggregate is one aggregate expression of a rule.
type Aggregate struct {
	Function string `json:"function"`
	Column   string `json:"column"`
	Alias    string `json:"alias,omitempty"`
}

// Rule is a named, stored query template.
type Rule struct {
	ID             string              `db:"id" json:"id"`
	Name           string              `db:"name" json:"name"`
	TableName      string              `db:"table_name" json:"table_name"`
	AllowedColumns JSONList[string]    `db:"allowed_columns" json:"allowed_columns"`
	WhereTemplate  JSONList[Condition] `db:"where_template" json:"where_template"`
	Aggregates     JSONList[Aggregate] `db:"aggregates" json:"aggregates"`
	GroupBy        JSONList[string]    `db:"group_by" json:"group_by"`
	ErrorMessage   string              `db:"error_message" json:"error_message"`
	Threshold      *int64              `db:"threshold" json:"threshold"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// Input is the body of POST /api/rules.
type Input struct {
	Name           string      `json:"name" validate:"required,max=200"`
	TableName      string      `json:"table_name" validate:"required,sqlident"`
	AllowedColumns []string    `json:"allowed_columns"`
	WhereTemplate  []Condition `json:"where_template"`
	Aggregates     []Aggregate `json:"aggregates"`
	GroupBy        []string    `json:"group_by"`
	ErrorMessage   string      `json:"error_message"`
	Threshold      *int64      `json:"threshold"`
	IsActive       *bool       `json:"is_active"`
}

// Rule converts the input to a Rule. is_active defaults to true.
func (in *Input) Rule() *Rule {
	r := &Rule{
		Name:           in.Name,
		TableName:      in.TableName,
		AllowedColumns: in.AllowedColumns,
		WhereTemplate:  in.WhereTemplate,
		Aggregates:     in.Aggregates,
		GroupBy:        in.GroupBy,
		ErrorMessage:   in.ErrorMessage,
		Threshold:      in.Threshold,
		IsActive:       true,
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	return r
}

// Patch is the body of PUT /api/rules/{name}. Nil fields are left unchanged.
type Patch struct {
	TableName      *string      `json:"table_name"`
	AllowedColumns *[]string    `json:"allowed_columns"`
	WhereTemplate  *[]Condition `json:"where_template"`
	Aggregates     *[]Aggregate `json:"aggregates"`
	GroupBy        *[]string    `json:"group_by"`
	ErrorMessage   *string      `json:"error_message"`
	Threshold      *int64       `json:"threshold"`
	IsActive       *bool        `json:"is_active"`
}

// Apply merges the non-nil fields of p into r.
func (p *Patch) Apply(r *Rule) {
	if p.TableName != nil {
		r.TableName = *p.TableName
	}
	if p.AllowedColumns != nil {
		r.AllowedColumns = *p.AllowedColumns
	}
	if p.WhereTemplate != nil {
		r.WhereTemplate = *p.WhereTemplate
	}
	if p.Aggregates != nil {
		r.Aggregates = *p.Aggregates
	}
	if p.GroupBy != nil {
		r.GroupBy = *p.GroupBy
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
	if p.Threshold != nil {
		r.Threshold = p.Threshold
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
}

// Validate checks that r can be turned into SQL.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return apierror.Validation("Missing required field: name")
	}
	if err := validate.Var("table_name", r.TableName, "required,sqlident"); err != nil {
		return err
	}
	if len(r.AllowedColumns) == 0 && len(r.Aggregates) == 0 {
		return apierror.Validation("A rule needs allowed_columns or aggregates")
	}
	for _, c := range r.AllowedColumns {
		if c != "*" && !validate.IsIdentifier(c) {
			return apierror.Validationf("Invalid column: %s", c)
		}
	}
	for _, c := range r.GroupBy {
		if !validate.IsIdentifier(c) {
			return apierror.Validationf("Invalid group_by column: %s", c)
		}
	}
	for _, a := range r.Aggregates {
		if _, err := aggregateExpr(a); err != nil {
			return err
		}
	}
	for _, c := range r.WhereTemplate {
		if !validate.IsIdentifier(c.Column) {
			return apierror.Validationf("Invalid column: %s", c.Column)
		}
		if _, ok := query.Operators[strings.ToLower(c.Operator)]; !ok {
			return apierror.Validationf("Unsupported operator: %s", c.Operator)
		}
		if (c.Param == "") == (c.Value == nil) {
			return apierror.Validationf("where_template entry on %s needs exactly one of param or value", c.Column)
		}
	}
	if r.Threshold != nil && *r.Threshold < 0 {
		return apierror.Validation("threshold must not be negative")
	}
	return nil
}

func aggregateExpr(a Aggregate) (string, error) {
	if a.Column == "*" && a.Function == "count" {
		alias := a.Alias
		if alias == "" {
			alias = "count"
		}
		if !validate.IsIdentifier(alias) || strings.Contains(alias, ".") {
			return "", apierror.Validationf("Invalid alias: %s", alias)
		}
		return "count(*) AS " + query.QuoteIdent(alias), nil
	}
	return query.AggregateExpr(a.Function, a.Column, a.Alias)
}
