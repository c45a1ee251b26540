package rules

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/metrics"
	"github.com/careconnect/backend/api/query"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Loader loads a rule by name, returning ErrNotFound when absent.
type Loader interface {
	Get(ctx context.Context, name string) (*Rule, error)
}

// ExecuteRequest is the body of POST /api/rules/execute.
type ExecuteRequest struct {
	RuleName   string         `json:"rule_name" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

// Result is the outcome of a rule execution.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

// Executor runs stored rules through the query engine.
type Executor struct {
	Rules  Loader
	Engine *query.Engine
}

// Execute loads the named rule, binds params and runs it.
func (x *Executor) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	rule, err := x.Rules.Get(ctx, name)
	if errors.Is(err, ErrNotFound) || (err == nil && !rule.IsActive) {
		return nil, apierror.NotFound("Rule not found or inactive")
	}
	if err != nil {
		return nil, err
	}

	stmt, err := BuildStatement(rule, params)
	if err != nil {
		metrics.RecordRuleExecution(rule.Name, "invalid")
		return nil, err
	}

	rows, err := x.Engine.Exec(ctx, "rule", stmt)
	if err != nil {
		metrics.RecordRuleExecution(rule.Name, "error")
		return nil, err
	}

	var result any = rows
	scalar, isScalar := singleValue(rows)
	if isScalar {
		result = scalar
	}

	if rule.Threshold != nil && isScalar {
		if n, ok := asInt(scalar); ok && n > *rule.Threshold {
			metrics.RecordRuleExecution(rule.Name, "failed")
			return &Result{Status: StatusError, Message: rule.ErrorMessage, Result: scalar}, nil
		}
	}

	metrics.RecordRuleExecution(rule.Name, "passed")
	return &Result{Status: StatusSuccess, Message: "Rule passed", Result: result}, nil
}

// BuildStatement renders the SQL for r with params bound. A template entry
// whose param is absent or null fails before any SQL is produced.
func BuildStatement(r *Rule, params map[string]any) (*query.Statement, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var exprs []string
	if len(r.Aggregates) > 0 {
		for _, a := range r.Aggregates {
			expr, err := aggregateExpr(a)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
	} else {
		for _, c := range r.AllowedColumns {
			if c == "*" {
				exprs = append(exprs, c)
				continue
			}
			exprs = append(exprs, query.QuoteIdent(c))
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(query.QuoteIdent(r.TableName))

	var args query.Args
	if len(r.WhereTemplate) > 0 {
		preds := make([]string, 0, len(r.WhereTemplate))
		for _, c := range r.WhereTemplate {
			value := c.Value
			if c.Param != "" {
				v, ok := params[c.Param]
				if !ok || v == nil {
					return nil, apierror.Validation("Missing param: " + c.Param)
				}
				value = v
			}
			pred, err := args.Predicate(c.Column, c.Operator, value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	if len(r.GroupBy) > 0 {
		cols := make([]string, len(r.GroupBy))
		for i, c := range r.GroupBy {
			cols[i] = query.QuoteIdent(c)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}

	return &query.Statement{SQL: sb.String(), Args: args.Values()}, nil
}

func singleValue(rows []map[string]any) (any, bool) {
	if len(rows) != 1 || len(rows[0]) != 1 {
		return nil, false
	}
	for _, v := range rows[0] {
		return v, true
	}
	return nil, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case string:
		// numeric columns come back as text
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
