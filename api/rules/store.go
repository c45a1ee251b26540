package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/handlers/dberror"
	"github.com/careconnect/backend/api/metrics"
	"github.com/jmoiron/sqlx"
)

const ruleColumns = `id, name, table_name, allowed_columns, where_template, aggregates,
	group_by, error_message, threshold, is_active, created_at, updated_at`

// ErrNotFound is returned when no rule has the requested name.
var ErrNotFound = errors.New("rule not found")

// Store persists rules in the rules table.
type Store struct {
	DB *sqlx.DB
}

// Get loads a rule by name.
func (s *Store) Get(ctx context.Context, name string) (*Rule, error) {
	start := time.Now()
	var r Rule
	err := s.DB.GetContext(ctx, &r, `SELECT `+ruleColumns+` FROM rules WHERE name = $1`, name)
	metrics.RecordDBQuery("rules_store", time.Since(start), ignoreNoRows(err))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %q: %w", name, err)
	}
	return &r, nil
}

// List returns every rule ordered by name.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	start := time.Now()
	out := []Rule{}
	err := s.DB.SelectContext(ctx, &out, `SELECT `+ruleColumns+` FROM rules ORDER BY name`)
	metrics.RecordDBQuery("rules_store", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out, nil
}

// Create inserts r. A duplicate name is a validation error.
func (s *Store) Create(ctx context.Context, r *Rule) (*Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var out Rule
	err := s.DB.GetContext(ctx, &out, `
		INSERT INTO rules (name, table_name, allowed_columns, where_template, aggregates,
			group_by, error_message, threshold, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+ruleColumns,
		r.Name, r.TableName, r.AllowedColumns, r.WhereTemplate, r.Aggregates,
		r.GroupBy, r.ErrorMessage, r.Threshold, r.IsActive)
	metrics.RecordDBQuery("rules_store", time.Since(start), err)
	if dberror.IsUniqueViolation(err, "") {
		return nil, &apierror.Error{Kind: apierror.KindValidation, Message: "Rule with this name already exists", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create rule %q: %w", r.Name, err)
	}
	return &out, nil
}

// Update merges patch into the named rule.
func (s *Store) Update(ctx context.Context, name string, patch *Patch) (*Rule, error) {
	current, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, apierror.NotFound("Rule not found")
	}
	if err != nil {
		return nil, err
	}

	patch.Apply(current)
	if err := current.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var out Rule
	err = s.DB.GetContext(ctx, &out, `
		UPDATE rules SET
			table_name = $2,
			allowed_columns = $3,
			where_template = $4,
			aggregates = $5,
			group_by = $6,
			error_message = $7,
			threshold = $8,
			is_active = $9,
			updated_at = now()
		WHERE name = $1
		RETURNING `+ruleColumns,
		name, current.TableName, current.AllowedColumns, current.WhereTemplate, current.Aggregates,
		current.GroupBy, current.ErrorMessage, current.Threshold, current.IsActive)
	metrics.RecordDBQuery("rules_store", time.Since(start), ignoreNoRows(err))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("Rule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rule %q: %w", name, err)
	}
	return &out, nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}
