package resources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/careconnect/backend/api/validate"
)

// Service runs schema operations against PostgREST with service-role
// credentials. Every operation is scoped to the caller.
type Service struct {
	REST *postgrest.Client
}

// Create inserts body as a new row owned by callerID. A client-supplied
// owner value is overwritten.
func (s *Service) Create(ctx context.Context, sc *Schema, callerID string, body map[string]any) (map[string]any, error) {
	var ignore []string
	if sc.OwnerColumn != "" {
		ignore = append(ignore, sc.OwnerColumn)
	}
	row, err := checkFields(sc.Fields, body, ignore, true)
	if err != nil {
		return nil, err
	}
	if sc.Parent != nil {
		if err := s.requireParent(ctx, sc.Parent, callerID, row[sc.Parent.Key]); err != nil {
			return nil, err
		}
	}
	if sc.OwnerColumn != "" {
		row[sc.OwnerColumn] = callerID
	}

	q := s.REST.From(sc.Table)
	if sc.Upsert {
		q = q.Upsert()
	}
	resp, err := q.Insert(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", strings.ToLower(sc.Name), err)
	}
	created, err := resp.First()
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = row
	}
	return created, nil
}

// Update patches the row identified by body["id"] (or the caller's row for
// singleton resources) with the non-null update fields in body.
func (s *Service) Update(ctx context.Context, sc *Schema, callerID string, body map[string]any) (map[string]any, error) {
	var id string
	if !sc.Singleton {
		var err error
		if id, err = requireID(body["id"]); err != nil {
			return nil, err
		}
	}

	fields := make(map[string]any, len(body))
	for k, v := range body {
		if k != "id" {
			fields[k] = v
		}
	}
	patch, err := checkFields(sc.UpdateFields, fields, nil, false)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, apierror.Validation("No fields to update")
	}
	if sc.BeforeUpdate != nil {
		sc.BeforeUpdate(callerID, patch)
	}

	q := s.REST.From(sc.Table)
	switch {
	case sc.Singleton:
		q = q.Eq(sc.OwnerColumn, callerID)
	case len(sc.UpdateGuard) > 0:
		if err := s.authorize(ctx, sc, callerID, id); err != nil {
			return nil, err
		}
		q = q.Eq("id", id)
	case sc.Parent != nil:
		if _, err := s.Get(ctx, sc, callerID, id); err != nil {
			return nil, err
		}
		q = q.Eq("id", id)
	default:
		q = q.Eq("id", id).Eq(sc.OwnerColumn, callerID)
	}

	resp, err := q.Update(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", strings.ToLower(sc.Name), err)
	}
	row, err := resp.First()
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apierror.NotFound(sc.Name + " not found")
	}
	return row, nil
}

// Get returns one row by id if the caller may read it.
func (s *Service) Get(ctx context.Context, sc *Schema, callerID, id string) (map[string]any, error) {
	if err := validate.Var("id", id, "uuid"); err != nil {
		return nil, err
	}
	rows, err := s.scoped(sc, callerID, "").Eq("id", id).Limit(1).Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", strings.ToLower(sc.Name), err)
	}
	if len(rows) == 0 {
		return nil, apierror.NotFound(sc.Name + " not found")
	}
	return rows[0], nil
}

// Query lists the caller's rows, narrowed by the schema's declared filters.
// When the schema has a LookupParam and params carries it, the rows of that
// owner are listed instead.
func (s *Service) Query(ctx context.Context, sc *Schema, callerID string, params url.Values, limit, offset int) ([]map[string]any, error) {
	lookup := ""
	if sc.LookupParam != "" {
		lookup = params.Get(sc.LookupParam)
		if lookup != "" {
			if err := validate.Var(sc.LookupParam, lookup, "uuid"); err != nil {
				return nil, err
			}
		}
	}
	return s.list(ctx, sc, s.scoped(sc, callerID, lookup), params, limit, offset)
}

// Browse lists rows across all owners. Only used for resources that are
// public listings, such as open care requests.
func (s *Service) Browse(ctx context.Context, sc *Schema, params url.Values, limit, offset int) ([]map[string]any, error) {
	q := s.REST.From(sc.Table).Select(sc.selectColumns())
	return s.list(ctx, sc, q, params, limit, offset)
}

func (s *Service) list(ctx context.Context, sc *Schema, q *postgrest.Query, params url.Values, limit, offset int) ([]map[string]any, error) {
	for _, f := range sc.Filters {
		values := params[f.Param]
		if len(values) == 0 || values[0] == "" {
			continue
		}
		switch f.Op {
		case OpILike:
			q = q.ILike(f.Column, "*"+values[0]+"*")
		case OpContains:
			items := make([]any, len(values))
			for i, v := range values {
				items[i] = v
			}
			q = q.Contains(f.Column, items...)
		default:
			q = q.Eq(f.Column, values[0])
		}
	}
	if sc.OrderBy != "" {
		q = q.Order(sc.OrderBy, sc.OrderDesc)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	rows, err := q.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", sc.Table, err)
	}
	return rows, nil
}

func (s *Service) scoped(sc *Schema, callerID, lookup string) *postgrest.Query {
	q := s.REST.From(sc.Table).Select(sc.selectColumns())
	if sc.Parent != nil {
		q = q.Eq(sc.Parent.Table+"."+sc.Parent.OwnerColumn, callerID)
	}
	if lookup != "" {
		return q.Eq(sc.OwnerColumn, lookup)
	}
	owners := sc.readOwners()
	switch len(owners) {
	case 0:
	case 1:
		q = q.Eq(owners[0], callerID)
	default:
		conds := make([]string, len(owners))
		for i, col := range owners {
			conds[i] = col + ".eq." + callerID
		}
		q = q.Or(conds...)
	}
	return q
}

// authorize reads the guard columns of row id and requires the caller in
// one of them.
func (s *Service) authorize(ctx context.Context, sc *Schema, callerID, id string) error {
	rows, err := s.REST.From(sc.Table).
		Select(strings.Join(sc.UpdateGuard, ",")).
		Eq("id", id).
		Limit(1).
		Rows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.ToLower(sc.Name), err)
	}
	if len(rows) == 0 {
		return apierror.NotFound(sc.Name + " not found")
	}
	for _, col := range sc.UpdateGuard {
		if v, _ := rows[0][col].(string); v != "" && v == callerID {
			return nil
		}
	}
	return apierror.Forbidden("Not allowed to update this " + strings.ToLower(sc.Name))
}

// requireParent checks that the referenced parent row belongs to callerID.
func (s *Service) requireParent(ctx context.Context, p *Parent, callerID string, parentID any) error {
	rows, err := s.REST.From(p.Table).
		Select("id").
		Eq("id", parentID).
		Eq(p.OwnerColumn, callerID).
		Limit(1).
		Rows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", p.Table, err)
	}
	if len(rows) == 0 {
		return apierror.Forbidden(fmt.Sprintf("%s does not belong to the caller", p.Key))
	}
	return nil
}

func requireID(raw any) (string, error) {
	if raw == nil {
		return "", apierror.Validation("Missing required field: id")
	}
	id, ok := raw.(string)
	if !ok {
		return "", apierror.Validation("id must be a valid UUID")
	}
	if err := validate.Var("id", id, "uuid"); err != nil {
		return "", err
	}
	return id, nil
}

// checkFields validates body against fields and returns the non-null
// values. Keys in ignore are accepted and dropped.
func checkFields(fields []Field, body map[string]any, ignore []string, enforceRequired bool) (map[string]any, error) {
	index := fieldIndex(fields)

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := index[k]; ok {
			continue
		}
		if contains(ignore, k) {
			continue
		}
		return nil, apierror.Validation("Unknown field: " + k)
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, present := body[f.Name]
		if !present || v == nil {
			if enforceRequired && f.required() {
				return nil, apierror.Validation("Missing required field: " + f.Name)
			}
			continue
		}
		if !f.Type.accepts(v) {
			return nil, apierror.Validationf("%s must be %s", f.Name, f.Type)
		}
		if rule := f.valueRule(); rule != "" {
			if err := validate.Var(f.Name, v, rule); err != nil {
				return nil, err
			}
		}
		out[f.Name] = v
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
