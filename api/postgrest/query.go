package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query accumulates filters for a single table request.
type Query struct {
	client *Client
	table  string
	params url.Values
	order  []string
	upsert bool
}

// Select sets the returned columns. Embedded resources use PostgREST syntax,
// e.g. "*,health_profiles!inner(user_id)".
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Filter adds column=op.value. The value is passed through unquoted.
func (q *Query) Filter(column, op, value string) *Query {
	q.params.Add(column, op+"."+value)
	return q
}

func (q *Query) Eq(column string, value any) *Query {
	return q.Filter(column, "eq", formatScalar(value))
}

func (q *Query) Neq(column string, value any) *Query {
	return q.Filter(column, "neq", formatScalar(value))
}

func (q *Query) Gt(column string, value any) *Query {
	return q.Filter(column, "gt", formatScalar(value))
}

func (q *Query) Gte(column string, value any) *Query {
	return q.Filter(column, "gte", formatScalar(value))
}

func (q *Query) Lt(column string, value any) *Query {
	return q.Filter(column, "lt", formatScalar(value))
}

func (q *Query) Lte(column string, value any) *Query {
	return q.Filter(column, "lte", formatScalar(value))
}

func (q *Query) Like(column, pattern string) *Query {
	return q.Filter(column, "like", pattern)
}

// ILike matches case-insensitively; use * as the wildcard.
func (q *Query) ILike(column, pattern string) *Query {
	return q.Filter(column, "ilike", pattern)
}

// In adds column=in.(a,b,...).
func (q *Query) In(column string, values ...any) *Query {
	return q.Filter(column, "in", "("+joinList(values)+")")
}

// NotIn adds column=not.in.(a,b,...).
func (q *Query) NotIn(column string, values ...any) *Query {
	return q.Filter(column, "not.in", "("+joinList(values)+")")
}

// Contains adds column=cs.{a,b,...} for array columns.
func (q *Query) Contains(column string, values ...any) *Query {
	return q.Filter(column, "cs", "{"+joinList(values)+"}")
}

// Is adds column=is.null|true|false.
func (q *Query) Is(column, value string) *Query {
	return q.Filter(column, "is", value)
}

// Or adds or=(cond,cond,...) where each cond is "column.op.value".
func (q *Query) Or(conditions ...string) *Query {
	q.params.Add("or", "("+strings.Join(conditions, ",")+")")
	return q
}

// Order appends an ordering term.
func (q *Query) Order(column string, desc bool) *Query {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q.order = append(q.order, column+"."+dir)
	q.params.Set("order", strings.Join(q.order, ","))
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *Query) Offset(n int) *Query {
	q.params.Set("offset", strconv.Itoa(n))
	return q
}

// Upsert turns Insert into an upsert merging on the primary key.
func (q *Query) Upsert() *Query {
	q.upsert = true
	return q
}

// Params returns the encoded query string. Useful in tests and logs.
func (q *Query) Params() string {
	return q.params.Encode()
}

// Execute runs a GET. Reads are retried on transient failures.
func (q *Query) Execute(ctx context.Context) (*Response, error) {
	return q.client.do(ctx, request{
		method: http.MethodGet,
		table:  q.table,
		query:  q.params,
	})
}

// Rows runs a GET and decodes the result rows.
func (q *Query) Rows(ctx context.Context) ([]map[string]any, error) {
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Rows()
}

// Insert POSTs body and returns the created representation.
func (q *Query) Insert(ctx context.Context, body any) (*Response, error) {
	prefer := "return=representation"
	if q.upsert {
		prefer += ",resolution=merge-duplicates"
	}
	return q.client.do(ctx, request{
		method:  http.MethodPost,
		table:   q.table,
		query:   q.params,
		body:    body,
		headers: map[string]string{"Prefer": prefer},
	})
}

// Update PATCHes every row matching the filters and returns them.
func (q *Query) Update(ctx context.Context, body any) (*Response, error) {
	return q.client.do(ctx, request{
		method:  http.MethodPatch,
		table:   q.table,
		query:   q.params,
		body:    body,
		headers: map[string]string{"Prefer": "return=representation"},
	})
}

// Delete removes every row matching the filters.
func (q *Query) Delete(ctx context.Context) (*Response, error) {
	return q.client.do(ctx, request{
		method:  http.MethodDelete,
		table:   q.table,
		query:   q.params,
		headers: map[string]string{"Prefer": "return=representation"},
	})
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// joinList renders list elements, quoting any that contain PostgREST
// reserved characters.
func joinList(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		s := formatScalar(v)
		if strings.ContainsAny(s, `,.:()"{} \`) {
			s = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
		}
		parts[i] = s
	}
	return strings.Join(parts, ",")
}
