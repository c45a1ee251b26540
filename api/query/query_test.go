package query_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/query"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, rawSQL bool) (*query.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &query.Engine{DB: sqlx.NewDb(db, "sqlmock"), RawSQLEnabled: rawSQL}, mock
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		payload  query.Payload
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "star without filters",
			payload: query.Payload{Table: "care_requests"},
			wantSQL: `SELECT * FROM "care_requests"`,
		},
		{
			name: "select list and filters",
			payload: query.Payload{
				Table:  "care_applications",
				Select: []string{"id", "status"},
				Filters: []query.FilterCondition{
					{Column: "caregiver_user_id", Operator: "=", Value: "u1"},
					{Column: "status", Operator: "!=", Value: "closed"},
				},
			},
			wantSQL:  `SELECT "id", "status" FROM "care_applications" WHERE "caregiver_user_id" = $1 AND "status" != $2`,
			wantArgs: []any{"u1", "closed"},
		},
		{
			name: "in expands one placeholder per element",
			payload: query.Payload{
				Table: "care_applications",
				Filters: []query.FilterCondition{
					{Column: "caregiver_user_id", Operator: "=", Value: "u1"},
					{Column: "status", Operator: "in", Value: []any{"pending", "accepted", "interview_scheduled"}},
					{Column: "created_at", Operator: ">=", Value: "2025-01-01"},
				},
			},
			wantSQL:  `SELECT * FROM "care_applications" WHERE "caregiver_user_id" = $1 AND "status" IN ($2, $3, $4) AND "created_at" >= $5`,
			wantArgs: []any{"u1", "pending", "accepted", "interview_scheduled", "2025-01-01"},
		},
		{
			name: "aggregates",
			payload: query.Payload{
				Table:           "care_services",
				Aggregates:      []string{"count", "sum"},
				AggregateColumn: "amount",
				Filters:         []query.FilterCondition{{Column: "hours", Operator: ">", Value: float64(2)}},
			},
			wantSQL:  `SELECT count("amount") AS "count_amount", sum("amount") AS "sum_amount" FROM "care_services" WHERE "hours" > $1`,
			wantArgs: []any{int64(2)},
		},
		{
			name: "schema qualified and ilike",
			payload: query.Payload{
				Table:   "public.profiles",
				Filters: []query.FilterCondition{{Column: "full_name", Operator: "ilike", Value: "%ann%"}},
			},
			wantSQL:  `SELECT * FROM "public"."profiles" WHERE "full_name" ILIKE $1`,
			wantArgs: []any{"%ann%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := query.Build(&tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, stmt.SQL)
			assert.Equal(t, tt.wantArgs, stmt.Args)
		})
	}
}

func TestBuild_InPlaceholderCount(t *testing.T) {
	for n := 1; n <= 6; n++ {
		values := make([]any, n)
		for i := range values {
			values[i] = i
		}
		stmt, err := query.Build(&query.Payload{
			Table: "t",
			Filters: []query.FilterCondition{
				{Column: "a", Operator: "=", Value: "x"},
				{Column: "b", Operator: "in", Value: values},
			},
		})
		require.NoError(t, err)
		assert.Len(t, stmt.Args, n+1)
		assert.Equal(t, values, stmt.Args[1:])
		assert.Equal(t, n+1, countPlaceholders(stmt.SQL))
	}
}

func countPlaceholders(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			n++
		}
	}
	return n
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload query.Payload
		want    string
	}{
		{"neither table nor raw_sql", query.Payload{}, "Either raw_sql or table must be provided."},
		{"both", query.Payload{Table: "t", RawSQL: "select 1"}, "Provide either raw_sql or table, not both."},
		{"bad table", query.Payload{Table: "t; drop table rules"}, "Invalid identifier for table: t; drop table rules"},
		{"bad select", query.Payload{Table: "t", Select: []string{"count(*)"}}, "Invalid column: count(*)"},
		{"bad column", query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a b", Operator: "=", Value: 1}}}, "Invalid identifier for column: a b"},
		{"bad operator", query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a", Operator: "~", Value: 1}}}, "Unsupported operator: ~"},
		{"in without list", query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a", Operator: "in", Value: "x"}}}, "Operator in on a requires a non-empty list"},
		{"in with empty list", query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a", Operator: "in", Value: []any{}}}}, "Operator in on a requires a non-empty list"},
		{"scalar op with list", query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a", Operator: "=", Value: []any{1}}}}, "Operator = on a requires a scalar value"},
		{"aggregate without column", query.Payload{Table: "t", Aggregates: []string{"count"}}, "aggregate_column is required when aggregates are requested"},
		{"unknown aggregate", query.Payload{Table: "t", Aggregates: []string{"median"}, AggregateColumn: "a"}, "Invalid aggregates[0]: must be one of count, max, min, sum, avg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Build(&tt.payload)
			require.Error(t, err)
			e, ok := apierror.As(err)
			require.True(t, ok)
			assert.Equal(t, apierror.KindValidation, e.Kind)
			assert.Equal(t, tt.want, e.Message)
		})
	}
}

func TestRun_ValidationNeverTouchesDatabase(t *testing.T) {
	e, mock := newEngine(t, false)

	_, err := e.Run(context.Background(), &query.Payload{}, false)
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, err = e.Run(context.Background(), &query.Payload{Table: "t", Filters: []query.FilterCondition{{Column: "a", Operator: "in", Value: []any{}}}}, false)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ReturnsRows(t *testing.T) {
	e, mock := newEngine(t, false)

	mock.ExpectQuery(`SELECT * FROM "care_applications" WHERE "caregiver_user_id" = $1 AND "status" IN ($2, $3)`).
		WithArgs("u1", "pending", "accepted").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow("a1", "pending").
			AddRow("a2", []byte("accepted")))

	rows, err := e.Run(context.Background(), &query.Payload{
		Table: "care_applications",
		Filters: []query.FilterCondition{
			{Column: "caregiver_user_id", Operator: "=", Value: "u1"},
			{Column: "status", Operator: "in", Value: []any{"pending", "accepted"}},
		},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": "a1", "status": "pending"},
		{"id": "a2", "status": "accepted"},
	}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_EmptyResultIsEmptyList(t *testing.T) {
	e, mock := newEngine(t, false)
	mock.ExpectQuery(`SELECT * FROM "agencies"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rows, err := e.Run(context.Background(), &query.Payload{Table: "agencies"}, false)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRun_PostgresErrorIsServerError(t *testing.T) {
	e, mock := newEngine(t, false)
	mock.ExpectQuery(`SELECT * FROM "care_requests" WHERE "nope" = $1`).
		WithArgs("x").
		WillReturnError(&pgconn.PgError{Code: "42703", Message: `column "nope" does not exist`})

	_, err := e.Run(context.Background(), &query.Payload{
		Table:   "care_requests",
		Filters: []query.FilterCondition{{Column: "nope", Operator: "=", Value: "x"}},
	}, false)
	require.Error(t, err)
	ae, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, 500, ae.HTTPStatus())
	assert.Equal(t, `PostgreSQL error: column "nope" does not exist`, ae.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_TableAccess(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{name: "other schema", table: "auth.users"},
		{name: "public schema qualified", table: "public.profiles"},
		{name: "rules table", table: "rules"},
		{name: "migration bookkeeping", table: "goose_db_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newEngine(t, false)
			_, err := e.Run(context.Background(), &query.Payload{Table: tt.table}, false)
			require.Error(t, err)
			assert.Equal(t, apierror.KindForbidden, apierror.KindOf(err))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("admin may qualify the schema", func(t *testing.T) {
		e, mock := newEngine(t, false)
		mock.ExpectQuery(`SELECT * FROM "auth"."users"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
		rows, err := e.Run(context.Background(), &query.Payload{Table: "auth.users"}, true)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRun_RawSQL(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e, mock := newEngine(t, false)
		_, err := e.Run(context.Background(), &query.Payload{RawSQL: "select 1"}, true)
		require.Error(t, err)
		assert.Equal(t, apierror.KindForbidden, apierror.KindOf(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("enabled but caller is not admin", func(t *testing.T) {
		e, mock := newEngine(t, true)
		_, err := e.Run(context.Background(), &query.Payload{RawSQL: "select 1"}, false)
		require.Error(t, err)
		assert.Equal(t, "raw_sql is disabled", err.Error())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin runs inside a transaction", func(t *testing.T) {
		e, mock := newEngine(t, true)
		mock.ExpectBegin()
		mock.ExpectQuery(`select count(*) as n from care_applications`).
			WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(7)))
		mock.ExpectCommit()

		rows, err := e.Run(context.Background(), &query.Payload{RawSQL: "select count(*) as n from care_applications"}, true)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"n": int64(7)}}, rows)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write rejected by read-only transaction", func(t *testing.T) {
		e, mock := newEngine(t, true)
		mock.ExpectBegin()
		mock.ExpectQuery(`delete from rules`).
			WillReturnError(&pgconn.PgError{Code: "25006", Message: "cannot execute DELETE in a read-only transaction"})
		mock.ExpectRollback()

		_, err := e.Run(context.Background(), &query.Payload{RawSQL: "delete from rules"}, true)
		require.Error(t, err)
		assert.Equal(t, "PostgreSQL error: cannot execute DELETE in a read-only transaction", apierrorMessage(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func apierrorMessage(err error) string {
	if e, ok := apierror.As(err); ok {
		return e.Message
	}
	return err.Error()
}
