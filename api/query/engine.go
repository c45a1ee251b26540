package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/handlers/dberror"
	"github.com/careconnect/backend/api/metrics"
	"github.com/jmoiron/sqlx"
)

// Engine runs payloads on a database handle.
type Engine struct {
	DB *sqlx.DB
	// RawSQLEnabled allows privileged callers to run raw_sql payloads.
	RawSQLEnabled bool
	Log           *slog.Logger
}

// Run executes p. privileged must be true only for callers holding the admin
// role; raw_sql is refused otherwise.
func (e *Engine) Run(ctx context.Context, p *Payload, privileged bool) ([]map[string]any, error) {
	if p.RawSQL != "" && p.Table == "" {
		if !e.RawSQLEnabled || !privileged {
			return nil, apierror.Forbidden("raw_sql is disabled")
		}
		return e.runRaw(ctx, p.RawSQL)
	}

	stmt, err := Build(p)
	if err != nil {
		return nil, err
	}
	if !privileged {
		if err := checkTable(p.Table); err != nil {
			return nil, err
		}
	}
	return e.Exec(ctx, "query", stmt)
}

// Tables that hold service state rather than application data.
var internalTables = map[string]bool{
	"rules":            true,
	"goose_db_version": true,
}

// checkTable limits non-admin payloads to unqualified application tables,
// which resolve through the search path to the public schema.
func checkTable(table string) error {
	if strings.Contains(table, ".") {
		return apierror.Forbidden("Schema-qualified tables require the admin role")
	}
	if internalTables[strings.ToLower(table)] {
		return apierror.Forbidden("Table " + table + " is not queryable")
	}
	return nil
}

// Exec runs a prepared statement and returns every row. source labels the
// db query metrics.
func (e *Engine) Exec(ctx context.Context, source string, stmt *Statement) ([]map[string]any, error) {
	start := time.Now()
	rows, err := e.DB.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		metrics.RecordDBQuery(source, time.Since(start), err)
		e.logFailure(source, stmt.SQL, err)
		return nil, dberror.ToAPIError(err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	metrics.RecordDBQuery(source, time.Since(start), err)
	if err != nil {
		e.logFailure(source, stmt.SQL, err)
		return nil, dberror.ToAPIError(err)
	}
	return out, nil
}

func (e *Engine) runRaw(ctx context.Context, rawSQL string) ([]map[string]any, error) {
	start := time.Now()
	tx, err := e.DB.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		metrics.RecordDBQuery("raw_sql", time.Since(start), err)
		return nil, dberror.ToAPIError(fmt.Errorf("failed to begin read-only transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryxContext(ctx, rawSQL)
	if err != nil {
		metrics.RecordDBQuery("raw_sql", time.Since(start), err)
		e.logFailure("raw_sql", rawSQL, err)
		return nil, dberror.ToAPIError(err)
	}
	out, err := scanRows(rows)
	rows.Close()
	metrics.RecordDBQuery("raw_sql", time.Since(start), err)
	if err != nil {
		e.logFailure("raw_sql", rawSQL, err)
		return nil, dberror.ToAPIError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dberror.ToAPIError(err)
	}
	return out, nil
}

func (e *Engine) logFailure(source, sqlText string, err error) {
	if e.Log == nil {
		return
	}
	if dberror.IsTransient(err) {
		e.Log.Warn("query failed, database unavailable", "source", source, "error", err)
		return
	}
	e.Log.Error("query failed", "source", source, "sql", sqlText, "error", err)
}

func scanRows(rows *sqlx.Rows) ([]map[string]any, error) {
	out := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
