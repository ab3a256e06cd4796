// Package sqlrt implements the engine Runtime on database/sql. Every
// operation executes the parameterized SQL fixed at compile time; the only
// per-request SQL assembly happens in the olap planner, from whitelisted
// identifiers.
package sqlrt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/config"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/security"
)

// Runtime resolves compiled operations against a live database pool.
type Runtime struct {
	db          *sql.DB
	cs          *compiled.Schema
	dialect     string
	stmtTimeout time.Duration
	bus         *eventbus.Bus
}

// Open connects the pool described by cfg and verifies it with a ping.
func Open(cfg *config.Database, cs *compiled.Schema, bus *eventbus.Bus) (*Runtime, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindDatabase, err, "open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	ctx := context.Background()
	if t := cfg.ConnectionTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, qerr.Database(err)
	}
	return New(db, cs, cfg.Driver, cfg.StatementTimeout.Std(), bus), nil
}

// New wraps an existing pool; tests hand in their own in-memory database.
func New(db *sql.DB, cs *compiled.Schema, dialect string, stmtTimeout time.Duration, bus *eventbus.Bus) *Runtime {
	return &Runtime{db: db, cs: cs, dialect: dialect, stmtTimeout: stmtTimeout, bus: bus}
}

func (r *Runtime) Close() error { return r.db.Close() }

// DB exposes the underlying pool for health checks.
func (r *Runtime) DB() *sql.DB { return r.db }

// ResolveRoot executes one compiled operation.
func (r *Runtime) ResolveRoot(ctx context.Context, op *compiled.Operation, args map[string]any) (any, error) {
	if op.Kind == "AGGREGATE" {
		return r.resolveAggregate(ctx, op, args)
	}
	if op.OpType == compiled.OpTypeMutation {
		return r.resolveMutation(ctx, op, args)
	}
	return r.resolveQuery(ctx, op, args)
}

func (r *Runtime) resolveQuery(ctx context.Context, op *compiled.Operation, args map[string]any) (any, error) {
	bound, err := r.bindArgs(ctx, op, args)
	if err != nil {
		return nil, err
	}
	rows, err := r.queryRows(ctx, r.db, op, op.SQL, bound)
	if err != nil {
		return nil, err
	}
	return r.foldResult(op, rows)
}

// foldResult shapes raw rows per the operation's declared return.
func (r *Runtime) foldResult(op *compiled.Operation, rows []rawRow) (any, error) {
	t := r.cs.Type(op.ReturnType)
	if op.ReturnsList {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, foldRow(t, row))
		}
		return out, nil
	}
	if len(rows) == 0 {
		if op.Nullable {
			return nil, nil
		}
		return nil, qerr.New(qerr.KindNotFound, "%s: no matching row", op.Name)
	}
	return foldRow(t, rows[0]), nil
}

// bindArgs orders the request's argument values per the compiled ArgOrder.
// The row filter sentinel binds from the principal on ctx, never from the
// request.
func (r *Runtime) bindArgs(ctx context.Context, op *compiled.Operation, args map[string]any) ([]any, error) {
	principal := security.FromContext(ctx)
	bound := make([]any, 0, len(op.ArgOrder))
	for _, name := range op.ArgOrder {
		if name == compiled.RowFilterArg {
			v, err := security.BindRowFilter(principal, op.Security.RowFilter)
			if err != nil {
				return nil, err
			}
			bound = append(bound, v)
			continue
		}
		bound = append(bound, bindable(args[name]))
	}
	return bound, nil
}

// bindable converts composite argument values into driver-acceptable ones.
// Input objects and lists travel as JSON text.
func bindable(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte, time.Time:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryRows runs one statement and scans every row into a column map.
func (r *Runtime) queryRows(ctx context.Context, q querier, op *compiled.Operation, sqlText string, args []any) ([]rawRow, error) {
	if r.stmtTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stmtTimeout)
		defer cancel()
	}

	eventbus.Publish(ctx, r.bus, events.SQLQueryStart{Operation: op.Name, SQL: sqlText, NumArgs: len(args)})
	started := time.Now()

	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		eventbus.Publish(ctx, r.bus, events.SQLQueryFinish{Operation: op.Name, SQL: sqlText, Err: err, Duration: time.Since(started)})
		return nil, classifyDBError(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, qerr.Database(err)
	}

	var out []rawRow
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, qerr.Database(err)
		}
		row := make(rawRow, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		eventbus.Publish(ctx, r.bus, events.SQLQueryFinish{Operation: op.Name, SQL: sqlText, Err: err, Duration: time.Since(started)})
		return nil, classifyDBError(ctx, err)
	}

	eventbus.Publish(ctx, r.bus, events.SQLQueryFinish{Operation: op.Name, SQL: sqlText, Rows: len(out), Duration: time.Since(started)})
	return out, nil
}

// classifyDBError distinguishes deadline expiry from genuine database
// failures, scrubbing the latter.
func classifyDBError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return qerr.Wrap(qerr.KindTimeout, err, "statement timed out")
	}
	return qerr.Database(err)
}

// normalizeValue converts driver values into engine-friendly Go values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
