package sqlrt

import (
	"context"
	"database/sql"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
)

// resolveMutation runs one write inside its own transaction at the isolation
// level fixed by the compiler. The committed event fires strictly after the
// commit returns; a rollback emits a failure event instead.
func (r *Runtime) resolveMutation(ctx context.Context, op *compiled.Operation, args map[string]any) (any, error) {
	bound, err := r.bindArgs(ctx, op, args)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolationLevel(op.Isolation)})
	if err != nil {
		return nil, qerr.Database(err)
	}

	result, err := r.runMutation(ctx, tx, op, bound)
	if err != nil {
		tx.Rollback()
		eventbus.Publish(ctx, r.bus, events.MutationFailed{Operation: op.Name, Kind: op.Kind, Err: err})
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		err = qerr.Database(err)
		eventbus.Publish(ctx, r.bus, events.MutationFailed{Operation: op.Name, Kind: op.Kind, Err: err})
		return nil, err
	}

	eventbus.Publish(ctx, r.bus, events.MutationCommitted{
		Operation: op.Name,
		Kind:      op.Kind,
		Payload:   mutationPayload(result),
	})
	return result, nil
}

func (r *Runtime) runMutation(ctx context.Context, tx *sql.Tx, op *compiled.Operation, bound []any) (any, error) {
	rows, err := r.queryRows(ctx, tx, op, op.SQL, bound)
	if err != nil {
		return nil, err
	}
	return r.foldResult(op, rows)
}

func mutationPayload(result any) map[string]any {
	switch v := result.(type) {
	case map[string]any:
		return v
	case []any:
		if len(v) > 0 {
			if m, ok := v[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func isolationLevel(name string) sql.IsolationLevel {
	switch name {
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
