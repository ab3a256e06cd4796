package sqlrt

import (
	"context"
	"time"

	"github.com/quarryql/quarry/internal/qerr"
)

// ResolveField reads one field from a folded row. Nested objects arrive as
// maps decoded from the row's JSON payload, so resolution is a key lookup.
func (r *Runtime) ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	m, ok := source.(map[string]any)
	if !ok {
		if source == nil {
			return nil, nil
		}
		return nil, qerr.New(qerr.KindInternal, "cannot resolve field '%s.%s' on %T", objectType, field, source)
	}
	return m[field], nil
}

// SerializeLeaf renders a database value as the declared scalar. Drivers
// disagree on booleans and temporals; everything else passes through and the
// JSON encoder finishes the job.
func (r *Runtime) SerializeLeaf(ctx context.Context, typeName string, value any) (any, error) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	switch typeName {
	case "Boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case int:
			return v != 0, nil
		}
	case "DateTime":
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339), nil
		}
	case "Date":
		if t, ok := value.(time.Time); ok {
			return t.Format("2006-01-02"), nil
		}
	case "Time":
		if t, ok := value.(time.Time); ok {
			return t.Format("15:04:05"), nil
		}
	}
	return value, nil
}
