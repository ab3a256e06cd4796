package engine

import (
	"context"

	"github.com/quarryql/quarry/internal/compiled"
)

// Runtime is the host integration surface the engine resolves through.
//
// General contract
//   - Execution is synchronous and depth-first. Root fields of a mutation
//     run strictly in document order; a root field never starts before the
//     previous one finished.
//   - Errors returned from any method become located GraphQL errors. If the
//     field's return type is Non-Null, the engine propagates the null to the
//     nearest nullable ancestor.
//   - The principal travels on ctx (security.WithPrincipal); implementations
//     enforcing row-level access read it from there.
//   - Implementations must be safe for concurrent use and must not mutate
//     source or args values.
type Runtime interface {
	// ResolveRoot executes one compiled operation with fully coerced
	// arguments and returns the raw value prior to completion: a row map,
	// a slice of row maps, or nil for an empty singular result.
	ResolveRoot(ctx context.Context, op *compiled.Operation, args map[string]any) (any, error)

	// ResolveField resolves a child field from a parent value. For row-map
	// sources this is a plain key lookup; wrappers may intercept synthetic
	// sources of their own.
	ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error)

	// SerializeLeaf coerces a scalar or enum value into a JSON-safe Go
	// value. Enums serialize to their symbolic name.
	SerializeLeaf(ctx context.Context, typeName string, value any) (any, error)
}
