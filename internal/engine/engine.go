// Package engine executes GraphQL requests against a compiled schema. It
// validates the whole operation up front, enforces the staged security
// checks, resolves through a Runtime, and applies null propagation during
// value completion.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/quarryql/quarry/internal/cache"
	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/language"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/schema"
	"github.com/quarryql/quarry/internal/security"
)

type Engine struct {
	runtime    Runtime
	schema     *schema.Schema
	cs         *compiled.Schema
	cache      *cache.Cache
	bus        *eventbus.Bus
	checksum   string
	defaultTTL time.Duration
}

// Options configures the optional collaborators of the engine. A nil Cache
// disables result caching; a nil Bus drops events.
type Options struct {
	Cache      *cache.Cache
	Bus        *eventbus.Bus
	DefaultTTL time.Duration
}

func New(runtime Runtime, sch *schema.Schema, cs *compiled.Schema, opts Options) *Engine {
	return &Engine{
		runtime:    runtime,
		schema:     sch,
		cs:         cs,
		cache:      opts.Cache,
		bus:        opts.Bus,
		checksum:   cs.Checksum(),
		defaultTTL: opts.DefaultTTL,
	}
}

type executionState struct {
	engine         *Engine
	document       *language.QueryDocument
	variableValues map[string]any
	context        context.Context
	principal      *security.Principal
	errors         []GraphQLError
	cached         bool
}

func (state *executionState) addError(err GraphQLError) {
	state.errors = append(state.errors, err)
}

// Execute runs one GraphQL request. The principal is read from ctx; requests
// without one execute as anonymous.
func (e *Engine) Execute(ctx context.Context, query, operationName string, variables map[string]any) *Result {
	document, err := language.ParseQuery(query)
	if err != nil {
		return &Result{Errors: []GraphQLError{errorOf(qerr.Wrap(qerr.KindParse, err, "%v", err), nil)}}
	}

	operation := getOperation(document, operationName)
	if operation == nil {
		return &Result{Errors: []GraphQLError{validationError("operation not found", nil)}}
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		return &Result{Errors: []GraphQLError{validationError("subscriptions are served over the event stream endpoint", nil)}}
	default:
		return &Result{Errors: []GraphQLError{validationError(fmt.Sprintf("unsupported operation type: %s", operation.Operation), nil)}}
	}
	if rootType == nil {
		return &Result{Errors: []GraphQLError{validationError(fmt.Sprintf("schema does not support %s operations", operation.Operation), nil)}}
	}

	// The whole operation is validated before anything touches the database;
	// one unknown field anywhere fails the request without partial effects.
	if errs := validateOperation(e.schema, document, operation, rootType); len(errs) > 0 {
		return &Result{Errors: errs}
	}

	coercedVariables, err := coerceVariableValues(e.schema, operation, variables)
	if err != nil {
		return &Result{Errors: []GraphQLError{validationError(err.Error(), nil)}}
	}

	state := &executionState{
		engine:         e,
		document:       document,
		variableValues: coercedVariables,
		context:        ctx,
		principal:      security.FromContext(ctx),
	}

	data := executeSelectionSet(state, rootType, operation.SelectionSet, nil, Path{})
	if data == nil {
		return &Result{Data: nil, Errors: state.errors, Cached: state.cached}
	}
	return &Result{Data: data, Errors: state.errors, Cached: state.cached}
}

// executeSelectionSet executes one level of selections. It returns nil when
// a Non-Null field resolved to null, propagating the null to the caller.
func executeSelectionSet(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, objectValue any, path Path) map[string]any {
	grouped := collectFields(state, objectType, selectionSet)
	resultMap := make(map[string]any)

	for _, collected := range grouped.orderedFields() {
		responseName := collected.ResponseName
		fields := collected.Fields
		fieldPath := appendPath(path, responseName)

		fieldResult := executeFieldGroup(state, objectType, objectValue, fields, fieldPath)

		if fields[0].Name == "__typename" {
			resultMap[responseName] = fieldResult
			continue
		}

		fieldDef := objectType.Field(fields[0].Name)
		if fieldDef == nil {
			// Pre-validation rejects unknown fields; reaching here means a
			// schema-level meta field resolved above.
			resultMap[responseName] = fieldResult
			continue
		}

		if schema.IsNonNull(fieldDef.Type) && isNullish(fieldResult) {
			return nil
		}
		if isNullish(fieldResult) {
			resultMap[responseName] = nil
		} else {
			resultMap[responseName] = fieldResult
		}
	}

	return resultMap
}

func executeFieldGroup(state *executionState, objectType *schema.Type, objectValue any, fields []*language.Field, path Path) any {
	field := fields[0]
	fieldName := field.Name

	if fieldName == "__typename" {
		return objectType.Name
	}

	fieldDef := objectType.Field(fieldName)
	if fieldDef == nil {
		state.addError(validationError(fmt.Sprintf("Cannot query field '%s' on type '%s'", fieldName, objectType.Name), path))
		return nil
	}

	argumentValues, argsOK := coerceArgumentValues(fieldDef, field.Arguments, state.variableValues, state, path)
	if !argsOK {
		// The coercion errors are already recorded; nothing may execute with
		// a partial binding.
		return nil
	}

	var resolved any
	var err error
	if op := state.rootOperation(objectType, fieldName); op != nil {
		resolved, err = state.resolveOperation(op, argumentValues)
	} else {
		if masked, maskErr := state.maskField(objectType.Name, fieldName, fieldDef, path); masked {
			if maskErr != nil {
				state.addError(errorOf(maskErr, path))
			}
			return nil
		}
		resolved, err = state.engine.runtime.ResolveField(state.context, objectType.Name, fieldName, objectValue, argumentValues)
	}
	if err != nil {
		state.addError(errorOf(err, path))
		return nil
	}

	return completeValue(state, fieldDef.Type, fields, resolved, path)
}

// rootOperation returns the compiled operation behind a root field, or nil
// for meta fields and non-root selections.
func (state *executionState) rootOperation(objectType *schema.Type, fieldName string) *compiled.Operation {
	sch := state.engine.schema
	if objectType.Name != sch.QueryType && objectType.Name != sch.MutationType {
		return nil
	}
	return state.engine.cs.Operation(fieldName)
}

// resolveOperation runs the staged security checks and the cache consult
// around the runtime call for one compiled operation.
func (state *executionState) resolveOperation(op *compiled.Operation, args map[string]any) (any, error) {
	if err := security.Authorize(state.principal, &op.Security); err != nil {
		return nil, err
	}

	e := state.engine
	cacheable := op.OpType == compiled.OpTypeQuery && e.cache != nil
	// An operation without a declared TTL takes the server default; a
	// declared 0 opts it out of caching entirely.
	ttl := e.defaultTTL
	if op.CacheTTLSeconds != nil {
		ttl = time.Duration(*op.CacheTTLSeconds) * time.Second
	}
	if !cacheable || ttl <= 0 {
		return e.runtime.ResolveRoot(state.context, op, args)
	}

	scope := ""
	if op.Security.RowFilter != nil {
		bound, err := security.BindRowFilter(state.principal, op.Security.RowFilter)
		if err != nil {
			return nil, err
		}
		scope = fmt.Sprintf("%s:%v", op.Security.RowFilter.Bind, bound)
	}
	key := cache.Key(e.checksum, op.Name, args, scope)
	if value, ok := e.cache.Get(key); ok {
		state.cached = true
		eventbus.Publish(state.context, e.bus, events.CacheHit{Operation: op.Name, Key: key})
		return value, nil
	}
	eventbus.Publish(state.context, e.bus, events.CacheMiss{Operation: op.Name, Key: key})

	value, err := e.runtime.ResolveRoot(state.context, op, args)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, value, ttl)
	return value, nil
}

// maskField reports whether a role-scoped field must be hidden from the
// current principal. Nullable fields mask silently; a masked Non-Null field
// additionally yields an authorization error so the null propagation has a
// recorded cause.
func (state *executionState) maskField(typeName, fieldName string, fieldDef *schema.Field, path Path) (bool, error) {
	ct := state.engine.cs.Type(typeName)
	if ct == nil {
		return false, nil
	}
	cf := ct.Field(fieldName)
	if cf == nil || len(cf.RequiresScope) == 0 {
		return false, nil
	}
	if security.FieldAllowed(state.principal, cf.RequiresScope) {
		return false, nil
	}
	if schema.IsNonNull(fieldDef.Type) {
		return true, qerr.New(qerr.KindAuthorization, "not authorized to read field '%s.%s'", typeName, fieldName)
	}
	return true, nil
}

func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(fieldType) {
		if isNullish(result) {
			if !state.hasErrorAtPath(path) {
				state.addError(GraphQLError{
					Message:    fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)),
					Path:       path,
					Extensions: map[string]any{"code": string(qerr.KindInternal)},
				})
			}
			return nil
		}
		return completeValue(state, schema.Unwrap(fieldType), fields, result, path)
	}

	if isNullish(result) {
		return nil
	}

	if schema.IsList(fieldType) {
		return completeListValue(state, fieldType, fields, result, path)
	}

	namedType := schema.GetNamedType(fieldType)
	typeObj := state.engine.schema.Types[namedType]
	if typeObj == nil {
		state.addError(errorOf(qerr.New(qerr.KindInternal, "unknown type: %s", namedType), path))
		return nil
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := state.engine.runtime.SerializeLeaf(state.context, namedType, result)
		if err != nil {
			state.addError(errorOf(err, path))
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		sub := mergeSelectionSets(fields)
		return executeSelectionSet(state, typeObj, sub, result, path)
	default:
		state.addError(errorOf(qerr.New(qerr.KindInternal, "cannot complete value of type kind %s", typeObj.Kind), path))
		return nil
	}
}

func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice {
			state.addError(errorOf(qerr.New(qerr.KindInternal, "expected list value, got %T", result), path))
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := schema.Unwrap(listType)
	completed := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		v := completeValue(state, inner, fields, item, p)
		if schema.IsNonNull(inner) && isNullish(v) {
			// Null propagates from the element to the whole list.
			return nil
		}
		completed[i] = v
	}
	return completed
}

func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" && len(document.Operations) == 1 {
		for _, op := range document.Operations {
			return op
		}
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op
		}
	}
	return nil
}

func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		if i > 0 {
			result += "."
		}
		switch v := elem.(type) {
		case string:
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

func (state *executionState) hasErrorAtPath(path Path) bool {
	for _, err := range state.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
