package introspection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/engine"
	"github.com/quarryql/quarry/internal/schema"
)

// noopRuntime answers every non-introspection resolution with nil.
type noopRuntime struct{}

func (noopRuntime) ResolveRoot(context.Context, *compiled.Operation, map[string]any) (any, error) {
	return nil, nil
}

func (noopRuntime) ResolveField(context.Context, string, string, any, map[string]any) (any, error) {
	return nil, nil
}

func (noopRuntime) SerializeLeaf(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func fixture(t *testing.T) (*compiled.Schema, *schema.Schema) {
	t.Helper()
	cs := &compiled.Schema{
		SchemaVersion: "1",
		Dialect:       "sqlite3",
		Types: []*compiled.Type{
			{
				Name: "Greeting", Kind: "OBJECT", SQLSource: "v_greeting",
				Fields: []*compiled.Field{
					{Name: "id", Type: "ID"},
					{Name: "message", Type: "String", Nullable: true},
					{Name: "tone", Type: "Tone", Nullable: true},
				},
			},
			{Name: "Tone", Kind: "ENUM", EnumValues: []string{"FORMAL", "CASUAL"}},
		},
		Operations: []*compiled.Operation{
			{
				Name: "greeting", OpType: compiled.OpTypeQuery, Kind: "QUERY",
				ReturnType: "Greeting", Nullable: true,
				SQL: "SELECT * FROM v_greeting LIMIT 1",
			},
		},
	}
	cs.BuildIndex()
	sch, err := schema.BuildFromCompiled(cs)
	require.NoError(t, err)
	return cs, sch
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cs, sch := fixture(t)
	w := Wrap(noopRuntime{}, sch)
	return engine.New(w.Runtime, w.Schema, cs, engine.Options{})
}

func TestSchemaQuery(t *testing.T) {
	e := newEngine(t)

	res := e.Execute(context.Background(), `{ __schema { queryType { name } } }`, "", nil)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]any)
	qt := data["__schema"].(map[string]any)["queryType"].(map[string]any)
	require.Equal(t, "Query", qt["name"])
}

func TestSchemaTypesIncludeDomainTypes(t *testing.T) {
	e := newEngine(t)

	res := e.Execute(context.Background(), `{ __schema { types { name kind } } }`, "", nil)
	require.Empty(t, res.Errors)

	names := map[string]string{}
	types := res.Data.(map[string]any)["__schema"].(map[string]any)["types"].([]any)
	for _, item := range types {
		m := item.(map[string]any)
		names[m["name"].(string)] = m["kind"].(string)
	}
	require.Equal(t, "OBJECT", names["Greeting"])
	require.Equal(t, "ENUM", names["Tone"])
	// the described schema is the original one, without the meta types
	require.NotContains(t, names, "__Schema")
}

func TestTypeQuery(t *testing.T) {
	e := newEngine(t)

	res := e.Execute(context.Background(),
		`{ __type(name: "Greeting") { name kind fields { name type { kind ofType { name } } } } }`, "", nil)
	require.Empty(t, res.Errors)

	typ := res.Data.(map[string]any)["__type"].(map[string]any)
	require.Equal(t, "Greeting", typ["name"])
	require.Equal(t, "OBJECT", typ["kind"])

	byName := map[string]map[string]any{}
	for _, f := range typ["fields"].([]any) {
		m := f.(map[string]any)
		byName[m["name"].(string)] = m
	}
	id := byName["id"]
	require.Equal(t, "NON_NULL", id["type"].(map[string]any)["kind"])
	require.Equal(t, "ID", id["type"].(map[string]any)["ofType"].(map[string]any)["name"])
}

func TestTypeQueryUnknownNameIsNull(t *testing.T) {
	e := newEngine(t)

	res := e.Execute(context.Background(), `{ __type(name: "Nope") { name } }`, "", nil)
	require.Empty(t, res.Errors)
	require.Nil(t, res.Data.(map[string]any)["__type"])
}

func TestEnumValues(t *testing.T) {
	e := newEngine(t)

	res := e.Execute(context.Background(),
		`{ __type(name: "Tone") { enumValues { name } } }`, "", nil)
	require.Empty(t, res.Errors)

	values := res.Data.(map[string]any)["__type"].(map[string]any)["enumValues"].([]any)
	require.Len(t, values, 2)
	require.Equal(t, "FORMAL", values[0].(map[string]any)["name"])
}

func TestUnwrappedEngineRejectsIntrospection(t *testing.T) {
	cs, sch := fixture(t)
	e := engine.New(noopRuntime{}, sch, cs, engine.Options{})

	res := e.Execute(context.Background(), `{ __schema { queryType { name } } }`, "", nil)
	require.NotEmpty(t, res.Errors)
}

func TestTypenameWithoutWrapper(t *testing.T) {
	cs, sch := fixture(t)
	e := engine.New(noopRuntime{}, sch, cs, engine.Options{})

	res := e.Execute(context.Background(), `{ __typename }`, "", nil)
	require.Empty(t, res.Errors)
	require.Equal(t, "Query", res.Data.(map[string]any)["__typename"])
}
