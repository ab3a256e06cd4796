package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	compiled "github.com/quarryql/quarry/internal/compiled"
	config "github.com/quarryql/quarry/internal/config"
	ir "github.com/quarryql/quarry/internal/ir"
	qerr "github.com/quarryql/quarry/internal/qerr"
)

func testDoc() *ir.Document {
	return &ir.Document{
		Types: []*ir.TypeDef{
			{Name: "User", SQLSource: "v_user", Fields: []*ir.FieldDef{
				{Name: "id", Type: "Int"},
				{Name: "name", Type: "String"},
				{Name: "email", Type: "String", Nullable: true},
				{Name: "salary", Type: "Float", Nullable: true, RequiresScope: []string{"hr", "admin"}},
			}},
		},
		Queries: []*ir.OperationDef{
			{Name: "user", ReturnType: "User", Nullable: true, SQLSource: "v_user_by_id",
				Arguments: []*ir.ArgDef{{Name: "id", Type: "Int"}}},
			{Name: "usersByTenant", ReturnType: "User", ReturnsList: true, SQLSource: "v_user",
				Security: &ir.SecurityPolicy{
					RequiresAuth: true,
					Roles:        []string{"viewer", "admin"},
					RowFilter:    &ir.RowFilter{Column: "tenant_id", Bind: ir.BindTenant},
				}},
		},
		Mutations: []*ir.OperationDef{
			{Name: "createUser", ReturnType: "User", Kind: ir.OpCreate, SQLSource: "tb_user",
				Arguments: []*ir.ArgDef{
					{Name: "name", Type: "String"},
					{Name: "email", Type: "String", Nullable: true},
				}},
			{Name: "updateUser", ReturnType: "User", Kind: ir.OpUpdate, SQLSource: "tb_user",
				Arguments: []*ir.ArgDef{
					{Name: "id", Type: "Int"},
					{Name: "name", Type: "String", Nullable: true},
				}},
		},
		FactTables: []*ir.FactTableDef{
			{Name: "sales", TableName: "tf_sales",
				Measures:            []*ir.Measure{{Name: "revenue", Type: "Float"}, {Name: "quantity", Type: "Int"}},
				Dimensions:          []*ir.Dimension{{Name: "region", ExtractionPath: "region"}},
				DenormalizedColumns: []string{"customer_id"}},
		},
		Observers: []*ir.ObserverDef{
			{Name: "notifyCreate", OnOperation: "createUser", WebhookURL: "https://hooks.example.com/users"},
		},
		Subscriptions: []*ir.SubscriptionDef{
			{Name: "userCreated", ReturnType: "User", OnOperations: []string{"createUser"}},
		},
	}
}

func compileDoc(t *testing.T, doc *ir.Document) *compiled.Schema {
	t.Helper()
	cs, err := Compile(doc, config.Default())
	require.NoError(t, err)
	return cs
}

func TestCompileIsDeterministic(t *testing.T) {
	first := compileDoc(t, testDoc())
	second := compileDoc(t, testDoc())

	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
	require.Equal(t, first.Checksum(), second.Checksum())
}

func TestCompileReadOperationSQL(t *testing.T) {
	cs := compileDoc(t, testDoc())
	op := cs.Operation("user")
	require.NotNil(t, op)
	require.Equal(t, "SELECT * FROM v_user_by_id WHERE id = ?", op.SQL)
	require.Equal(t, []string{"id"}, op.ArgOrder)
	require.Equal(t, compiled.OpTypeQuery, op.OpType)
}

func TestCompilePostgresPlaceholders(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	cs, err := Compile(testDoc(), cfg)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM v_user_by_id WHERE id = $1", cs.Operation("user").SQL)
	require.Equal(t, "INSERT INTO tb_user (name, email) VALUES ($1, $2) RETURNING *", cs.Operation("createUser").SQL)
}

func TestCompileMutationSQL(t *testing.T) {
	cs := compileDoc(t, testDoc())

	create := cs.Operation("createUser")
	require.Equal(t, "INSERT INTO tb_user (name, email) VALUES (?, ?) RETURNING *", create.SQL)
	require.Equal(t, []string{"name", "email"}, create.ArgOrder)

	update := cs.Operation("updateUser")
	require.Equal(t, "UPDATE tb_user SET name = ? WHERE id = ? RETURNING *", update.SQL)
	require.Equal(t, []string{"name", "id"}, update.ArgOrder)
}

func TestCompileSecurityMetadata(t *testing.T) {
	cs := compileDoc(t, testDoc())
	op := cs.Operation("usersByTenant")
	require.True(t, op.Security.RequiresAuth)
	require.Equal(t, []string{"admin", "viewer"}, op.Security.RequiredRoles)
	require.NotNil(t, op.Security.RowFilter)
	require.Equal(t, "tenant_id", op.Security.RowFilter.Column)

	// field scopes of the reachable type graph are compiled in
	want := map[string][]string{"User.salary": {"admin", "hr"}}
	if diff := cmp.Diff(want, op.Security.FieldScopes); diff != "" {
		t.Fatalf("field scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileRowFilterSQL(t *testing.T) {
	cs := compileDoc(t, testDoc())
	op := cs.Operation("usersByTenant")
	require.Equal(t, "SELECT * FROM v_user WHERE tenant_id = ?", op.SQL)
	require.Equal(t, []string{compiled.RowFilterArg}, op.ArgOrder)
}

func TestCompileRowFilterOnMutations(t *testing.T) {
	doc := testDoc()
	rf := &ir.SecurityPolicy{RowFilter: &ir.RowFilter{Column: "tenant_id", Bind: ir.BindTenant}}
	doc.Mutations[0].Security = rf
	doc.Mutations[1].Security = rf
	cs := compileDoc(t, doc)

	require.Equal(t,
		"INSERT INTO tb_user (name, email, tenant_id) VALUES (?, ?, ?) RETURNING *",
		cs.Operation("createUser").SQL)
	require.Equal(t, []string{"name", "email", compiled.RowFilterArg}, cs.Operation("createUser").ArgOrder)

	require.Equal(t,
		"UPDATE tb_user SET name = ? WHERE id = ? AND tenant_id = ? RETURNING *",
		cs.Operation("updateUser").SQL)
	require.Equal(t, []string{"name", "id", compiled.RowFilterArg}, cs.Operation("updateUser").ArgOrder)
}

func TestCompileRejectsAggregateRowFilterOffTable(t *testing.T) {
	doc := testDoc()
	doc.FactTables[0].Security = &ir.SecurityPolicy{
		RowFilter: &ir.RowFilter{Column: "region_name", Bind: ir.BindTenant},
	}
	_, err := Compile(doc, config.Default())
	require.Equal(t, qerr.KindCompilation, qerr.KindOf(err))
	require.ErrorContains(t, err, "denormalized")
}

func TestCompileAggregateOperation(t *testing.T) {
	cs := compileDoc(t, testDoc())
	op := cs.Operation("sales")
	require.NotNil(t, op)
	require.Equal(t, "AGGREGATE", op.Kind)
	require.True(t, op.ReturnsList)
	require.NotNil(t, op.FactTable)
	require.Equal(t, "tf_sales", op.FactTable.TableName)
	require.Equal(t, "sum", op.FactTable.Measures[0].AggregationDefault)
	require.Empty(t, op.SQL, "aggregate SQL is planned per request")
}

func TestCompileObserversAttachedToMutation(t *testing.T) {
	cs := compileDoc(t, testDoc())
	op := cs.Operation("createUser")
	require.Len(t, op.Observers, 1)
	require.Equal(t, "notifyCreate", op.Observers[0].Name)
	require.Equal(t, "SUCCESS", op.Observers[0].Trigger)
	require.Equal(t, 3, op.Observers[0].MaxAttempts)

	require.Empty(t, cs.Operation("updateUser").Observers)
	require.Len(t, cs.SubscriptionsFor("createUser"), 1)
}

func TestCompileRejectsNameCollision(t *testing.T) {
	doc := testDoc()
	doc.Mutations = append(doc.Mutations, &ir.OperationDef{
		Name: "user", ReturnType: "User", Kind: ir.OpCreate, SQLSource: "tb_user",
		Arguments: []*ir.ArgDef{{Name: "name", Type: "String"}},
	})
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Equal(t, qerr.KindCompilation, qerr.KindOf(err))
	require.Contains(t, err.Error(), "operation name collision")
}

func TestCompileRejectsMissingSQLSource(t *testing.T) {
	doc := testDoc()
	doc.Queries[0].SQLSource = ""
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no sqlSource")
}

func TestCompileRejectsUnknownIsolation(t *testing.T) {
	doc := testDoc()
	doc.Mutations[0].Isolation = "CHAOTIC"
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown transactionIsolation")
}

func TestCompileRejectsUnregisteredDimensionColumn(t *testing.T) {
	doc := testDoc()
	doc.FactTables[0].Dimensions = append(doc.FactTables[0].Dimensions, &ir.Dimension{Name: "walkin"})
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unregistered column")
}

func TestCompileRejectsHostileFactTableIdentifiers(t *testing.T) {
	// Fact-table names reach planner-generated SQL verbatim, so the compiler
	// holds them to the same whitelist as operation sources.
	cases := map[string]func(*ir.FactTableDef){
		"table name": func(ft *ir.FactTableDef) { ft.TableName = "tf_sales; DROP TABLE users" },
		"measure":    func(ft *ir.FactTableDef) { ft.Measures[0].Name = "revenue) FROM tf_sales --" },
		"dimension":  func(ft *ir.FactTableDef) { ft.Dimensions[0].Name = "region, password" },
		"denormalized column": func(ft *ir.FactTableDef) {
			ft.DenormalizedColumns = append(ft.DenormalizedColumns, "1=1 OR customer_id")
		},
		"extraction path": func(ft *ir.FactTableDef) { ft.Dimensions[0].ExtractionPath = "region') --" },
	}
	for name, mutate := range cases {
		doc := testDoc()
		mutate(doc.FactTables[0])
		_, err := Compile(doc, config.Default())
		require.Error(t, err, "case %s", name)
		require.Equal(t, qerr.KindCompilation, qerr.KindOf(err), "case %s", name)
	}
}

func TestCompileRejectsUnsupportedConstructs(t *testing.T) {
	doc := testDoc()
	doc.Types = append(doc.Types, &ir.TypeDef{Name: "Node", Kind: ir.KindInterface})
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Equal(t, qerr.KindCompilation, qerr.KindOf(err))
	require.Contains(t, err.Error(), "not supported by this build")
}

func TestCompileRejectsMaliciousIdentifier(t *testing.T) {
	doc := testDoc()
	doc.Queries[0].SQLSource = "v_user; DROP TABLE users"
	_, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a valid SQL identifier")
}

func TestCompileAllOrNothing(t *testing.T) {
	doc := testDoc()
	doc.Mutations[1].SQLSource = ""
	cs, err := Compile(doc, config.Default())
	require.Error(t, err)
	require.Nil(t, cs, "no partially-compiled schema may be emitted")
}
