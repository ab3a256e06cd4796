// Package compiler binds a validated IR document and a configuration into
// the immutable compiled artifact. Compilation is deterministic: identical
// inputs always produce byte-identical output. Any failure aborts the whole
// build; no partial artifact is ever emitted.
package compiler

import (
	"sort"

	compiled "github.com/quarryql/quarry/internal/compiled"
	config "github.com/quarryql/quarry/internal/config"
	ir "github.com/quarryql/quarry/internal/ir"
	qerr "github.com/quarryql/quarry/internal/qerr"
)

var isolationLevels = map[string]bool{
	"":                true,
	"DEFAULT":         true,
	"READ_COMMITTED":  true,
	"REPEATABLE_READ": true,
	"SERIALIZABLE":    true,
}

// Compile binds doc to cfg's database dialect. doc must already have passed
// ir.Validate; conditions that only the binder can see (missing sqlSource,
// cross-section name collisions, unknown isolation levels, constructs the
// build does not support) are fatal compilation errors.
func Compile(doc *ir.Document, cfg *config.Config) (*compiled.Schema, error) {
	c := &builder{doc: doc, dialect: cfg.Database.Driver}
	return c.build()
}

type builder struct {
	doc     *ir.Document
	dialect string
}

func (c *builder) build() (*compiled.Schema, error) {
	out := &compiled.Schema{
		SchemaVersion: c.doc.SchemaVersion,
		Dialect:       c.dialect,
	}
	if out.SchemaVersion == "" {
		out.SchemaVersion = "1"
	}

	if err := c.compileTypes(out); err != nil {
		return nil, err
	}
	if err := c.compileOperations(out); err != nil {
		return nil, err
	}
	if err := c.compileFactTables(out); err != nil {
		return nil, err
	}
	c.compileSubscriptions(out)

	sort.Slice(out.Types, func(i, j int) bool { return out.Types[i].Name < out.Types[j].Name })
	sort.Slice(out.Operations, func(i, j int) bool { return out.Operations[i].Name < out.Operations[j].Name })
	sort.Slice(out.Subscriptions, func(i, j int) bool { return out.Subscriptions[i].Name < out.Subscriptions[j].Name })

	out.BuildIndex()
	return out, nil
}

// compileTypes resolves the type graph. This build profile serves objects,
// enums, and inputs; interface and union IR nodes are rejected rather than
// silently dropped.
func (c *builder) compileTypes(out *compiled.Schema) error {
	for _, t := range c.doc.Types {
		switch t.EffectiveKind() {
		case ir.KindInterface, ir.KindUnion:
			return qerr.New(qerr.KindCompilation,
				"type %q: %s types are not supported by this build", t.Name, t.EffectiveKind())
		}
		ct := &compiled.Type{
			Name:        t.Name,
			Kind:        string(t.EffectiveKind()),
			SQLSource:   t.SQLSource,
			JSONColumn:  t.EffectiveJSONColumn(),
			EnumValues:  t.EnumValues,
			Description: t.Description,
		}
		for _, f := range t.Fields {
			ct.Fields = append(ct.Fields, &compiled.Field{
				Name:             f.Name,
				Type:             f.Type,
				Nullable:         f.Nullable,
				List:             f.List,
				SQLColumn:        f.SQLColumn,
				RequiresScope:    sortedCopy(f.RequiresScope),
				DeprecatedReason: f.DeprecatedReason,
				Description:      f.Description,
			})
		}
		out.Types = append(out.Types, ct)
	}
	return nil
}

func (c *builder) compileOperations(out *compiled.Schema) error {
	seen := make(map[string]string) // name -> section
	note := func(name, section string) error {
		if prev, dup := seen[name]; dup {
			return qerr.New(qerr.KindCompilation, "operation name collision: %q declared in both %s and %s", name, prev, section)
		}
		seen[name] = section
		return nil
	}

	for _, q := range c.doc.Queries {
		if err := note(q.Name, "queries"); err != nil {
			return err
		}
		op, err := c.compileOperation(q, compiled.OpTypeQuery)
		if err != nil {
			return err
		}
		out.Operations = append(out.Operations, op)
	}
	for _, m := range c.doc.Mutations {
		if err := note(m.Name, "mutations"); err != nil {
			return err
		}
		op, err := c.compileOperation(m, compiled.OpTypeMutation)
		if err != nil {
			return err
		}
		op.Observers = c.observersFor(m.Name)
		out.Operations = append(out.Operations, op)
	}
	for _, ft := range c.doc.FactTables {
		if err := note(ft.Name, "factTables"); err != nil {
			return err
		}
	}
	return nil
}

func (c *builder) compileOperation(def *ir.OperationDef, opType compiled.OpType) (*compiled.Operation, error) {
	if !isolationLevels[def.Isolation] {
		return nil, qerr.New(qerr.KindCompilation, "operation %q: unknown transactionIsolation %q", def.Name, def.Isolation)
	}
	if def.SQLSource == "" {
		return nil, qerr.New(qerr.KindCompilation, "operation %q has no sqlSource to bind", def.Name)
	}
	kind := def.EffectiveKind()
	if opType == compiled.OpTypeQuery && kind != ir.OpQuery {
		return nil, qerr.New(qerr.KindCompilation, "operation %q: %s is not a query kind", def.Name, kind)
	}

	op := &compiled.Operation{
		Name:            def.Name,
		OpType:          opType,
		Kind:            string(kind),
		ReturnType:      def.ReturnType,
		ReturnsList:     def.ReturnsList,
		Nullable:        def.Nullable,
		CacheTTLSeconds: copyTTL(def.CacheTTLSeconds),
		Isolation:       def.Isolation,
		Security:        c.compileSecurity(def.Security, def.ReturnType),
	}
	for _, a := range def.Arguments {
		op.Args = append(op.Args, &compiled.Arg{
			Name:       a.Name,
			Type:       a.Type,
			Nullable:   a.Nullable,
			List:       a.List,
			Default:    a.Default,
			SQLColumn:  columnFor(a),
			PrimaryKey: a.PrimaryKey,
		})
	}

	sqlText, argOrder, err := c.generateSQL(def, op)
	if err != nil {
		return nil, err
	}
	op.SQL = sqlText
	op.ArgOrder = argOrder
	if err := c.applyRowFilter(op); err != nil {
		return nil, err
	}
	return op, nil
}

// compileSecurity merges the operation policy with the field scopes declared
// on every type reachable from the return type, so the engine never walks
// the IR at request time.
func (c *builder) compileSecurity(policy *ir.SecurityPolicy, returnType string) compiled.Security {
	sec := compiled.Security{FieldScopes: map[string][]string{}}
	if policy != nil {
		sec.RequiresAuth = policy.RequiresAuth
		sec.RequiredRoles = sortedCopy(policy.Roles)
		if policy.RowFilter != nil {
			sec.RowFilter = &compiled.RowFilter{Column: policy.RowFilter.Column, Bind: policy.RowFilter.Bind}
		}
		for path, roles := range policy.FieldScopes {
			sec.FieldScopes[path] = sortedCopy(roles)
		}
	}
	c.collectFieldScopes(returnType, sec.FieldScopes, map[string]bool{})
	if len(sec.FieldScopes) == 0 {
		sec.FieldScopes = nil
	}
	return sec
}

func (c *builder) collectFieldScopes(typeName string, scopes map[string][]string, visited map[string]bool) {
	if visited[typeName] {
		return
	}
	visited[typeName] = true
	var t *ir.TypeDef
	for _, cand := range c.doc.Types {
		if cand.Name == typeName {
			t = cand
			break
		}
	}
	if t == nil {
		return
	}
	for _, f := range t.Fields {
		if len(f.RequiresScope) > 0 {
			path := t.Name + "." + f.Name
			if _, declared := scopes[path]; !declared {
				scopes[path] = sortedCopy(f.RequiresScope)
			}
		}
		if !ir.IsScalar(f.Type) {
			c.collectFieldScopes(f.Type, scopes, visited)
		}
	}
}

func (c *builder) compileFactTables(out *compiled.Schema) error {
	for _, ft := range c.doc.FactTables {
		if err := factIdent(ft.Name, "tableName", ft.TableName); err != nil {
			return err
		}
		cft := &compiled.FactTable{
			Name:                ft.Name,
			TableName:           ft.TableName,
			DenormalizedColumns: sortedCopy(ft.DenormalizedColumns),
			AllowEmptyGroupBy:   ft.AllowEmptyGroupBy,
		}
		declared := make(map[string]bool)
		for _, col := range ft.DenormalizedColumns {
			if err := factIdent(ft.Name, "denormalized column", col); err != nil {
				return err
			}
			declared[col] = true
		}
		for _, m := range ft.Measures {
			if err := factIdent(ft.Name, "measure", m.Name); err != nil {
				return err
			}
			def := m.AggregationDefault
			if def == "" {
				def = "sum"
			}
			mtype := m.Type
			if mtype == "" {
				mtype = "Float"
			}
			cft.Measures = append(cft.Measures, &compiled.Measure{Name: m.Name, Type: mtype, AggregationDefault: def})
		}
		for _, d := range ft.Dimensions {
			if err := factIdent(ft.Name, "dimension", d.Name); err != nil {
				return err
			}
			if d.ExtractionPath != "" && !extractionPathRe.MatchString(d.ExtractionPath) {
				return qerr.New(qerr.KindCompilation,
					"fact table %q: dimension %q has malformed extractionPath %q", ft.Name, d.Name, d.ExtractionPath)
			}
			if d.ExtractionPath == "" && !declared[d.Name] {
				return qerr.New(qerr.KindCompilation,
					"fact table %q: dimension %q references unregistered column", ft.Name, d.Name)
			}
			cft.Dimensions = append(cft.Dimensions, &compiled.Dimension{
				Name:           d.Name,
				ExtractionPath: d.ExtractionPath,
				DataType:       d.DataType,
			})
		}

		op := &compiled.Operation{
			Name:            ft.Name,
			OpType:          compiled.OpTypeQuery,
			Kind:            "AGGREGATE",
			ReturnType:      "JSON",
			ReturnsList:     true,
			CacheTTLSeconds: copyTTL(ft.CacheTTLSeconds),
			Security:        c.compileSecurity(ft.Security, ""),
			FactTable:       cft,
			Args:            aggregateArgs(),
		}
		for _, a := range op.Args {
			op.ArgOrder = append(op.ArgOrder, a.Name)
		}
		if rf := op.Security.RowFilter; rf != nil && !declared[rf.Column] {
			return qerr.New(qerr.KindCompilation,
				"fact table %q: rowFilter column %q must be a denormalized column", ft.Name, rf.Column)
		}
		out.Operations = append(out.Operations, op)
	}
	return nil
}

// aggregateArgs is the synthetic argument list shared by every aggregate
// operation; the planner validates values against the table's whitelist.
func aggregateArgs() []*compiled.Arg {
	return []*compiled.Arg{
		{Name: "groupBy", Type: "String", Nullable: true, List: true},
		{Name: "aggregates", Type: "String", Nullable: true, List: true},
		{Name: "where", Type: "JSON", Nullable: true},
		{Name: "having", Type: "JSON", Nullable: true},
		{Name: "orderBy", Type: "String", Nullable: true, List: true},
		{Name: "limit", Type: "Int", Nullable: true},
		{Name: "offset", Type: "Int", Nullable: true},
	}
}

func (c *builder) compileSubscriptions(out *compiled.Schema) {
	for _, sub := range c.doc.Subscriptions {
		out.Subscriptions = append(out.Subscriptions, &compiled.Subscription{
			Name:         sub.Name,
			ReturnType:   sub.ReturnType,
			OnOperations: sortedCopy(sub.OnOperations),
			Security:     c.compileSecurity(sub.Security, sub.ReturnType),
		})
	}
}

func (c *builder) observersFor(mutation string) []*compiled.Observer {
	var out []*compiled.Observer
	for _, ob := range c.doc.Observers {
		if ob.OnOperation != mutation {
			continue
		}
		attempts := ob.Retry.MaxAttempts
		if attempts == 0 {
			attempts = 3
		}
		backoff := ob.Retry.BackoffSeconds
		if backoff == 0 {
			backoff = 1
		}
		out = append(out, &compiled.Observer{
			Name:        ob.Name,
			Trigger:     string(ob.EffectiveTrigger()),
			WebhookURL:  ob.WebhookURL,
			MaxAttempts: attempts,
			BackoffSecs: backoff,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// copyTTL detaches the optional cache TTL from the source document so the
// artifact never aliases it.
func copyTTL(ttl *int) *int {
	if ttl == nil {
		return nil
	}
	v := *ttl
	return &v
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
