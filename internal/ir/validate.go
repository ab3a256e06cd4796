package ir

import (
	"fmt"
	"strings"
)

// Validate checks doc for structural problems: unresolved type references,
// required-type cycles, duplicate names, non-numeric measures, empty role
// sets, and incompatible argument defaults. All findings are collected; the
// error returned is a ValidationError carrying every violation.
func Validate(doc *Document) (ValidationError, error) {
	v := &validator{doc: doc, types: make(map[string]*TypeDef)}
	v.collectTypes()
	v.checkTypes()
	v.checkOperations("queries", doc.Queries)
	v.checkOperations("mutations", doc.Mutations)
	v.checkSubscriptions()
	v.checkFactTables()
	v.checkObservers()
	v.checkRequiredCycles()
	if len(v.violations) > 0 {
		return v.violations, v.violations
	}
	return nil, nil
}

type validator struct {
	doc        *Document
	types      map[string]*TypeDef
	violations ValidationError
}

func (v *validator) report(path, format string, args ...any) {
	v.violations = append(v.violations, violationAt(path, format, args...))
}

func (v *validator) collectTypes() {
	for i, t := range v.doc.Types {
		path := fmt.Sprintf("types[%d]", i)
		if t.Name == "" {
			v.report(path, "type with empty name")
			continue
		}
		if _, dup := v.types[t.Name]; dup {
			v.report(path, "duplicate type name %q", t.Name)
			continue
		}
		v.types[t.Name] = t
	}
}

func (v *validator) resolvable(name string) bool {
	if IsScalar(name) {
		return true
	}
	_, ok := v.types[name]
	return ok
}

func (v *validator) checkTypes() {
	for i, t := range v.doc.Types {
		tpath := fmt.Sprintf("types[%d]", i)
		seen := make(map[string]bool)
		for j, f := range t.Fields {
			fpath := fmt.Sprintf("%s.fields[%d]", tpath, j)
			if f.Name == "" {
				v.report(fpath, "field with empty name in type %q", t.Name)
				continue
			}
			if seen[f.Name] {
				v.report(fpath, "duplicate field %q in type %q", f.Name, t.Name)
			}
			seen[f.Name] = true
			if !v.resolvable(f.Type) {
				v.report(fpath, "field %q of type %q references unknown type %q", f.Name, t.Name, f.Type)
			}
		}
		if t.EffectiveKind() == KindEnum && len(t.EnumValues) == 0 {
			v.report(tpath, "enum type %q declares no values", t.Name)
		}
	}
}

func (v *validator) checkOperations(section string, ops []*OperationDef) {
	seen := make(map[string]bool)
	for i, op := range ops {
		path := fmt.Sprintf("%s[%d]", section, i)
		if op.Name == "" {
			v.report(path, "operation with empty name")
			continue
		}
		if seen[op.Name] {
			v.report(path, "duplicate operation name %q", op.Name)
		}
		seen[op.Name] = true
		if !v.resolvable(op.ReturnType) {
			v.report(path, "operation %q returns unknown type %q", op.Name, op.ReturnType)
		}
		v.checkSecurity(path, op.Security)
		argSeen := make(map[string]bool)
		for j, arg := range op.Arguments {
			apath := fmt.Sprintf("%s.arguments[%d]", path, j)
			if argSeen[arg.Name] {
				v.report(apath, "duplicate argument %q on operation %q", arg.Name, op.Name)
			}
			argSeen[arg.Name] = true
			if !v.resolvable(arg.Type) {
				v.report(apath, "argument %q of operation %q references unknown type %q", arg.Name, op.Name, arg.Type)
			}
			if arg.Default != nil && !defaultCompatible(arg) {
				v.report(apath, "default value for argument %q is not compatible with type %s", arg.Name, arg.Type)
			}
		}
	}
}

func (v *validator) checkSecurity(path string, p *SecurityPolicy) {
	if p == nil {
		return
	}
	if p.RequiresAuth && len(p.Roles) == 0 {
		v.report(path+".security", "requiresAuth is set but no roles are declared")
	}
	if p.RowFilter != nil {
		if p.RowFilter.Column == "" {
			v.report(path+".security.rowFilter", "row filter with empty column")
		}
		switch p.RowFilter.Bind {
		case BindTenant, BindSubject:
		default:
			v.report(path+".security.rowFilter", "row filter bind must be %q or %q, got %q", BindTenant, BindSubject, p.RowFilter.Bind)
		}
	}
}

func (v *validator) checkSubscriptions() {
	mutations := make(map[string]bool)
	for _, m := range v.doc.Mutations {
		mutations[m.Name] = true
	}
	seen := make(map[string]bool)
	for i, sub := range v.doc.Subscriptions {
		path := fmt.Sprintf("subscriptions[%d]", i)
		if seen[sub.Name] {
			v.report(path, "duplicate subscription name %q", sub.Name)
		}
		seen[sub.Name] = true
		if !v.resolvable(sub.ReturnType) {
			v.report(path, "subscription %q returns unknown type %q", sub.Name, sub.ReturnType)
		}
		if len(sub.OnOperations) == 0 {
			v.report(path, "subscription %q is not bound to any mutation", sub.Name)
		}
		for _, on := range sub.OnOperations {
			if !mutations[on] {
				v.report(path, "subscription %q references unknown mutation %q", sub.Name, on)
			}
		}
		v.checkSecurity(path, sub.Security)
	}
}

func (v *validator) checkFactTables() {
	seen := make(map[string]bool)
	for i, ft := range v.doc.FactTables {
		path := fmt.Sprintf("factTables[%d]", i)
		if ft.Name == "" {
			v.report(path, "fact table with empty name")
			continue
		}
		if seen[ft.Name] {
			v.report(path, "duplicate fact table name %q", ft.Name)
		}
		seen[ft.Name] = true
		if ft.TableName == "" {
			v.report(path, "fact table %q has no tableName", ft.Name)
		}
		if len(ft.Measures) == 0 {
			v.report(path, "fact table %q declares no measures", ft.Name)
		}
		names := make(map[string]bool)
		for j, m := range ft.Measures {
			mpath := fmt.Sprintf("%s.measures[%d]", path, j)
			if names[m.Name] {
				v.report(mpath, "duplicate measure %q in fact table %q", m.Name, ft.Name)
			}
			names[m.Name] = true
			if m.Type != "" && !IsNumericScalar(m.Type) {
				v.report(mpath, "measure %q must be numeric, got %s", m.Name, m.Type)
			}
		}
		for j, d := range ft.Dimensions {
			dpath := fmt.Sprintf("%s.dimensions[%d]", path, j)
			if names[d.Name] {
				v.report(dpath, "dimension %q collides with another measure or dimension in fact table %q", d.Name, ft.Name)
			}
			names[d.Name] = true
		}
		v.checkSecurity(path, ft.Security)
	}
}

func (v *validator) checkObservers() {
	mutations := make(map[string]bool)
	for _, m := range v.doc.Mutations {
		mutations[m.Name] = true
	}
	seen := make(map[string]bool)
	for i, ob := range v.doc.Observers {
		path := fmt.Sprintf("observers[%d]", i)
		if seen[ob.Name] {
			v.report(path, "duplicate observer name %q", ob.Name)
		}
		seen[ob.Name] = true
		if !mutations[ob.OnOperation] {
			v.report(path, "observer %q references unknown mutation %q", ob.Name, ob.OnOperation)
		}
		switch ob.EffectiveTrigger() {
		case TriggerSuccess, TriggerFailure, TriggerAlways:
		default:
			v.report(path, "observer %q has unknown trigger %q", ob.Name, ob.Trigger)
		}
		if ob.WebhookURL == "" {
			v.report(path, "observer %q has no webhookUrl", ob.Name)
		}
		if ob.Retry.MaxAttempts < 0 {
			v.report(path, "observer %q has negative maxAttempts", ob.Name)
		}
	}
}

// checkRequiredCycles runs DFS over the required-type graph: an edge exists
// from type A to type B when A has a non-nullable, non-list field of object
// type B. A cycle in that graph makes a row impossible to materialize.
func (v *validator) checkRequiredCycles() {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		t := v.types[name]
		if t != nil {
			for _, f := range t.Fields {
				if f.Nullable || f.List {
					continue
				}
				next, ok := v.types[f.Type]
				if !ok || next.EffectiveKind() != KindObject {
					continue
				}
				switch color[next.Name] {
				case grey:
					cycle := append(append([]string(nil), stackFrom(stack, next.Name)...), next.Name)
					v.report("types", "required-type cycle detected: %s", strings.Join(cycle, " -> "))
					stack = stack[:len(stack)-1]
					return false
				case white:
					if !visit(next.Name) {
						stack = stack[:len(stack)-1]
						return false
					}
				}
			}
		}
		color[name] = black
		stack = stack[:len(stack)-1]
		return true
	}

	for _, t := range v.doc.Types {
		if t.Name != "" && color[t.Name] == white && t.EffectiveKind() == KindObject {
			visit(t.Name)
		}
	}
}

func stackFrom(stack []string, name string) []string {
	for i, s := range stack {
		if s == name {
			return stack[i:]
		}
	}
	return stack
}

func defaultCompatible(arg *ArgDef) bool {
	if arg.List {
		_, ok := arg.Default.([]any)
		return ok
	}
	switch arg.Type {
	case "String", "ID", "DateTime", "Date", "Time", "UUID":
		_, ok := arg.Default.(string)
		return ok
	case "Int":
		switch d := arg.Default.(type) {
		case float64:
			return d == float64(int64(d))
		case int, int64:
			return true
		}
		return false
	case "Float", "Decimal":
		switch arg.Default.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "Boolean":
		_, ok := arg.Default.(bool)
		return ok
	default:
		// enum and input defaults are checked against the declared type at
		// compile time
		return true
	}
}
