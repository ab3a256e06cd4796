package schema

import (
	"fmt"

	compiled "github.com/quarryql/quarry/internal/compiled"
)

// BuildFromCompiled derives the executable GraphQL schema from the compiled
// artifact: one root Query/Mutation/Subscription field per operation, plus
// the declared object, enum, and input types.
func BuildFromCompiled(cs *compiled.Schema) (*Schema, error) {
	s := &Schema{
		QueryType:  "Query",
		Types:      map[string]*Type{},
		Directives: map[string]*Directive{},
	}
	for _, t := range builtinTypes {
		s.Types[t.Name] = t
	}
	s.Directives[includeDirective.Name] = includeDirective
	s.Directives[skipDirective.Name] = skipDirective

	for _, ct := range cs.Types {
		t, err := buildType(ct)
		if err != nil {
			return nil, err
		}
		if _, dup := s.Types[t.Name]; dup {
			return nil, fmt.Errorf("type %q shadows an existing type", t.Name)
		}
		s.Types[t.Name] = t
	}

	query := &Type{Name: "Query", Kind: TypeKindObject}
	mutation := &Type{Name: "Mutation", Kind: TypeKindObject}
	for _, op := range cs.Operations {
		field := buildOperationField(op)
		if op.OpType == compiled.OpTypeMutation {
			mutation.Fields = append(mutation.Fields, field)
		} else {
			query.Fields = append(query.Fields, field)
		}
	}
	if len(query.Fields) == 0 {
		return nil, fmt.Errorf("schema declares no queries")
	}
	s.Types[query.Name] = query
	if len(mutation.Fields) > 0 {
		s.Types[mutation.Name] = mutation
		s.MutationType = mutation.Name
	}

	if len(cs.Subscriptions) > 0 {
		subscription := &Type{Name: "Subscription", Kind: TypeKindObject}
		for _, sub := range cs.Subscriptions {
			subscription.Fields = append(subscription.Fields, &Field{
				Name: sub.Name,
				Type: NamedType(sub.ReturnType),
			})
		}
		s.Types[subscription.Name] = subscription
		s.SubscriptionType = subscription.Name
	}

	return s, nil
}

func buildType(ct *compiled.Type) (*Type, error) {
	switch ct.Kind {
	case "OBJECT":
		t := &Type{Name: ct.Name, Kind: TypeKindObject, Description: ct.Description}
		for _, f := range ct.Fields {
			t.Fields = append(t.Fields, &Field{
				Name:              f.Name,
				Description:       f.Description,
				Type:              refFor(f.Type, f.List, f.Nullable),
				IsDeprecated:      f.DeprecatedReason != "",
				DeprecationReason: f.DeprecatedReason,
			})
		}
		return t, nil
	case "ENUM":
		t := &Type{Name: ct.Name, Kind: TypeKindEnum, Description: ct.Description}
		for _, v := range ct.EnumValues {
			t.EnumValues = append(t.EnumValues, &EnumValue{Name: v})
		}
		return t, nil
	case "INPUT":
		t := &Type{Name: ct.Name, Kind: TypeKindInputObject, Description: ct.Description}
		for _, f := range ct.Fields {
			t.InputFields = append(t.InputFields, &InputValue{
				Name:        f.Name,
				Description: f.Description,
				Type:        refFor(f.Type, f.List, f.Nullable),
			})
		}
		return t, nil
	default:
		return nil, fmt.Errorf("type %q has unsupported kind %q", ct.Name, ct.Kind)
	}
}

func buildOperationField(op *compiled.Operation) *Field {
	f := &Field{
		Name: op.Name,
		Type: refFor(op.ReturnType, op.ReturnsList, op.Nullable),
	}
	for _, a := range op.Args {
		f.Arguments = append(f.Arguments, &InputValue{
			Name:         a.Name,
			Type:         refFor(a.Type, a.List, a.Nullable),
			DefaultValue: a.Default,
		})
	}
	return f
}

// refFor wraps a named type per the declared list/nullable flags. List
// elements are always non-null; a null row inside a list is a data bug, not
// a shape the IR can express.
func refFor(name string, list, nullable bool) *TypeRef {
	ref := NamedType(name)
	if list {
		ref = ListType(NonNullType(ref))
	}
	if !nullable {
		ref = NonNullType(ref)
	}
	return ref
}
