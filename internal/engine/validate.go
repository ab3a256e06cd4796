package engine

import (
	"fmt"
	"strings"

	"github.com/quarryql/quarry/internal/language"
	"github.com/quarryql/quarry/internal/schema"
)

// validateOperation checks the whole operation against the schema before any
// resolution starts: every selected field must exist on its enclosing type
// and every fragment must resolve. All problems are collected; a request with
// any violation executes nothing.
func validateOperation(sch *schema.Schema, document *language.QueryDocument, operation *language.OperationDefinition, rootType *schema.Type) []GraphQLError {
	v := &opValidator{sch: sch, document: document}
	v.selectionSet(rootType, operation.SelectionSet, Path{})
	return v.errs
}

type opValidator struct {
	sch      *schema.Schema
	document *language.QueryDocument
	errs     []GraphQLError
	visited  map[string]bool
}

func (v *opValidator) selectionSet(objectType *schema.Type, set language.SelectionSet, path Path) {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			v.field(objectType, sel, path)
		case *language.InlineFragment:
			target := objectType
			if sel.TypeCondition != "" {
				target = v.typeCondition(sel.TypeCondition, path)
				if target == nil {
					continue
				}
			}
			v.selectionSet(target, sel.SelectionSet, path)
		case *language.FragmentSpread:
			v.fragmentSpread(sel, path)
		}
	}
}

func (v *opValidator) field(objectType *schema.Type, field *language.Field, path Path) {
	responseName := field.Alias
	if responseName == "" {
		responseName = field.Name
	}
	fieldPath := appendPath(path, responseName)

	if strings.HasPrefix(field.Name, "__") {
		// Meta fields: __typename everywhere, __schema and __type on the
		// query root only, and only when the schema carries them.
		if field.Name == "__typename" {
			return
		}
		if objectType.Name == v.sch.QueryType && objectType.Field(field.Name) != nil {
			return
		}
		v.errs = append(v.errs, validationError(
			fmt.Sprintf("Cannot query field '%s' on type '%s'", field.Name, objectType.Name), fieldPath))
		return
	}

	fieldDef := objectType.Field(field.Name)
	if fieldDef == nil {
		v.errs = append(v.errs, validationError(
			fmt.Sprintf("Cannot query field '%s' on type '%s'", field.Name, objectType.Name), fieldPath))
		return
	}

	if len(field.SelectionSet) > 0 {
		named := schema.GetNamedType(fieldDef.Type)
		childType := v.sch.Types[named]
		if childType != nil && childType.Kind == schema.TypeKindObject {
			v.selectionSet(childType, field.SelectionSet, fieldPath)
		}
	}
}

func (v *opValidator) fragmentSpread(spread *language.FragmentSpread, path Path) {
	if v.visited == nil {
		v.visited = make(map[string]bool)
	}
	if v.visited[spread.Name] {
		return
	}
	v.visited[spread.Name] = true

	def := v.document.Fragments.ForName(spread.Name)
	if def == nil {
		v.errs = append(v.errs, validationError(fmt.Sprintf("Unknown fragment '%s'", spread.Name), path))
		return
	}
	target := v.typeCondition(def.TypeCondition, path)
	if target == nil {
		return
	}
	v.selectionSet(target, def.SelectionSet, path)
}

func (v *opValidator) typeCondition(name string, path Path) *schema.Type {
	t := v.sch.Types[name]
	if t == nil {
		v.errs = append(v.errs, validationError(fmt.Sprintf("Unknown type '%s' in fragment condition", name), path))
		return nil
	}
	return t
}
