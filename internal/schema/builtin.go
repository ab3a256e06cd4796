package schema

var stringType = &Type{
	Name:        "String",
	Kind:        TypeKindScalar,
	Description: "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
}

var intType = &Type{
	Name:        "Int",
	Kind:        TypeKindScalar,
	Description: "The `Int` scalar type represents non-fractional signed whole numeric values.",
}

var floatType = &Type{
	Name:        "Float",
	Kind:        TypeKindScalar,
	Description: "The `Float` scalar type represents signed double-precision fractional values.",
}

var booleanType = &Type{
	Name:        "Boolean",
	Kind:        TypeKindScalar,
	Description: "The `Boolean` scalar type represents `true` or `false`.",
}

var idType = &Type{
	Name:        "ID",
	Kind:        TypeKindScalar,
	Description: "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Included when true.",
			Type:        &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
		},
	},
	Locations:    []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	IsRepeatable: false,
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Skipped when true.",
			Type:        &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
		},
	},
	Locations:    []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	IsRepeatable: false,
}

var dateTimeType = &Type{
	Name:        "DateTime",
	Kind:        TypeKindScalar,
	Description: "An ISO-8601 encoded timestamp with offset.",
}

var dateType = &Type{
	Name:        "Date",
	Kind:        TypeKindScalar,
	Description: "An ISO-8601 encoded calendar date.",
}

var timeType = &Type{
	Name:        "Time",
	Kind:        TypeKindScalar,
	Description: "An ISO-8601 encoded time of day.",
}

var jsonType = &Type{
	Name:        "JSON",
	Kind:        TypeKindScalar,
	Description: "An arbitrary JSON value, passed through without coercion.",
}

var uuidType = &Type{
	Name:        "UUID",
	Kind:        TypeKindScalar,
	Description: "An RFC 4122 universally unique identifier.",
}

var decimalType = &Type{
	Name:        "Decimal",
	Kind:        TypeKindScalar,
	Description: "An arbitrary-precision decimal number, serialized as a string.",
}

var builtinTypes = []*Type{
	stringType, intType, floatType, booleanType, idType,
	dateTimeType, dateType, timeType, jsonType, uuidType, decimalType,
}

// IsBuiltin reports whether t is one of the predeclared scalar types.
func IsBuiltin(t *Type) bool {
	for _, b := range builtinTypes {
		if t == b {
			return true
		}
	}
	return false
}
