// Package ir holds the canonical intermediate representation emitted by the
// authoring front-ends. Every SDK compiles down to the same JSON document;
// this package parses and validates it before the compiler binds it to SQL.
package ir

// Document is the root of a schema document. It is populated once by Parse
// and treated as immutable afterwards.
type Document struct {
	SchemaVersion string             `json:"schemaVersion,omitempty"`
	Types         []*TypeDef         `json:"types"`
	Queries       []*OperationDef    `json:"queries"`
	Mutations     []*OperationDef    `json:"mutations"`
	Subscriptions []*SubscriptionDef `json:"subscriptions,omitempty"`
	FactTables    []*FactTableDef    `json:"factTables,omitempty"`
	Observers     []*ObserverDef     `json:"observers,omitempty"`
}

type TypeKind string

const (
	KindObject    TypeKind = "OBJECT"
	KindEnum      TypeKind = "ENUM"
	KindInput     TypeKind = "INPUT"
	KindInterface TypeKind = "INTERFACE"
	KindUnion     TypeKind = "UNION"
)

// TypeDef declares a GraphQL type bound to a SQL view or table. Object rows
// carry their projected document in JSONColumn; fields may override the
// column they read from with SQLColumn.
type TypeDef struct {
	Name        string      `json:"name"`
	Kind        TypeKind    `json:"kind,omitempty"`
	SQLSource   string      `json:"sqlSource,omitempty"`
	JSONColumn  string      `json:"jsonColumn,omitempty"`
	Fields      []*FieldDef `json:"fields,omitempty"`
	EnumValues  []string    `json:"enumValues,omitempty"`
	Description string      `json:"description,omitempty"`
}

// EffectiveKind returns the declared kind, defaulting to OBJECT.
func (t *TypeDef) EffectiveKind() TypeKind {
	if t.Kind == "" {
		return KindObject
	}
	return t.Kind
}

// EffectiveJSONColumn returns the row column carrying the projected JSON
// document for the type, defaulting to "data".
func (t *TypeDef) EffectiveJSONColumn() string {
	if t.JSONColumn == "" {
		return "data"
	}
	return t.JSONColumn
}

// Field returns the field named name, or nil.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type FieldDef struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Nullable         bool     `json:"nullable"`
	List             bool     `json:"list,omitempty"`
	SQLColumn        string   `json:"sqlColumn,omitempty"`
	RequiresScope    []string `json:"requiresScope,omitempty"`
	DeprecatedReason string   `json:"deprecatedReason,omitempty"`
	Description      string   `json:"description,omitempty"`
}

type OperationKind string

const (
	OpQuery  OperationKind = "QUERY"
	OpCreate OperationKind = "CREATE"
	OpUpdate OperationKind = "UPDATE"
	OpDelete OperationKind = "DELETE"
	OpCustom OperationKind = "CUSTOM"
)

// OperationDef declares a query or mutation bound to a SQL source: a view
// for reads, a table or statement for writes.
type OperationDef struct {
	Name            string          `json:"name"`
	ReturnType      string          `json:"returnType"`
	ReturnsList     bool            `json:"returnsList,omitempty"`
	Nullable        bool            `json:"nullable,omitempty"`
	Arguments       []*ArgDef       `json:"arguments,omitempty"`
	SQLSource       string          `json:"sqlSource,omitempty"`
	Kind            OperationKind   `json:"operationKind,omitempty"`
	CacheTTLSeconds *int            `json:"cacheTtlSeconds,omitempty"`
	Security        *SecurityPolicy `json:"security,omitempty"`
	Isolation       string          `json:"transactionIsolation,omitempty"`
	Description     string          `json:"description,omitempty"`
}

// EffectiveKind returns the declared operation kind, defaulting to QUERY.
func (o *OperationDef) EffectiveKind() OperationKind {
	if o.Kind == "" {
		return OpQuery
	}
	return o.Kind
}

type ArgDef struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	List       bool   `json:"list,omitempty"`
	Default    any    `json:"default,omitempty"`
	SQLColumn  string `json:"sqlColumn,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// SecurityPolicy is attached to an operation or fact table. RowFilter, when
// present, is a compile-time-fixed predicate; its value is always bound from
// the authenticated principal and never from request variables.
type SecurityPolicy struct {
	RequiresAuth bool                `json:"requiresAuth"`
	Roles        []string            `json:"roles,omitempty"`
	FieldScopes  map[string][]string `json:"fieldScopes,omitempty"`
	RowFilter    *RowFilter          `json:"rowFilter,omitempty"`
}

// RowFilter names the column to constrain and which principal attribute the
// value is bound from.
type RowFilter struct {
	Column string `json:"column"`
	Bind   string `json:"bind"`
}

const (
	BindTenant  = "tenant"
	BindSubject = "subject"
)

// FactTableDef exposes an analytics table for ad-hoc aggregation. Measure
// and dimension names are the only identifiers that may ever appear in a
// generated GROUP BY/aggregate fragment.
type FactTableDef struct {
	Name                string          `json:"name"`
	TableName           string          `json:"tableName"`
	Measures            []*Measure      `json:"measures"`
	Dimensions          []*Dimension    `json:"dimensions,omitempty"`
	DenormalizedColumns []string        `json:"denormalizedColumns,omitempty"`
	AllowEmptyGroupBy   bool            `json:"allowEmptyGroupBy,omitempty"`
	CacheTTLSeconds     *int            `json:"cacheTtlSeconds,omitempty"`
	Security            *SecurityPolicy `json:"security,omitempty"`
	Description         string          `json:"description,omitempty"`
}

// Measure returns the measure named name, or nil.
func (f *FactTableDef) Measure(name string) *Measure {
	for _, m := range f.Measures {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Dimension returns the dimension named name, or nil.
func (f *FactTableDef) Dimension(name string) *Dimension {
	for _, d := range f.Dimensions {
		if d.Name == name {
			return d
		}
	}
	return nil
}

type Measure struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	AggregationDefault string `json:"aggregationDefault,omitempty"`
}

type Dimension struct {
	Name           string `json:"name"`
	ExtractionPath string `json:"extractionPath,omitempty"`
	DataType       string `json:"dataType,omitempty"`
}

// SubscriptionDef binds a subscription to the commits of one or more named
// mutations; one message is delivered per matching commit.
type SubscriptionDef struct {
	Name         string          `json:"name"`
	ReturnType   string          `json:"returnType"`
	OnOperations []string        `json:"onOperations"`
	Security     *SecurityPolicy `json:"security,omitempty"`
	Description  string          `json:"description,omitempty"`
}

type ObserverTrigger string

const (
	TriggerSuccess ObserverTrigger = "SUCCESS"
	TriggerFailure ObserverTrigger = "FAILURE"
	TriggerAlways  ObserverTrigger = "ALWAYS"
)

// ObserverDef declares a post-commit webhook for a mutation.
type ObserverDef struct {
	Name        string          `json:"name"`
	OnOperation string          `json:"onOperation"`
	Trigger     ObserverTrigger `json:"trigger,omitempty"`
	WebhookURL  string          `json:"webhookUrl"`
	Retry       RetryPolicy     `json:"retryPolicy,omitzero"`
}

// EffectiveTrigger returns the declared trigger, defaulting to SUCCESS.
func (o *ObserverDef) EffectiveTrigger() ObserverTrigger {
	if o.Trigger == "" {
		return TriggerSuccess
	}
	return o.Trigger
}

type RetryPolicy struct {
	MaxAttempts    int     `json:"maxAttempts,omitempty"`
	BackoffSeconds float64 `json:"backoffSeconds,omitempty"`
}

// Scalar set recognized without declaration.
var builtinScalars = map[string]bool{
	"String":   true,
	"Int":      true,
	"Float":    true,
	"Boolean":  true,
	"ID":       true,
	"DateTime": true,
	"Date":     true,
	"Time":     true,
	"JSON":     true,
	"UUID":     true,
	"Decimal":  true,
}

// IsScalar reports whether name is a recognized built-in scalar.
func IsScalar(name string) bool { return builtinScalars[name] }

var numericScalars = map[string]bool{
	"Int":     true,
	"Float":   true,
	"Decimal": true,
}

// IsNumericScalar reports whether name is a scalar measures may use.
func IsNumericScalar(name string) bool { return numericScalars[name] }
