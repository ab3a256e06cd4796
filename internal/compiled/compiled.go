// Package compiled defines the immutable artifact produced by the compiler
// and loaded read-only by the serving runtime. The artifact is replaced
// wholesale on redeploy, never patched in place.
package compiled

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	qerr "github.com/quarryql/quarry/internal/qerr"
)

// Schema is the compiled execution plan: the resolved type graph plus one
// record per operation carrying its parameterized SQL, binding order,
// security metadata, and cache policy.
type Schema struct {
	SchemaVersion string          `json:"schemaVersion"`
	Dialect       string          `json:"dialect"`
	Types         []*Type         `json:"types"`
	Operations    []*Operation    `json:"operations"`
	Subscriptions []*Subscription `json:"subscriptions,omitempty"`

	opIndex   map[string]*Operation `json:"-"`
	typeIndex map[string]*Type      `json:"-"`
}

type Type struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	SQLSource   string   `json:"sqlSource,omitempty"`
	JSONColumn  string   `json:"jsonColumn,omitempty"`
	Fields      []*Field `json:"fields,omitempty"`
	EnumValues  []string `json:"enumValues,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Field returns the field named name, or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type Field struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Nullable         bool     `json:"nullable"`
	List             bool     `json:"list,omitempty"`
	SQLColumn        string   `json:"sqlColumn,omitempty"`
	RequiresScope    []string `json:"requiresScope,omitempty"`
	DeprecatedReason string   `json:"deprecatedReason,omitempty"`
	Description      string   `json:"description,omitempty"`
}

// OpType distinguishes the GraphQL root an operation hangs off.
type OpType string

const (
	OpTypeQuery    OpType = "query"
	OpTypeMutation OpType = "mutation"
)

// Operation is one compiled operation record. SQL holds the parameterized
// template; placeholders are positioned in ArgOrder and arguments are only
// ever bound, never interpolated.
type Operation struct {
	Name        string `json:"name"`
	OpType      OpType `json:"opType"`
	Kind        string `json:"kind"`
	ReturnType  string `json:"returnType"`
	ReturnsList bool   `json:"returnsList,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"`

	SQL      string   `json:"sql,omitempty"`
	ArgOrder []string `json:"argOrder,omitempty"`
	Args     []*Arg   `json:"args,omitempty"`

	Security Security `json:"security"`
	// CacheTTLSeconds nil defers to the server's configured default; an
	// explicit 0 opts the operation out of caching.
	CacheTTLSeconds *int   `json:"cacheTtlSeconds,omitempty"`
	Isolation       string `json:"isolation,omitempty"`

	// FactTable is set only for aggregate operations; their SQL is planned
	// per request from the whitelisted measure/dimension set.
	FactTable *FactTable  `json:"factTable,omitempty"`
	Observers []*Observer `json:"observers,omitempty"`
}

type Arg struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	List       bool   `json:"list,omitempty"`
	Default    any    `json:"default,omitempty"`
	SQLColumn  string `json:"sqlColumn,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// Security is the per-operation enforcement metadata, derived once at
// compile time and never re-derived per request.
type Security struct {
	RequiresAuth  bool                `json:"requiresAuth,omitempty"`
	RequiredRoles []string            `json:"requiredRoles,omitempty"`
	FieldScopes   map[string][]string `json:"fieldScopes,omitempty"`
	RowFilter     *RowFilter          `json:"rowFilter,omitempty"`
}

type RowFilter struct {
	Column string `json:"column"`
	Bind   string `json:"bind"`
}

// RowFilterArg is the ArgOrder sentinel for the row filter's bound value.
// It is not a declarable argument name, so it can never collide.
const RowFilterArg = "__rowFilter"

type FactTable struct {
	Name                string       `json:"name"`
	TableName           string       `json:"tableName"`
	Measures            []*Measure   `json:"measures"`
	Dimensions          []*Dimension `json:"dimensions,omitempty"`
	DenormalizedColumns []string     `json:"denormalizedColumns,omitempty"`
	AllowEmptyGroupBy   bool         `json:"allowEmptyGroupBy,omitempty"`
}

type Measure struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	AggregationDefault string `json:"aggregationDefault"`
}

type Dimension struct {
	Name           string `json:"name"`
	ExtractionPath string `json:"extractionPath,omitempty"`
	DataType       string `json:"dataType,omitempty"`
}

type Subscription struct {
	Name         string   `json:"name"`
	ReturnType   string   `json:"returnType"`
	OnOperations []string `json:"onOperations"`
	Security     Security `json:"security"`
}

type Observer struct {
	Name        string  `json:"name"`
	Trigger     string  `json:"trigger"`
	WebhookURL  string  `json:"webhookUrl"`
	MaxAttempts int     `json:"maxAttempts"`
	BackoffSecs float64 `json:"backoffSeconds"`
}

// Encode serializes the artifact. Compilation sorts every slice and the
// encoder sorts map keys, so identical inputs produce byte-identical output.
func (s *Schema) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode compiled schema: %w", err)
	}
	return append(data, '\n'), nil
}

// Checksum returns the hex sha256 of the encoded artifact. It participates
// in every cache key so a redeploy naturally invalidates stale entries.
func (s *Schema) Checksum() string {
	data, err := s.Encode()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decode parses an encoded artifact and builds its lookup indexes.
func Decode(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, qerr.Wrap(qerr.KindParse, err, "malformed compiled schema: %v", err)
	}
	s.BuildIndex()
	return &s, nil
}

// LoadFile reads and decodes an artifact from disk.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compiled schema: %w", err)
	}
	return Decode(data)
}

// BuildIndex (re)builds the O(1) lookup maps. Compile and Decode call it;
// hand-assembled schemas in tests must call it themselves.
func (s *Schema) BuildIndex() {
	s.opIndex = make(map[string]*Operation, len(s.Operations))
	for _, op := range s.Operations {
		s.opIndex[op.Name] = op
	}
	s.typeIndex = make(map[string]*Type, len(s.Types))
	for _, t := range s.Types {
		s.typeIndex[t.Name] = t
	}
}

// Operation returns the operation named name, or nil.
func (s *Schema) Operation(name string) *Operation { return s.opIndex[name] }

// Type returns the type named name, or nil.
func (s *Schema) Type(name string) *Type { return s.typeIndex[name] }

// SubscriptionsFor returns the subscriptions bound to the named mutation.
func (s *Schema) SubscriptionsFor(mutation string) []*Subscription {
	var out []*Subscription
	for _, sub := range s.Subscriptions {
		for _, on := range sub.OnOperations {
			if on == mutation {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}
