package sqlrt

import (
	"encoding/json"

	"github.com/quarryql/quarry/internal/compiled"
)

// rawRow is one scanned row, keyed by result-set column name.
type rawRow map[string]any

// foldRow merges a row into the field map the engine completes against.
// The JSON payload column is expanded first, then plain columns overlay it,
// so a denormalized column always wins over a stale payload copy.
func foldRow(t *compiled.Type, row rawRow) map[string]any {
	out := make(map[string]any, len(row))

	jsonCol := "data"
	if t != nil && t.JSONColumn != "" {
		jsonCol = t.JSONColumn
	}
	if payload, ok := row[jsonCol]; ok {
		if text, ok := payload.(string); ok && text != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(text), &decoded); err == nil {
				for k, v := range decoded {
					out[k] = v
				}
			}
		}
	}

	for col, v := range row {
		if col == jsonCol {
			continue
		}
		out[fieldNameForColumn(t, col)] = v
	}
	return out
}

// fieldNameForColumn maps a result-set column back to its GraphQL field when
// the field declares an explicit column, falling back to the column name.
func fieldNameForColumn(t *compiled.Type, col string) string {
	if t == nil {
		return col
	}
	for _, f := range t.Fields {
		if f.SQLColumn == col {
			return f.Name
		}
	}
	return col
}
