package engine

import (
	"github.com/quarryql/quarry/internal/qerr"
)

// Path locates a value in the response tree; elements are field response
// names (string) or list indexes (int).
type Path []PathElement

type PathElement any

// GraphQLError is one entry of the response "errors" array. Extensions
// always carries the machine-readable error code under "code".
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string { return e.Message }

// Kind recovers the machine-readable code from Extensions so event
// subscribers can classify the error without string matching.
func (e GraphQLError) Kind() qerr.Kind {
	if c, ok := e.Extensions["code"].(string); ok {
		return qerr.Kind(c)
	}
	return qerr.KindInternal
}

// Result is the outcome of executing one GraphQL request. Cached reports
// whether any root field was served from the result cache; it is not part
// of the wire response.
type Result struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
	Cached bool           `json:"-"`
}

// errorOf builds a located GraphQL error from err, deriving the extension
// code from the error's kind. Unclassified errors are internal.
func errorOf(err error, path Path) GraphQLError {
	kind := qerr.KindOf(err)
	return GraphQLError{
		Message:    err.Error(),
		Path:       path,
		Extensions: map[string]any{"code": string(kind)},
	}
}

func validationError(message string, path Path) GraphQLError {
	return GraphQLError{
		Message:    message,
		Path:       path,
		Extensions: map[string]any{"code": string(qerr.KindValidation)},
	}
}
