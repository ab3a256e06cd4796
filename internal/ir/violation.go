package ir

import "fmt"

// Violation is one validation finding. Path locates the offending node in
// the document using JSON-pointer-ish notation, e.g. "queries[2].arguments[0]".
type Violation struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ValidationError aggregates every violation found in a single pass so one
// compile attempt reports all problems at once.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.Path != "" {
			line += " (at " + v.Path + ")"
		}
		msg += line + "\n"
	}
	return msg
}

func violationAt(path string, format string, args ...any) *Violation {
	return &Violation{Message: fmt.Sprintf(format, args...), Path: path}
}
