package ir

import (
	"bytes"
	"encoding/json"

	qerr "github.com/quarryql/quarry/internal/qerr"
)

// Parse decodes a schema document from its canonical JSON form. A document
// that is not structurally well-formed is a fatal parse error, distinct from
// the recoverable violation list produced by Validate.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, qerr.Wrap(qerr.KindParse, err, "malformed schema document: %v", err)
	}
	return &doc, nil
}
