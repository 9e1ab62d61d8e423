package validate

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/annotation.json
var annotationSchema []byte

const annotationSchemaURL = "https://github.com/ppiankov/annorepair/schema/annotation.json"

// SchemaChecker validates raw annotation JSON against the structural schema,
// catching field shapes the typed decoder tolerates silently
type SchemaChecker struct {
	schema *jsonschema.Schema
}

// NewSchemaChecker compiles the embedded annotation schema
func NewSchemaChecker() (*SchemaChecker, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(annotationSchema))
	if err != nil {
		return nil, fmt.Errorf("parse annotation schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(annotationSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add annotation schema: %w", err)
	}
	schema, err := c.Compile(annotationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile annotation schema: %w", err)
	}
	return &SchemaChecker{schema: schema}, nil
}

// Check validates raw and returns a single-line error describing the first violation
func (s *SchemaChecker) Check(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return errors.New(firstLine(err.Error()))
	}
	return nil
}

func firstLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 1 {
		// the header names the schema, the first cause names the violation
		return strings.TrimSpace(lines[1])
	}
	return lines[0]
}
