package reportstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://intelpipe.local/schemas/report.schema.json"

// ReportSchema describes the stored document shape that downstream readers
// rely on.
const ReportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "generated_at", "items"],
  "properties": {
    "name": {"type": "string"},
    "generated_at": {"type": "string", "minLength": 1},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["indicator"],
        "properties": {
          "indicator": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "source": {"type": "string"},
          "confidence": {"type": ["number", "string"]},
          "timestamp": {"type": "string"},
          "data": {"type": "object"},
          "correlated": {"type": "boolean"},
          "compliance": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(ReportSchema)); err != nil {
			schemaErr = fmt.Errorf("load report schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks raw JSON against ReportSchema.
func Validate(b []byte) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
