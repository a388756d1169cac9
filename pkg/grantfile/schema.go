package grantfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidGrantFile is returned for documents that fail schema validation
var ErrInvalidGrantFile = errors.New("invalid grant file")

const grantFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Grant File",
  "type": "object",
  "required": ["grantee", "operation", "parameters", "expires"],
  "properties": {
    "grantee": {
      "type": "string",
      "pattern": "^0x[0-9a-fA-F]{40}$"
    },
    "operation": {
      "type": "string",
      "minLength": 1
    },
    "parameters": {
      "type": "object"
    },
    "files": {
      "type": "array",
      "items": {
        "type": "integer",
        "minimum": 0
      }
    },
    "expires": {
      "type": "integer",
      "minimum": 0
    }
  }
}`

var schema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(grantFileSchema))
	if err != nil {
		panic(fmt.Sprintf("grantfile: failed to compile schema: %v", err))
	}
	return s
}

// Validate checks a raw document against the grant file schema.
func Validate(data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrantFile, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidGrantFile, strings.Join(problems, "; "))
	}
	return nil
}
