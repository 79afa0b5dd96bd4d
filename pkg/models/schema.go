package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// flowDocumentSchema validates flow definitions arriving as JSON documents
// (imports, authoring API payloads) before they are unmarshalled into Flow.
const flowDocumentSchema = `{
  "type": "object",
  "required": ["name", "trigger", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "status": {"enum": ["draft", "active", "paused"]},
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"},
        "filter": {
          "type": "object",
          "properties": {
            "tag_name": {"type": "string"},
            "segment_id": {"type": "string"}
          }
        }
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {
            "enum": ["send_message", "wait", "condition", "add_tag", "create_discount"]
          }
        }
      }
    }
  }
}`

var ErrInvalidFlowDocument = errors.New("invalid flow document")

// ValidateFlowDocument checks a raw JSON flow definition against the flow
// document schema. Step-level config checks happen later in Step.Validate;
// this pass catches malformed documents with a readable error list.
func ValidateFlowDocument(document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(flowDocumentSchema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("flow document validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidFlowDocument, strings.Join(details, "; "))
}
