package gateway

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conductorhq/conductor/pkg/models"
)

type inboundSchemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[string]*jsonschema.Schema
}

var inboundSchemas inboundSchemaRegistry

func initInboundSchemas() error {
	inboundSchemas.once.Do(func() {
		sources := map[string]string{
			FrameAuth:       authFrameSchema,
			FrameQuery:      queryFrameSchema,
			FrameHumanInput: humanInputFrameSchema,
		}
		inboundSchemas.schemas = make(map[string]*jsonschema.Schema, len(sources))
		for name, source := range sources {
			compiled, err := jsonschema.CompileString("frame_"+name, source)
			if err != nil {
				inboundSchemas.initErr = err
				return
			}
			inboundSchemas.schemas[name] = compiled
		}
	})
	return inboundSchemas.initErr
}

// validateInboundFrame checks a raw frame against the schema for its type.
// Unknown types and schema violations yield VALIDATION_ERROR.
func validateInboundFrame(frameType string, raw []byte) error {
	if err := initInboundSchemas(); err != nil {
		return err
	}
	schema, ok := inboundSchemas.schemas[frameType]
	if !ok {
		return models.Errorf(models.ErrValidation, "unknown frame type %q", frameType)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.Errorf(models.ErrValidation, "malformed frame: %v", err)
	}
	if err := schema.Validate(payload); err != nil {
		return models.Errorf(models.ErrValidation, "invalid %s frame: %v", frameType, err)
	}
	return nil
}

const authFrameSchema = `{
  "type": "object",
  "required": ["type", "token"],
  "properties": {
    "type": { "const": "auth" },
    "token": { "type": "string", "minLength": 1 },
    "language": { "type": "string" },
    "loadBotIntro": { "type": "boolean" }
  },
  "additionalProperties": true
}`

const queryFrameSchema = `{
  "type": "object",
  "required": ["type", "query", "session_id"],
  "properties": {
    "type": { "const": "query" },
    "query": { "type": "string", "minLength": 1 },
    "session_id": { "type": "string", "minLength": 1 },
    "question_answer_uuid": { "type": "string" },
    "locale": {
      "type": "object",
      "properties": {
        "timezone": { "type": "string" },
        "language": { "type": "string" }
      },
      "additionalProperties": true
    },
    "user_id": { "type": "string" },
    "user_name": { "type": "string" },
    "user_agent": { "type": "string" },
    "selected_docs": { "type": "array", "items": { "type": "string" } },
    "attachments": { "type": "array", "items": { "type": "string" } },
    "context": { "type": "object" }
  },
  "additionalProperties": true
}`

const humanInputFrameSchema = `{
  "type": "object",
  "required": ["type", "payload"],
  "properties": {
    "type": { "const": "human_input" },
    "payload": {
      "type": "object",
      "required": ["interaction_id", "values", "session_id"],
      "properties": {
        "interaction_id": { "type": "string", "minLength": 1 },
        "form_id": { "type": "string" },
        "values": { "type": "object" },
        "session_id": { "type": "string", "minLength": 1 },
        "clear_previous_message": { "type": "boolean" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`
