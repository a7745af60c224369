// Package tools implements the tool registry and executor: declarative tool
// specs with JSON Schema arguments, permission checks, per-call timeouts,
// human approval gating for destructive actions, and result compaction.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

// Handler executes one tool call. args has already passed schema validation.
// The returned value is the full result; compaction for LLM context happens
// separately.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Compactor produces a smaller representation of a tool result for LLM
// context assembly. Nil means the full result is used.
type Compactor func(result any) any

// Spec declares a tool: its contract, safety requirements, and behavior.
type Spec struct {
	// Name identifies the tool. Must be unique within a registry.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters is the JSON Schema for the tool's arguments.
	Parameters json.RawMessage

	// Permissions lists the permission strings the calling user must hold.
	// Empty means no permission is required.
	Permissions []string

	// Timeout bounds one execution. Zero uses the executor default.
	Timeout time.Duration

	// RequiresApproval forces human confirmation for every call, regardless
	// of the approval policy's own judgment.
	RequiresApproval bool

	// ConfirmationPrompt replaces the generated approval prompt for gated
	// calls. Empty uses the policy's wording.
	ConfirmationPrompt string

	// HILThreshold overrides the default amount above which calls need
	// approval. Zero keeps the default.
	HILThreshold float64

	// Compact reduces the result for LLM context. Nil keeps the full result.
	Compact Compactor

	// Handler runs the tool.
	Handler Handler
}

// SchemaFor reflects a JSON Schema from a Go struct type, for tools whose
// argument shape is a plain struct.
func SchemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
