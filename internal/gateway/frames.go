// Package gateway implements the framed WebSocket transport: JSON frames, one
// object per logical message, auth-first ordering, and the outbound stream of
// progress, markdown, interaction, and error frames.
package gateway

import (
	"encoding/json"

	"github.com/conductorhq/conductor/pkg/models"
)

// Inbound frame types.
const (
	FrameAuth       = "auth"
	FrameQuery      = "query"
	FrameHumanInput = "human_input"
)

// Outbound frame types.
const (
	FrameSuggestions    = "suggestions"
	FrameComponent      = "component"
	FrameUIFieldOptions = "ui_field_options"
	FrameMarkdown       = "markdown"
)

// Component names inside component frames.
const (
	ComponentProgress      = "progress"
	ComponentUIInteraction = "ui_interaction"
	ComponentError         = "error"
)

// frameHeader sniffs the frame type before full decoding.
type frameHeader struct {
	Type string `json:"type"`
}

// FrameType returns the type field of a raw frame, or "".
func FrameType(raw []byte) string {
	var h frameHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return ""
	}
	return h.Type
}

// AuthFrame is the first inbound frame on every channel.
type AuthFrame struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	Language     string `json:"language,omitempty"`
	LoadBotIntro bool   `json:"loadBotIntro,omitempty"`
}

// QueryFrame submits a natural-language request.
type QueryFrame struct {
	Type               string         `json:"type"`
	Query              string         `json:"query"`
	SessionID          string         `json:"session_id"`
	QuestionAnswerUUID string         `json:"question_answer_uuid,omitempty"`
	Locale             models.Locale  `json:"locale,omitempty"`
	UserID             string         `json:"user_id,omitempty"`
	UserName           string         `json:"user_name,omitempty"`
	UserAgent          string         `json:"user_agent,omitempty"`
	SelectedDocs       []string       `json:"selected_docs,omitempty"`
	Attachments        []string       `json:"attachments,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
}

// HumanInputFrame answers a pending interaction on a suspended request.
type HumanInputFrame struct {
	Type    string            `json:"type"`
	Payload HumanInputPayload `json:"payload"`
}

// HumanInputPayload carries the human response values.
type HumanInputPayload struct {
	InteractionID        string         `json:"interaction_id"`
	FormID               string         `json:"form_id,omitempty"`
	Values               map[string]any `json:"values"`
	SessionID            string         `json:"session_id"`
	ClearPreviousMessage bool           `json:"clear_previous_message,omitempty"`
}

// AuthResponseFrame reports the outcome of authentication.
type AuthResponseFrame struct {
	Type    string              `json:"type"`
	Payload AuthResponsePayload `json:"payload"`
}

// AuthResponsePayload is success or error plus the resolved user.
type AuthResponsePayload struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user,omitempty"`
}

// NewAuthSuccessFrame acknowledges a verified token.
func NewAuthSuccessFrame(user *models.User) *AuthResponseFrame {
	return &AuthResponseFrame{
		Type:    FrameAuth,
		Payload: AuthResponsePayload{Status: "success", Message: "authenticated", User: user},
	}
}

// NewAuthErrorFrame reports a failed authentication.
func NewAuthErrorFrame(message string) *AuthResponseFrame {
	return &AuthResponseFrame{
		Type:    FrameAuth,
		Payload: AuthResponsePayload{Status: "error", Message: message},
	}
}

// SuggestionOption is one follow-up suggestion.
type SuggestionOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SuggestionsPayload carries follow-up query suggestions.
type SuggestionsPayload struct {
	Field   string             `json:"field"`
	Options []SuggestionOption `json:"options"`
}

// SuggestionsFrame delivers follow-up suggestions after the final answer.
type SuggestionsFrame struct {
	Type    string             `json:"type"`
	Payload SuggestionsPayload `json:"payload"`
}

// NewSuggestionsFrame wraps suggestion strings as label/value options.
func NewSuggestionsFrame(items []string) *SuggestionsFrame {
	options := make([]SuggestionOption, 0, len(items))
	for _, item := range items {
		options = append(options, SuggestionOption{Label: item, Value: item})
	}
	return &SuggestionsFrame{
		Type:    FrameSuggestions,
		Payload: SuggestionsPayload{Field: "suggestions", Options: options},
	}
}

// ProgressData is the status inside a progress component frame.
type ProgressData struct {
	Status string `json:"status"`
}

// ProgressPayload wraps progress data in the component envelope.
type ProgressPayload struct {
	Component string       `json:"component"`
	Data      ProgressData `json:"data"`
}

// ProgressFrame reports a coarse request status.
type ProgressFrame struct {
	Type    string          `json:"type"`
	Payload ProgressPayload `json:"payload"`
}

// NewProgressFrame builds a progress component frame.
func NewProgressFrame(status string) *ProgressFrame {
	return &ProgressFrame{
		Type: FrameComponent,
		Payload: ProgressPayload{
			Component: ComponentProgress,
			Data:      ProgressData{Status: status},
		},
	}
}

// FormField describes one field of an interaction form.
type FormField struct {
	Key        string   `json:"key"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Required   bool     `json:"required"`
	Options    []string `json:"options,omitempty"`
	DataSource string   `json:"dataSource,omitempty"`
}

// InteractionForm is the renderable form of a pending interaction.
type InteractionForm struct {
	ID     string      `json:"id"`
	Fields []FormField `json:"fields"`
}

// UIInteractionData describes a human-in-the-loop prompt.
type UIInteractionData struct {
	InteractionID string          `json:"interaction_id"`
	ComponentType string          `json:"component_type"`
	Required      bool            `json:"required"`
	Form          InteractionForm `json:"form"`
}

// UIInteractionPayload wraps interaction data in the component envelope.
type UIInteractionPayload struct {
	Component string            `json:"component"`
	Data      UIInteractionData `json:"data"`
}

// UIInteractionFrame surfaces a pending interaction to the caller.
type UIInteractionFrame struct {
	Type    string               `json:"type"`
	Payload UIInteractionPayload `json:"payload"`
}

// NewUIInteractionFrame renders a pending interaction. Confirm interactions
// become a single radio field carrying the prompt; form interactions carry
// their declared fields.
func NewUIInteractionFrame(interaction *models.PendingInteraction) *UIInteractionFrame {
	componentType := "confirm"
	form := InteractionForm{ID: interaction.ID}
	switch interaction.Type {
	case models.InteractionForm:
		componentType = "form"
		for key, spec := range interaction.FormSchema {
			field := FormField{Key: key, Label: key, Type: "text", Required: true}
			if m, ok := spec.(map[string]any); ok {
				if label, ok := m["label"].(string); ok {
					field.Label = label
				}
				if typ, ok := m["type"].(string); ok {
					field.Type = typ
				}
				if req, ok := m["required"].(bool); ok {
					field.Required = req
				}
			}
			form.Fields = append(form.Fields, field)
		}
	default:
		form.Fields = []FormField{{
			Key:      "confirm",
			Label:    interaction.Prompt,
			Type:     "radio",
			Required: true,
			Options:  interaction.Options,
		}}
	}
	return &UIInteractionFrame{
		Type: FrameComponent,
		Payload: UIInteractionPayload{
			Component: ComponentUIInteraction,
			Data: UIInteractionData{
				InteractionID: interaction.ID,
				ComponentType: componentType,
				Required:      true,
				Form:          form,
			},
		},
	}
}

// UIFieldOptionsPayload delivers options for one form field.
type UIFieldOptionsPayload struct {
	InteractionID string   `json:"interaction_id"`
	FormID        string   `json:"form_id"`
	FieldKey      string   `json:"field_key"`
	Options       []string `json:"options"`
}

// UIFieldOptionsFrame populates a dynamic form field.
type UIFieldOptionsFrame struct {
	Type    string                `json:"type"`
	Payload UIFieldOptionsPayload `json:"payload"`
}

// MarkdownFrame delivers a chunk of the final answer.
type MarkdownFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// NewMarkdownFrame builds a markdown frame.
func NewMarkdownFrame(text string) *MarkdownFrame {
	return &MarkdownFrame{Type: FrameMarkdown, Payload: text}
}

// ErrorData carries a stable error code and message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorPayload wraps error data in the component envelope.
type ErrorPayload struct {
	Component string    `json:"component"`
	Data      ErrorData `json:"data"`
}

// ErrorFrame reports a request or channel error.
type ErrorFrame struct {
	Type    string       `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

// NewErrorFrame builds an error component frame.
func NewErrorFrame(kind models.ErrorKind, message string) *ErrorFrame {
	return &ErrorFrame{
		Type: FrameComponent,
		Payload: ErrorPayload{
			Component: ComponentError,
			Data:      ErrorData{Code: string(kind), Message: message},
		},
	}
}
