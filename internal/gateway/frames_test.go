package gateway

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

func TestOutboundFrameRoundTrip(t *testing.T) {
	interaction := &models.PendingInteraction{
		ID:      "in-1",
		Type:    models.InteractionConfirm,
		Prompt:  "This will delete data via delete_record. Proceed?",
		Options: []string{"Approve", "Reject"},
		Timeout: 300 * time.Second,
	}

	tests := []struct {
		name  string
		frame any
		into  func() any
	}{
		{"auth success", NewAuthSuccessFrame(&models.User{ID: "u1", Username: "tester"}), func() any { return &AuthResponseFrame{} }},
		{"auth error", NewAuthErrorFrame("invalid credentials"), func() any { return &AuthResponseFrame{} }},
		{"progress", NewProgressFrame("Thinking"), func() any { return &ProgressFrame{} }},
		{"markdown", NewMarkdownFrame("## Result\nDone."), func() any { return &MarkdownFrame{} }},
		{"suggestions", NewSuggestionsFrame([]string{"What else?", "Why?"}), func() any { return &SuggestionsFrame{} }},
		{"ui interaction", NewUIInteractionFrame(interaction), func() any { return &UIInteractionFrame{} }},
		{"error", NewErrorFrame(models.ErrValidation, "bad frame"), func() any { return &ErrorFrame{} }},
		{"ui field options", &UIFieldOptionsFrame{
			Type: FrameUIFieldOptions,
			Payload: UIFieldOptionsPayload{
				InteractionID: "in-1",
				FormID:        "form-1",
				FieldKey:      "supplier",
				Options:       []string{"ACME", "Globex"},
			},
		}, func() any { return &UIFieldOptionsFrame{} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.frame)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded := tc.into()
			if err := json.Unmarshal(data, decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(tc.frame, decoded) {
				t.Errorf("round trip changed the frame:\n in: %+v\nout: %+v", tc.frame, decoded)
			}
		})
	}
}

func TestUIInteractionFrameConfirm(t *testing.T) {
	frame := NewUIInteractionFrame(&models.PendingInteraction{
		ID:      "in-1",
		Type:    models.InteractionConfirm,
		Prompt:  "Proceed?",
		Options: []string{"Approve", "Reject"},
	})
	data := frame.Payload.Data
	if data.ComponentType != "confirm" || data.InteractionID != "in-1" {
		t.Errorf("data = %+v", data)
	}
	if len(data.Form.Fields) != 1 || data.Form.Fields[0].Key != "confirm" {
		t.Fatalf("fields = %+v", data.Form.Fields)
	}
	if got := data.Form.Fields[0].Options; len(got) != 2 || got[0] != "Approve" {
		t.Errorf("options = %v", got)
	}
}

func TestQueryFrameDecode(t *testing.T) {
	raw := `{"type":"query","query":"compare the drafts","session_id":"s1",` +
		`"selected_docs":["d1"],"attachments":["a1","a2"],"context":{"source":"editor"}}`
	var frame QueryFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(frame.SelectedDocs) != 1 || frame.SelectedDocs[0] != "d1" {
		t.Errorf("selected_docs = %v", frame.SelectedDocs)
	}
	if len(frame.Attachments) != 2 || frame.Attachments[0] != "a1" {
		t.Errorf("attachments = %v", frame.Attachments)
	}
	if frame.Context["source"] != "editor" {
		t.Errorf("context = %v", frame.Context)
	}
	if err := validateInboundFrame(FrameQuery, []byte(raw)); err != nil {
		t.Errorf("frame with attachments rejected: %v", err)
	}
}

func TestFrameTypeSniffing(t *testing.T) {
	if got := FrameType([]byte(`{"type":"query","query":"hi"}`)); got != FrameQuery {
		t.Errorf("FrameType = %q", got)
	}
	if got := FrameType([]byte(`not json`)); got != "" {
		t.Errorf("FrameType on garbage = %q", got)
	}
}
