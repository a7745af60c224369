package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/pkg/models"
)

// ApprovalPolicy decides whether a tool call needs human confirmation before
// it runs.
type ApprovalPolicy interface {
	// RequiresApproval inspects a call and returns the confirmation prompt
	// when approval is needed, or ok=false to let the call through.
	RequiresApproval(spec *Spec, call models.ToolCall) (prompt string, ok bool)
}

// destructiveVerbs trigger confirmation when they appear as a segment of the
// tool name.
var destructiveVerbs = []string{"delete", "remove", "cancel", "terminate", "destroy"}

// approvalAmountThreshold gates calls moving more than this through an
// "amount" argument, unless the spec sets its own threshold.
const approvalAmountThreshold = 10000

// DefaultApprovalPolicy implements the standing safety rules: destructive
// verbs in the tool name, large amounts in the arguments, and specs that
// demand approval outright.
type DefaultApprovalPolicy struct{}

// RequiresApproval applies the default rules to one call.
func (DefaultApprovalPolicy) RequiresApproval(spec *Spec, call models.ToolCall) (string, bool) {
	if spec != nil && spec.RequiresApproval {
		return approvalPrompt(spec, fmt.Sprintf("Approve execution of %s?", call.Name)), true
	}
	if verb := destructiveVerb(call.Name); verb != "" {
		return approvalPrompt(spec, fmt.Sprintf("This will %s data via %s. Proceed?", verb, call.Name)), true
	}
	threshold := float64(approvalAmountThreshold)
	if spec != nil && spec.HILThreshold > 0 {
		threshold = spec.HILThreshold
	}
	if amount, ok := callAmount(call.Input); ok && amount > threshold {
		return approvalPrompt(spec, fmt.Sprintf("Approve %s for amount %.2f?", call.Name, amount)), true
	}
	return "", false
}

// approvalPrompt prefers the tool's own confirmation wording.
func approvalPrompt(spec *Spec, fallback string) string {
	if spec != nil && spec.ConfirmationPrompt != "" {
		return spec.ConfirmationPrompt
	}
	return fallback
}

// destructiveVerb returns the matched verb, checking name segments so that
// "delete_record" matches but "undelete_record" does not.
func destructiveVerb(name string) string {
	segments := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ':'
	})
	for _, seg := range segments {
		for _, verb := range destructiveVerbs {
			if seg == verb {
				return verb
			}
		}
	}
	return ""
}

// callAmount extracts a numeric "amount" argument when present.
func callAmount(input json.RawMessage) (float64, bool) {
	if len(input) == 0 {
		return 0, false
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return 0, false
	}
	switch v := args["amount"].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
