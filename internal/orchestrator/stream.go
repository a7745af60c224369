package orchestrator

import (
	"context"
	"sync"

	"github.com/conductorhq/conductor/pkg/models"
)

// Stream is the outbound side of one request: progress, partial results, and
// human-interaction prompts flowing back to the caller. Implementations must
// tolerate concurrent writers.
type Stream interface {
	// Progress reports a coarse status such as "Thinking" or "Processing".
	Progress(ctx context.Context, status string) error

	// Markdown delivers a chunk of the final answer.
	Markdown(ctx context.Context, text string) error

	// Suggestions delivers follow-up query suggestions.
	Suggestions(ctx context.Context, items []string) error

	// UIInteraction surfaces a pending human interaction.
	UIInteraction(ctx context.Context, interaction *models.PendingInteraction) error

	// Error delivers a terminal or advisory error frame.
	Error(ctx context.Context, kind models.ErrorKind, message string) error
}

// Progress statuses emitted by the loop.
const (
	StatusThinking          = "Thinking"
	StatusRetrieving        = "Retrieving information"
	StatusProcessing        = "Processing"
	StatusPlanningComplete  = "Planning complete"
	StatusSynthesisComplete = "_synthesis_complete"
)

// MemoryStream collects emitted frames. Used by tests and the dev harness.
type MemoryStream struct {
	mu             sync.Mutex
	ProgressEvents []string
	MarkdownChunks []string
	SuggestionSets [][]string
	Interactions   []*models.PendingInteraction
	Errors         []StreamError
}

// StreamError is one captured error frame.
type StreamError struct {
	Kind    models.ErrorKind
	Message string
}

func (s *MemoryStream) Progress(ctx context.Context, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProgressEvents = append(s.ProgressEvents, status)
	return nil
}

func (s *MemoryStream) Markdown(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MarkdownChunks = append(s.MarkdownChunks, text)
	return nil
}

func (s *MemoryStream) Suggestions(ctx context.Context, items []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SuggestionSets = append(s.SuggestionSets, items)
	return nil
}

func (s *MemoryStream) UIInteraction(ctx context.Context, interaction *models.PendingInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Interactions = append(s.Interactions, interaction)
	return nil
}

func (s *MemoryStream) Error(ctx context.Context, kind models.ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, StreamError{Kind: kind, Message: message})
	return nil
}

// Markdown returns the concatenated markdown output.
func (s *MemoryStream) MarkdownText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ""
	for _, chunk := range s.MarkdownChunks {
		out += chunk
	}
	return out
}
