package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/conductorhq/conductor/pkg/models"
)

// MockProvider is a deterministic in-process Provider for tests and the
// --mock dev harness. Responses come from, in order of precedence: a scripted
// queue, a RespondFunc, or a built-in rule that answers planner-style prompts
// with a minimal two-step plan and everything else with an echo.
type MockProvider struct {
	mu sync.Mutex

	// Script is consumed front to back, one entry per Complete/Stream call.
	Script []*Response

	// RespondFunc computes a response from the request when the script is
	// exhausted.
	RespondFunc func(req *Request) *Response

	// Err, when set, fails every call.
	Err error

	// Calls records every request for assertions.
	Calls []*Request
}

// NewMockProvider creates an empty deterministic mock.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name returns "mock".
func (p *MockProvider) Name() string { return "mock" }

// Complete returns the next scripted or computed response.
func (p *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrCancelled, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Script) > 0 {
		resp := p.Script[0]
		p.Script = p.Script[1:]
		return resp, nil
	}
	if p.RespondFunc != nil {
		return p.RespondFunc(req), nil
	}
	return p.defaultResponse(req), nil
}

// Stream replays the Complete response as word-sized chunks.
func (p *MockProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			select {
			case chunks <- &Chunk{Text: word}:
			case <-ctx.Done():
				return
			}
		}
		for i := range resp.ToolCalls {
			chunks <- &Chunk{ToolCall: &resp.ToolCalls[i]}
		}
		usage := resp.Usage
		chunks <- &Chunk{Done: true, Usage: &usage}
	}()
	return chunks, nil
}

// CallCount returns how many requests the mock has served.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

func (p *MockProvider) defaultResponse(req *Request) *Response {
	query := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			query = req.Messages[i].Content
			break
		}
	}
	if strings.Contains(strings.ToLower(req.System), "planning") {
		plan := fmt.Sprintf(`{"goal": %q, "steps": [`+
			`{"id": "step_1", "description": "Research the request", "sub_agent": "researcher", "instruction": %q},`+
			`{"id": "step_2", "description": "Synthesize the answer", "sub_agent": "synthesizer", "instruction": "Summarize the findings", "depends_on": ["step_1"]}`+
			`]}`, query, query)
		return &Response{Content: plan, Usage: Usage{PromptTokens: 20, CompletionTokens: 40}}
	}
	return &Response{
		Content: "Mock response for: " + query,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10},
	}
}
