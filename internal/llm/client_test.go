package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type scriptedProvider struct {
	replies  []Message
	requests []Request
	err      error
}

func (p *scriptedProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.requests) > len(p.replies) {
		return &Response{Message: Message{Role: RoleAssistant, Content: "{}"}}, nil
	}
	return &Response{Message: p.replies[len(p.requests)-1]}, nil
}

type forecast struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

func TestAskWithoutToolsRequestsJSON(t *testing.T) {
	provider := &scriptedProvider{replies: []Message{{Role: RoleAssistant, Content: `{"direction":"BUY"}`}}}
	client := New(provider)

	resp, err := client.Ask(context.Background(), "be brief", "predict")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != `{"direction":"BUY"}` {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	req := provider.requests[0]
	if !req.JSON {
		t.Fatalf("expected JSON mode without tools")
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system and user messages, got %+v", req.Messages)
	}
}

func TestAskRunsToolThenReturns(t *testing.T) {
	var got forecast
	tool := NewTool("submit_prediction", "record a forecast", &Schema{Type: "object"},
		func(ctx context.Context, in forecast) (any, error) {
			got = in
			return map[string]string{"status": "recorded"}, nil
		})
	provider := &scriptedProvider{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{
			Name:      "submit_prediction",
			Arguments: json.RawMessage(`{"direction":"SELL","confidence":0.7}`),
		}}},
		{Role: RoleAssistant, Content: "done"},
	}}
	client := New(provider, WithTool(tool))

	resp, err := client.Ask(context.Background(), "", "predict")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "done" {
		t.Fatalf("expected final reply, got %q", resp.Message.Content)
	}
	if got.Direction != "SELL" || got.Confidence != 0.7 {
		t.Fatalf("tool received %+v", got)
	}
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != RoleTool || last.Content != `{"status":"recorded"}` {
		t.Fatalf("expected tool reply in history, got %+v", last)
	}
}

func TestAskReportsUnknownToolToModel(t *testing.T) {
	provider := &scriptedProvider{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "missing", Arguments: json.RawMessage(`{}`)}}},
		{Role: RoleAssistant, Content: "ok"},
	}}
	client := New(provider, WithTool(NewTool("other", "", &Schema{Type: "object"},
		func(ctx context.Context, in struct{}) (any, error) { return nil, nil })))

	if _, err := client.Ask(context.Background(), "", "predict"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	history := provider.requests[1].Messages
	if history[len(history)-1].Content != `{"error":"unknown tool \"missing\""}` {
		t.Fatalf("unexpected tool reply %q", history[len(history)-1].Content)
	}
}

func TestAskStopsAfterMaxTurns(t *testing.T) {
	loop := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "noop", Arguments: json.RawMessage(`{}`)}}}
	provider := &scriptedProvider{replies: []Message{loop, loop, loop}}
	client := New(provider, WithMaxTurns(2), WithTool(NewTool("noop", "", &Schema{Type: "object"},
		func(ctx context.Context, in struct{}) (any, error) { return "ok", nil })))

	_, err := client.Ask(context.Background(), "", "predict")
	if !errors.Is(err, ErrTooManyTurns) {
		t.Fatalf("expected ErrTooManyTurns, got %v", err)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(provider.requests))
	}
}

func TestAskPropagatesProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	if _, err := New(provider).Ask(context.Background(), "", "predict"); err == nil {
		t.Fatalf("expected provider error")
	}
}
