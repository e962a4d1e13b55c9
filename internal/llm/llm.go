// Package llm is a small chat-completion client with a tool-call loop. The
// signal predictor uses it to ask a hosted model for a structured forecast.
package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Schema is the JSON-schema subset providers accept for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

type Tool interface {
	Name() string
	Description() string
	Parameters() *Schema
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	// JSON asks the provider to constrain the reply to a JSON document.
	JSON bool
}

type Response struct {
	Message    Message
	DoneReason string
}

type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
