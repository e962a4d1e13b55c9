// Package ollama implements llm.Provider on top of Ollama's /api/chat.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autotrader/internal/llm"
)

const DefaultBaseURL = "http://localhost:11434"

type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

func New(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := chatRequest{
		Model:    c.model,
		Messages: make([]message, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		out := message{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
		for _, call := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, toolCall{
				ID:       call.ID,
				Function: toolFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
		payload.Messages = append(payload.Messages, out)
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, tool{
			Type: "function",
			Function: functionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	if req.JSON {
		payload.Format = "json"
	}
	if req.Temperature != 0 {
		payload.Options = map[string]any{"temperature": req.Temperature}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}

	out := &llm.Response{
		Message: llm.Message{
			Role:    llm.Role(chat.Message.Role),
			Content: chat.Message.Content,
		},
		DoneReason: chat.DoneReason,
	}
	for _, call := range chat.Message.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: unquoteArguments(call.Function.Arguments),
		})
	}
	return out, nil
}

// Some models return tool arguments as a JSON string holding the object.
func unquoteArguments(raw json.RawMessage) json.RawMessage {
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		return json.RawMessage(inner)
	}
	return raw
}
