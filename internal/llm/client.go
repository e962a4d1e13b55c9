package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const defaultMaxTurns = 4

var ErrTooManyTurns = errors.New("llm: tool loop did not finish")

type Client struct {
	provider    Provider
	tools       map[string]Tool
	order       []string
	maxTurns    int
	temperature float64
}

type Option func(*Client)

func WithMaxTurns(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTurns = n
		}
	}
}

func WithTemperature(temperature float64) Option {
	return func(c *Client) {
		c.temperature = temperature
	}
}

func WithTool(tool Tool) Option {
	return func(c *Client) {
		if _, ok := c.tools[tool.Name()]; !ok {
			c.order = append(c.order, tool.Name())
		}
		c.tools[tool.Name()] = tool
	}
}

func New(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		tools:    make(map[string]Tool),
		maxTurns: defaultMaxTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask sends one user prompt and runs registered tools until the model
// answers without requesting any.
func (c *Client) Ask(ctx context.Context, system, prompt string) (*Response, error) {
	messages := make([]Message, 0, 4)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	tools := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		tools = append(tools, c.tools[name])
	}

	for turn := 0; turn < c.maxTurns; turn++ {
		resp, err := c.provider.Chat(ctx, Request{
			Messages:    messages,
			Tools:       tools,
			Temperature: c.temperature,
			JSON:        len(tools) == 0,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Message.ToolCalls) == 0 {
			return resp, nil
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			messages = append(messages, c.runTool(ctx, call))
		}
	}
	return nil, fmt.Errorf("%w after %d turns", ErrTooManyTurns, c.maxTurns)
}

func (c *Client) runTool(ctx context.Context, call ToolCall) Message {
	reply := Message{Role: RoleTool, ToolName: call.Name}
	tool, ok := c.tools[call.Name]
	if !ok {
		reply.Content = errorJSON(fmt.Errorf("unknown tool %q", call.Name))
		return reply
	}
	result, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		reply.Content = errorJSON(err)
		return reply
	}
	data, err := json.Marshal(result)
	if err != nil {
		reply.Content = errorJSON(fmt.Errorf("encode result: %w", err))
		return reply
	}
	reply.Content = string(data)
	return reply
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
