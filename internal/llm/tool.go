package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

type typedTool[T any] struct {
	name        string
	description string
	params      *Schema
	fn          func(context.Context, T) (any, error)
}

// NewTool decodes the model's arguments into T before calling fn.
func NewTool[T any](name, description string, params *Schema, fn func(context.Context, T) (any, error)) Tool {
	return &typedTool[T]{name: name, description: description, params: params, fn: fn}
}

func (t *typedTool[T]) Name() string        { return t.name }
func (t *typedTool[T]) Description() string { return t.description }
func (t *typedTool[T]) Parameters() *Schema { return t.params }

func (t *typedTool[T]) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var input T
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", t.name, err)
	}
	return t.fn(ctx, input)
}

// Float returns a pointer for Schema bounds.
func Float(v float64) *float64 {
	return &v
}
