// Package tool defines the descriptor form of a callable tool: a name, a
// description, a JSON parameter schema, and an invoke function. Descriptors
// are plain values registered directly with the runtime; there is no
// decorator or reflection-based registration step.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoker executes a tool call. The return value is coerced to a string
// before it is submitted back to the run (see CoerceOutput).
type Invoker func(ctx context.Context, args Arguments) (any, error)

// Descriptor declares one tool: the contract the model sees plus the
// function the runtime dispatches to.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      Invoker
}

// Validate checks the descriptor is dispatchable.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Invoke == nil {
		return fmt.Errorf("tool %s has no invoke function", d.Name)
	}
	return nil
}

// Arguments is the parsed form of a tool call's argument payload. The
// payload is parsed exactly once, by the run driver; invokers receive the
// result. A JSON object populates KV; a bare JSON string populates Text.
type Arguments struct {
	Raw  string
	Text string
	KV   map[string]any
}

// ParseArguments parses a raw argument payload. Accepted shapes are a JSON
// object, a bare JSON string, and an empty payload (treated as no
// arguments).
func ParseArguments(raw string) (Arguments, error) {
	args := Arguments{Raw: raw}
	if raw == "" {
		return args, nil
	}

	var kv map[string]any
	if err := json.Unmarshal([]byte(raw), &kv); err == nil {
		args.KV = kv
		return args, nil
	}

	var text string
	if err := json.Unmarshal([]byte(raw), &text); err == nil {
		args.Text = text
		return args, nil
	}

	return Arguments{}, fmt.Errorf("arguments must be a JSON object or string")
}

// Field returns the named argument when the payload was an object.
func (a Arguments) Field(key string) (any, bool) {
	v, ok := a.KV[key]
	return v, ok
}

// StringField returns the named argument as a string. When the payload was
// a bare string, that string is returned for any key.
func (a Arguments) StringField(key string) string {
	if a.KV == nil {
		return a.Text
	}
	if v, ok := a.KV[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// CoerceOutput converts a tool's return value to the string submitted back
// to the run. Strings pass through; anything else is JSON-encoded.
func CoerceOutput(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(data)
	}
}
