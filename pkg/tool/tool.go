package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/model"
)

// NativeWebSearch marks a tool served by the provider itself.
const NativeWebSearch = "web_search"

// Call carries everything an action may inspect.
type Call struct {
	ID        string
	Input     map[string]any
	Assistant message.Message
	History   []message.Message
}

// Action executes a tool. The result is either a string or a JSON
// serialisable value.
type Action func(ctx context.Context, call Call) (any, error)

// Descriptor declares a tool. Descriptors must not be copied after first use.
type Descriptor struct {
	Name        string
	Title       string
	Description string
	// Schema describes the argument object. Nil accepts any object.
	Schema *jsonschema.Schema
	// Native names a provider capability that replaces the function
	// declaration, for example NativeWebSearch.
	Native string
	Action Action

	once     sync.Once
	resolved *jsonschema.Resolved
	resolveE error
}

// Validation is the outcome of checking raw tool arguments.
type Validation struct {
	Input  map[string]any
	OK     bool
	Reason string
}

// DisplayTitle falls back to the name when no title is set.
func (d *Descriptor) DisplayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

func (d *Descriptor) resolve() (*jsonschema.Resolved, error) {
	d.once.Do(func() {
		if d.Schema == nil {
			return
		}
		d.resolved, d.resolveE = d.Schema.Resolve(nil)
	})
	return d.resolved, d.resolveE
}

// Validate parses raw JSON arguments and checks them against the schema.
// Empty arguments are treated as an empty object.
func (d *Descriptor) Validate(raw string) Validation {
	input := map[string]any{}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &input); err != nil {
			return Validation{Reason: fmt.Sprintf("decode arguments: %v", err)}
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	resolved, err := d.resolve()
	if err != nil {
		return Validation{Reason: fmt.Sprintf("resolve schema: %v", err)}
	}
	if resolved != nil {
		if err := resolved.Validate(input); err != nil {
			return Validation{Reason: err.Error()}
		}
	}
	return Validation{Input: input, OK: true}
}

// Declaration renders the descriptor for a completion request.
func (d *Descriptor) Declaration() model.ToolDeclaration {
	if d.Native != "" {
		return model.ToolDeclaration{Native: d.Native}
	}
	return model.ToolDeclaration{Function: &model.FunctionDeclaration{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  schemaMap(d.Schema),
	}}
}

// Execute runs the action.
func (d *Descriptor) Execute(ctx context.Context, call Call) (any, error) {
	if d.Action == nil {
		return "", nil
	}
	return d.Action(ctx, call)
}

func schemaMap(s *jsonschema.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := out["properties"]; !ok && out["type"] == "object" {
		out["properties"] = map[string]any{}
	}
	return out
}

// FormatResult renders an action result as tool message content.
func FormatResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("tool: encode result: %w", err)
		}
		return string(raw), nil
	}
}
