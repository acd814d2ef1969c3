package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	modelpkg "github.com/cexll/chatstream-go/pkg/model"
)

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// convertMessages splits system prompts out of the history and folds
// consecutive tool results into a single user turn.
func convertMessages(messages []modelpkg.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	var system []anthropicsdk.TextBlockParam
	params := make([]anthropicsdk.MessageParam, 0, len(messages))

	for idx, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case "system", "developer":
			if content := text(msg.Content); strings.TrimSpace(content) != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: content})
			}
		case "user":
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(placeholder(text(msg.Content)))},
			})
		case "assistant":
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", idx, err)
			}
			params = append(params, anthropicsdk.MessageParam{Role: anthropicsdk.MessageParamRoleAssistant, Content: blocks})
		case "tool":
			id := strings.TrimSpace(msg.ToolCallID)
			if id == "" {
				return nil, nil, fmt.Errorf("messages[%d]: tool message missing tool_call_id", idx)
			}
			block := anthropicsdk.ContentBlockParamUnion{OfToolResult: &anthropicsdk.ToolResultBlockParam{
				ToolUseID: id,
				Content: []anthropicsdk.ToolResultBlockParamContentUnion{
					{OfText: &anthropicsdk.TextBlockParam{Text: placeholder(text(msg.Content))}},
				},
			}}
			if n := len(params); n > 0 && isToolResultTurn(params[n-1]) {
				params[n-1].Content = append(params[n-1].Content, block)
				continue
			}
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{block},
			})
		default:
			return nil, nil, fmt.Errorf("messages[%d]: unsupported role %q", idx, msg.Role)
		}
	}
	return system, params, nil
}

// placeholder keeps text blocks non-empty; the API rejects empty ones.
func placeholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "."
	}
	return s
}

func isToolResultTurn(p anthropicsdk.MessageParam) bool {
	if p.Role != anthropicsdk.MessageParamRoleUser || len(p.Content) == 0 {
		return false
	}
	for _, block := range p.Content {
		if block.OfToolResult == nil {
			return false
		}
	}
	return true
}

func assistantBlocks(msg modelpkg.Message) ([]anthropicsdk.ContentBlockParamUnion, error) {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if content := text(msg.Content); content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(content))
	}
	for idx, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Name)
		id := strings.TrimSpace(call.ID)
		if name == "" || id == "" {
			return nil, fmt.Errorf("tool_calls[%d]: missing id or name", idx)
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(id, toolInput(call.Arguments), name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks, nil
}

func toolInput(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func hasNative(decls []modelpkg.ToolDeclaration) bool {
	for _, d := range decls {
		if d.Native != "" {
			return true
		}
	}
	return false
}

func convertTools(decls []modelpkg.ToolDeclaration) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(decls))
	for idx, d := range decls {
		if d.Function == nil {
			return nil, fmt.Errorf("tools[%d]: missing function definition", idx)
		}
		schema, err := inputSchema(d.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tools[%d] %s: %w", idx, d.Function.Name, err)
		}
		param := anthropicsdk.ToolParam{Name: d.Function.Name, InputSchema: schema}
		if desc := strings.TrimSpace(d.Function.Description); desc != "" {
			param.Description = anthropicsdk.String(desc)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func inputSchema(params map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(params) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("marshal schema: %w", err)
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("unmarshal schema: %w", err)
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

// rawTools renders declarations as JSON; server tools are not expressible
// next to functions through the typed params.
func rawTools(decls []modelpkg.ToolDeclaration) []map[string]any {
	out := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		if d.Native != "" {
			out = append(out, map[string]any{"type": nativeType(d.Native), "name": d.Native})
			continue
		}
		if d.Function == nil {
			continue
		}
		schema := d.Function.Parameters
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		entry := map[string]any{"name": d.Function.Name, "input_schema": schema}
		if d.Function.Description != "" {
			entry["description"] = d.Function.Description
		}
		out = append(out, entry)
	}
	return out
}

func nativeType(name string) string {
	switch name {
	case "web_search":
		return "web_search_20250305"
	default:
		return name
	}
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		raw := apiErr.RawJSON()
		msg := gjson.Get(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(raw)
		}
		return &modelpkg.APIError{
			Provider:   providerName,
			StatusCode: apiErr.StatusCode,
			Type:       gjson.Get(raw, "error.type").String(),
			Message:    msg,
		}
	}
	return err
}
