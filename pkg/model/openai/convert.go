package openai

import (
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"

	modelpkg "github.com/cexll/chatstream-go/pkg/model"
)

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func convertMessages(messages []modelpkg.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	params := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for idx, msg := range messages {
		switch normalizeRole(msg.Role) {
		case "system":
			sys := openaisdk.ChatCompletionSystemMessageParam{}
			sys.Content.OfString = openaisdk.String(text(msg.Content))
			params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfSystem: &sys})
		case "developer":
			dev := openaisdk.ChatCompletionDeveloperMessageParam{}
			dev.Content.OfString = openaisdk.String(text(msg.Content))
			params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfDeveloper: &dev})
		case "user":
			user := openaisdk.ChatCompletionUserMessageParam{}
			user.Content.OfString = openaisdk.String(text(msg.Content))
			params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfUser: &user})
		case "assistant":
			union, err := convertAssistant(msg)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", idx, err)
			}
			params = append(params, union)
		case "tool":
			if strings.TrimSpace(msg.ToolCallID) == "" {
				return nil, fmt.Errorf("messages[%d]: tool message missing tool_call_id", idx)
			}
			params = append(params, openaisdk.ToolMessage(text(msg.Content), msg.ToolCallID))
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", idx, msg.Role)
		}
	}
	return params, nil
}

func convertAssistant(msg modelpkg.Message) (openaisdk.ChatCompletionMessageParamUnion, error) {
	asst := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != nil {
		asst.Content.OfString = openaisdk.String(*msg.Content)
	}
	for idx, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool_calls[%d]: missing name", idx)
		}
		args := call.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      name,
					Arguments: args,
				},
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
}

// hasNative reports whether any declaration needs the raw tools override.
func hasNative(decls []modelpkg.ToolDeclaration) bool {
	for _, d := range decls {
		if d.Native != "" {
			return true
		}
	}
	return false
}

func convertTools(decls []modelpkg.ToolDeclaration) ([]openaisdk.ChatCompletionToolUnionParam, error) {
	out := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(decls))
	for idx, d := range decls {
		if d.Function == nil {
			return nil, fmt.Errorf("tools[%d]: missing function definition", idx)
		}
		def := openaisdk.FunctionDefinitionParam{Name: d.Function.Name}
		if desc := strings.TrimSpace(d.Function.Description); desc != "" {
			def.Description = openaisdk.String(desc)
		}
		if len(d.Function.Parameters) > 0 {
			def.Parameters = openaisdk.FunctionParameters(d.Function.Parameters)
		}
		out = append(out, openaisdk.ChatCompletionToolUnionParam{
			OfFunction: &openaisdk.ChatCompletionFunctionToolParam{Function: def},
		})
	}
	return out, nil
}

// rawTools renders declarations as plain JSON so provider-side tools such as
// web_search can sit next to functions.
func rawTools(decls []modelpkg.ToolDeclaration) []map[string]any {
	out := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		if d.Native != "" {
			out = append(out, map[string]any{"type": d.Native})
			continue
		}
		if d.Function == nil {
			continue
		}
		fn := map[string]any{"name": d.Function.Name}
		if d.Function.Description != "" {
			fn["description"] = d.Function.Description
		}
		if len(d.Function.Parameters) > 0 {
			fn["parameters"] = d.Function.Parameters
		}
		out = append(out, map[string]any{"type": "function", "function": fn})
	}
	return out
}

func convertDeltas(calls []openaisdk.ChatCompletionChunkChoiceDeltaToolCall) []modelpkg.ToolCallDelta {
	if len(calls) == 0 {
		return nil
	}
	out := make([]modelpkg.ToolCallDelta, len(calls))
	for i, call := range calls {
		idx := int(call.Index)
		out[i] = modelpkg.ToolCallDelta{
			Index:     &idx,
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return out
}

// wrapError maps SDK failures onto model.APIError.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &modelpkg.APIError{
			Provider:   provider,
			StatusCode: apiErr.StatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
		}
	}
	return err
}
