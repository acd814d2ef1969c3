// Package message defines the conversation entries exchanged between the chat
// loop, its callers and provider transports.
package message

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cexll/chatstream-go/pkg/model"
)

// Role tags the variant of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleDeveloper Role = "developer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleDeveloper:
		return true
	default:
		return false
	}
}

// Source is a citation attached to a message.
type Source struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Favicon string `json:"favicon,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments grows as
// streamed fragments arrive until Completed is set.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Completed bool   `json:"completed,omitempty"`
}

// Message is a single conversation entry. Which fields are meaningful
// depends on Role: ToolCalls only on assistant messages, ToolCallID only on
// tool messages, UserMessageID on assistant, tool and developer messages.
// An empty Content on an assistant message carrying tool calls is sent to
// providers as null.
type Message struct {
	ID            string     `json:"id"`
	Role          Role       `json:"role"`
	Content       string     `json:"content"`
	Error         bool       `json:"error,omitempty"`
	Aborted       bool       `json:"aborted,omitempty"`
	Sources       []Source   `json:"sources,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID    string     `json:"tool_call_id,omitempty"`
	UserMessageID string     `json:"userMessageId,omitempty"`
}

// NewID returns a fresh message identifier.
func NewID() string { return uuid.NewString() }

// NewSystem builds a system message.
func NewSystem(content string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Content: content}
}

// NewUser builds a user message.
func NewUser(content string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: content}
}

// NewAssistant builds an empty assistant reply bound to the user message
// that triggered it.
func NewAssistant(userMessageID string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, UserMessageID: userMessageID}
}

// NewToolResult builds the tool message answering callID.
func NewToolResult(callID, content, userMessageID string) Message {
	return Message{ID: NewID(), Role: RoleTool, Content: content, ToolCallID: callID, UserMessageID: userMessageID}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// ToProvider returns the provider wire view of m. Only fields defined by the
// provider protocol for the message's role are copied.
func (m Message) ToProvider() (model.Message, error) {
	switch m.Role {
	case RoleSystem, RoleUser, RoleDeveloper:
		return model.Message{Role: string(m.Role), Content: model.StringPtr(m.Content)}, nil
	case RoleAssistant:
		out := model.Message{Role: string(m.Role)}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			out.Content = model.StringPtr(m.Content)
		}
		if len(m.ToolCalls) > 0 {
			out.ToolCalls = make([]model.ToolCall, len(m.ToolCalls))
			for i, call := range m.ToolCalls {
				out.ToolCalls[i] = model.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
			}
		}
		return out, nil
	case RoleTool:
		return model.Message{Role: string(m.Role), Content: model.StringPtr(m.Content), ToolCallID: m.ToolCallID}, nil
	default:
		return model.Message{}, fmt.Errorf("message: unknown role %q", m.Role)
	}
}
