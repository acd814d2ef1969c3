package model

import "context"

// Transport describes the provider surface the chat loop depends on. The
// credential is bound when the transport is constructed; cancellation is
// carried by the context.
type Transport interface {
	ListModels(ctx context.Context) ([]Descriptor, error)
	StreamCompletion(ctx context.Context, req CompletionRequest, cb StreamCallback) error
}

// StreamCallback consumes incremental output produced by StreamCompletion.
// Returning an error stops the stream and is propagated to the caller.
type StreamCallback func(Chunk) error

// Chunk is one decoded stream event. Either Text, ToolCalls or both may be
// empty.
type Chunk struct {
	Text      string
	ToolCalls []ToolCallDelta
}

// ToolCallDelta is a fragment of a tool call. Index is the position of the
// call inside the provider's reply; nil means the provider did not send one.
type ToolCallDelta struct {
	Index     *int
	ID        string
	Name      string
	Arguments string
}

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

// CompletionRequest is the provider-neutral streaming completion payload.
type CompletionRequest struct {
	Model             string
	Messages          []Message
	Temperature       *float64
	Tools             []ToolDeclaration
	ToolChoice        string
	ParallelToolCalls bool
}

// Message is the wire view of a conversation entry. Content is nil when the
// provider protocol expects null (assistant turns that only call tools).
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation previously requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDeclaration renders one tool for a completion request. Native is set
// for provider-side capabilities (for example "web_search") and replaces the
// function declaration.
type ToolDeclaration struct {
	Native   string               `json:"native,omitempty"`
	Function *FunctionDeclaration `json:"function,omitempty"`
}

// FunctionDeclaration is a JSON-schema described function.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
