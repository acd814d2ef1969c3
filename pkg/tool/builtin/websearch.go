package toolbuiltin

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/cexll/chatstream-go/pkg/tool"
)

// WebSearchToolName is answered by the provider's own search capability.
const WebSearchToolName = "web_search"

// NewWebSearch builds the provider-native web search marker. The action
// never runs a search itself.
func NewWebSearch() *tool.Descriptor {
	return &tool.Descriptor{
		Name:        WebSearchToolName,
		Title:       "Web Search",
		Description: "Search the web for current information, news, or facts. Use this when you need up-to-date information that may have changed recently.",
		Schema:      &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
		Native:      tool.NativeWebSearch,
		Action: func(context.Context, tool.Call) (any, error) {
			return "", nil
		},
	}
}
