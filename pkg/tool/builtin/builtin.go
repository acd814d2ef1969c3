// Package toolbuiltin provides the tools shipped with the chat client.
package toolbuiltin

import "github.com/cexll/chatstream-go/pkg/tool"

// All returns fresh descriptors for every built-in tool.
func All(search *InstantSearchOptions) []*tool.Descriptor {
	return []*tool.Descriptor{
		NewDateTime(nil),
		NewInstantSearch(search),
		NewWebSearch(),
	}
}

// NewRegistry registers every built-in tool.
func NewRegistry(search *InstantSearchOptions) (*tool.Registry, error) {
	return tool.NewRegistry(All(search)...)
}
