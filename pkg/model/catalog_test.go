package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestIsChatCapable(t *testing.T) {
	tests := []struct {
		name string
		in   Descriptor
		want bool
	}{
		{name: "plain chat model", in: Descriptor{ID: "gpt-x"}, want: true},
		{name: "embedding id", in: Descriptor{ID: "text-embedding-3"}},
		{name: "experimental id", in: Descriptor{ID: "gpt-x-exp"}},
		{name: "inactive", in: Descriptor{ID: "gpt-y", Active: boolPtr(false)}},
		{name: "explicitly active", in: Descriptor{ID: "gpt-y", Active: boolPtr(true)}, want: true},
		{name: "fine-tune display name", in: Descriptor{ID: "m1", DisplayName: "My Fine-Tune"}},
		{name: "embedding canonical slug", in: Descriptor{ID: "m2", CanonicalSlug: "vendor/EMBEDDING-large"}},
		{name: "name wins over display name", in: Descriptor{ID: "m3", Name: "Chat", DisplayName: "embedding"}, want: true},
		{name: "image only output", in: Descriptor{ID: "img", Architecture: &Architecture{OutputModalities: []string{"image"}}}},
		{name: "declared empty modalities", in: Descriptor{ID: "none", Architecture: &Architecture{OutputModalities: []string{}}}},
		{name: "text among modalities", in: Descriptor{ID: "mm", Architecture: &Architecture{OutputModalities: []string{"image", "text"}}}, want: true},
		{name: "architecture without modalities", in: Descriptor{ID: "arch", Architecture: &Architecture{}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsChatCapable(tt.in); got != tt.want {
				t.Fatalf("IsChatCapable(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterChatModelsKeepsOrder(t *testing.T) {
	raw := `[
		{"id":"gpt-x","object":"model","owned_by":"openai","created":10},
		{"id":"text-embedding-3"},
		{"id":"gpt-x-exp"},
		{"id":"gpt-y","active":false},
		{"slug":"vendor/chat","display_name":"Vendor Chat","ownedBy":"vendor","description":"fast","architecture":{"output_modalities":["text"]}},
		{"id":"b-model","name":"B"}
	]`
	var in []Descriptor
	require.NoError(t, json.Unmarshal([]byte(raw), &in))

	got := FilterChatModels(in)
	require.Equal(t, []ChatModel{
		{ID: "gpt-x", Object: "model", Created: 10, OwnedBy: "openai"},
		{ID: "vendor/chat", Name: "Vendor Chat", OwnedBy: "vendor", Description: "fast"},
		{ID: "b-model", Name: "B"},
	}, got)
}

func TestFilterChatModelsEmpty(t *testing.T) {
	got := FilterChatModels(nil)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestNormalizeFallbacks(t *testing.T) {
	got := Normalize(Descriptor{CanonicalSlug: "c/slug", DisplayName: "Display", OwnedByAlt: "alt"})
	require.Equal(t, "c/slug", got.ID)
	require.Equal(t, "Display", got.Name)
	require.Equal(t, "alt", got.OwnedBy)
	require.Equal(t, "", got.Description)
}
