package model

import "strings"

// Descriptor is a raw model entry as returned by a provider's model listing.
// Providers disagree on field names, so every known spelling is captured.
type Descriptor struct {
	ID            string        `json:"id,omitempty"`
	Slug          string        `json:"slug,omitempty"`
	CanonicalSlug string        `json:"canonical_slug,omitempty"`
	Name          string        `json:"name,omitempty"`
	DisplayName   string        `json:"display_name,omitempty"`
	Object        string        `json:"object,omitempty"`
	Created       int64         `json:"created,omitempty"`
	OwnedBy       string        `json:"owned_by,omitempty"`
	OwnedByAlt    string        `json:"ownedBy,omitempty"`
	Description   string        `json:"description,omitempty"`
	Active        *bool         `json:"active,omitempty"`
	Architecture  *Architecture `json:"architecture,omitempty"`
}

// Architecture lists declared model capabilities. A nil OutputModalities
// means the provider did not declare any.
type Architecture struct {
	OutputModalities []string `json:"output_modalities"`
}

// ChatModel is the canonical model shape used by callers.
type ChatModel struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Object      string `json:"object"`
	Created     int64  `json:"created,omitempty"`
	OwnedBy     string `json:"ownedBy"`
	Description string `json:"description"`
}

var excludedMarkers = []string{"embedding", "fine-tune", "-exp"}

// IsChatCapable reports whether a listed model can serve chat completions.
func IsChatCapable(d Descriptor) bool {
	fields := []string{d.ID, firstNonEmpty(d.Name, d.DisplayName), firstNonEmpty(d.Slug, d.CanonicalSlug)}
	for _, marker := range excludedMarkers {
		for _, field := range fields {
			if field != "" && strings.Contains(strings.ToLower(field), marker) {
				return false
			}
		}
	}
	if d.Active != nil && !*d.Active {
		return false
	}
	if d.Architecture != nil && d.Architecture.OutputModalities != nil {
		for _, modality := range d.Architecture.OutputModalities {
			if modality == "text" {
				return true
			}
		}
		return false
	}
	return true
}

// Normalize maps a descriptor onto the canonical ChatModel shape.
func Normalize(d Descriptor) ChatModel {
	return ChatModel{
		ID:          firstNonEmpty(d.ID, d.Slug, d.CanonicalSlug),
		Name:        firstNonEmpty(d.Name, d.DisplayName),
		Object:      d.Object,
		Created:     d.Created,
		OwnedBy:     firstNonEmpty(d.OwnedBy, d.OwnedByAlt),
		Description: d.Description,
	}
}

// FilterChatModels keeps chat-capable descriptors and normalizes them,
// preserving input order.
func FilterChatModels(descriptors []Descriptor) []ChatModel {
	out := make([]ChatModel, 0, len(descriptors))
	for _, d := range descriptors {
		if IsChatCapable(d) {
			out = append(out, Normalize(d))
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
