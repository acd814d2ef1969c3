package workspace

import (
	"fmt"
	"slices"
	"strings"
)

// Template seeds new chats with a system prompt. A {date} placeholder in
// System is filled in when the chat is created.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Preset      bool   `json:"preset,omitempty"`
	System      string `json:"system"`
}

// TemplateEdit lists the fields to change; nil fields are kept.
type TemplateEdit struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	System      *string `json:"system,omitempty"`
}

var presets = []Template{
	{
		ID:          "code_buddy",
		Name:        "Code Buddy",
		Description: "Coding assistant",
		Preset:      true,
		System: "You are Code Buddy, a programming assistant. Answer with working code first and " +
			"keep explanations short. Point out bugs and edge cases you notice in the user's code. " +
			"Use fenced code blocks with a language tag. Current date: {date}.",
	},
	{
		ID:          "resume_builder",
		Name:        "Resume Builder",
		Description: "Resume writing & optimization",
		Preset:      true,
		System: "You help people write and improve resumes. Ask about the target role when it is " +
			"not given, rewrite bullet points around measurable results and keep the tone factual. " +
			"Format answers in Markdown. Current date: {date}.",
	},
	{
		ID:          "git_assistant",
		Name:        "Git Assistant",
		Description: "AI assistant with expert knowledge of Git",
		Preset:      true,
		System: "You are an expert in Git. Give the exact commands for what the user wants to do, " +
			"explain what each one changes and warn before anything that rewrites history or " +
			"discards work. Current date: {date}.",
	},
}

// Presets returns the built-in templates.
func Presets() []Template { return slices.Clone(presets) }

func isPreset(id string) bool {
	return slices.ContainsFunc(presets, func(t Template) bool { return t.ID == id })
}

// Templates returns the presets followed by custom templates.
func (w *Workspace) Templates() []Template {
	return append(Presets(), w.templates.Get()...)
}

// Template looks a preset or custom template up by id.
func (w *Workspace) Template(id string) (Template, error) {
	for _, t := range w.Templates() {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// CreateTemplate stores a custom template.
func (w *Workspace) CreateTemplate(name, description, system string) (Template, error) {
	if strings.TrimSpace(name) == "" {
		return Template{}, ErrEmptyName
	}
	t := Template{ID: w.newID(), Name: name, Description: description, System: system}
	_, err := w.templates.Update(func(cur []Template) ([]Template, error) {
		return append(cur, t), nil
	})
	if err != nil {
		return Template{}, err
	}
	return t, nil
}

// EditTemplate changes a custom template.
func (w *Workspace) EditTemplate(id string, edit TemplateEdit) (Template, error) {
	if isPreset(id) {
		return Template{}, ErrPresetTemplate
	}
	if edit.Name != nil && strings.TrimSpace(*edit.Name) == "" {
		return Template{}, ErrEmptyName
	}
	var out Template
	_, err := w.templates.Update(func(cur []Template) ([]Template, error) {
		i := slices.IndexFunc(cur, func(t Template) bool { return t.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		if edit.Name != nil {
			cur[i].Name = *edit.Name
		}
		if edit.Description != nil {
			cur[i].Description = *edit.Description
		}
		if edit.System != nil {
			cur[i].System = *edit.System
		}
		out = cur[i]
		return cur, nil
	})
	if err != nil {
		return Template{}, err
	}
	return out, nil
}

// DeleteTemplate removes a custom template.
func (w *Workspace) DeleteTemplate(id string) error {
	if isPreset(id) {
		return ErrPresetTemplate
	}
	_, err := w.templates.Update(func(cur []Template) ([]Template, error) {
		i := slices.IndexFunc(cur, func(t Template) bool { return t.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return slices.Delete(cur, i, i+1), nil
	})
	return err
}
