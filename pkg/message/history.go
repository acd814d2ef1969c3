package message

import "github.com/cexll/chatstream-go/pkg/model"

// CloneHistory deep-copies a conversation.
func CloneHistory(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}

// ToProvider strips bookkeeping fields from every message in history.
// Providers reject tool calls that no tool message answers, so unanswered
// calls are left out of the wire view. An assistant message left with
// neither calls nor content is dropped.
func ToProvider(history []Message) ([]model.Message, error) {
	answered := make(map[string]struct{})
	for _, m := range history {
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}
	out := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			calls := make([]ToolCall, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				if _, ok := answered[c.ID]; ok {
					calls = append(calls, c)
				}
			}
			if len(calls) == 0 && m.Content == "" {
				continue
			}
			m.ToolCalls = calls
		}
		wire, err := m.ToProvider()
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

// TruncateBefore locates the user message with the given id and returns it
// together with the history preceding it. ok is false when no such user
// message exists.
func TruncateBefore(history []Message, userMessageID string) (user Message, before []Message, ok bool) {
	if userMessageID == "" {
		return Message{}, nil, false
	}
	for i, m := range history {
		if m.ID == userMessageID && m.Role == RoleUser {
			return m.Clone(), CloneHistory(history[:i]), true
		}
	}
	return Message{}, nil, false
}

// LastUser returns the most recent user message in history.
func LastUser(history []Message) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i], true
		}
	}
	return Message{}, false
}
