package workspace

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cexll/chatstream-go/pkg/message"
)

const titleLimit = 65

// Chat is one stored conversation. Timestamps are Unix milliseconds.
type Chat struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Created    int64             `json:"created"`
	Updated    int64             `json:"updated"`
	Messages   []message.Message `json:"messages"`
	TemplateID string            `json:"templateId,omitempty"`
}

// Title shortens a prompt into a chat title.
func Title(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= titleLimit {
		return prompt
	}
	return string(runes[:titleLimit]) + " ..."
}

func sortChats(chats []Chat) {
	slices.SortStableFunc(chats, func(a, b Chat) int {
		switch {
		case a.Updated > b.Updated:
			return -1
		case a.Updated < b.Updated:
			return 1
		default:
			return 0
		}
	})
}

// Chats returns all chats, most recently updated first.
func (w *Workspace) Chats() []Chat {
	chats := w.chats.Get()
	sortChats(chats)
	return chats
}

// Chat looks a chat up by id.
func (w *Workspace) Chat(id string) (Chat, error) {
	for _, c := range w.chats.Get() {
		if c.ID == id {
			return c, nil
		}
	}
	return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, id)
}

// CreateChat starts a chat titled after prompt. When templateID is set the
// template's system prompt seeds the conversation with the first {date}
// replaced by the current time.
func (w *Workspace) CreateChat(prompt, templateID string) (Chat, error) {
	now := w.now()
	c := Chat{
		ID:         w.newID(),
		Title:      Title(prompt),
		Created:    now.UnixMilli(),
		Updated:    now.UnixMilli(),
		Messages:   []message.Message{},
		TemplateID: templateID,
	}
	if templateID != "" {
		tpl, err := w.Template(templateID)
		if err != nil {
			return Chat{}, err
		}
		system := strings.Replace(tpl.System, "{date}", now.UTC().Format("2006-01-02T15:04:05.000Z07:00"), 1)
		c.Messages = append(c.Messages, message.Message{ID: w.newID(), Role: message.RoleSystem, Content: system})
	}
	_, err := w.chats.Update(func(chats []Chat) ([]Chat, error) {
		chats = append(chats, c)
		sortChats(chats)
		return chats, nil
	})
	if err != nil {
		return Chat{}, err
	}
	return c, nil
}

// UpdateChat applies fn to the chat and bumps its updated time. The id
// cannot change.
func (w *Workspace) UpdateChat(id string, fn func(Chat) Chat) (Chat, error) {
	var updated Chat
	_, err := w.chats.Update(func(chats []Chat) ([]Chat, error) {
		i := slices.IndexFunc(chats, func(c Chat) bool { return c.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		next := fn(chats[i])
		next.ID = id
		next.Updated = max(w.now().UnixMilli(), chats[i].Updated)
		if next.Messages == nil {
			next.Messages = []message.Message{}
		}
		chats[i] = next
		updated = next
		sortChats(chats)
		return chats, nil
	})
	if err != nil {
		return Chat{}, err
	}
	return updated, nil
}

// SetChatMessages replaces the chat's messages.
func (w *Workspace) SetChatMessages(id string, messages []message.Message) (Chat, error) {
	return w.UpdateChat(id, func(c Chat) Chat {
		c.Messages = message.CloneHistory(messages)
		return c
	})
}

// DeleteChat removes a chat. Deleting a missing chat is a no-op.
func (w *Workspace) DeleteChat(id string) error {
	_, err := w.chats.Update(func(chats []Chat) ([]Chat, error) {
		return slices.DeleteFunc(chats, func(c Chat) bool { return c.ID == id }), nil
	})
	return err
}
