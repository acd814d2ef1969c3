// Package event frames chat progress and storage changes as Server-Sent
// Events.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/storage"
)

// Type names an SSE event.
type Type string

const (
	// TypeSnapshot carries an in-progress chat.Snapshot.
	TypeSnapshot Type = "snapshot"
	// TypeDone carries the final chat.Snapshot of a turn.
	TypeDone Type = "done"
	// TypeChange reports a storage key change.
	TypeChange Type = "change"
	// TypeError reports a failure outside the turn itself.
	TypeError Type = "error"
)

var known = map[Type]struct{}{
	TypeSnapshot: {},
	TypeDone:     {},
	TypeChange:   {},
	TypeError:    {},
}

// Event is one pushed frame.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ChatID    string    `json:"chat_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// ChangeData describes a storage change without its payload.
type ChangeData struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
}

// ErrorData is a transport-level failure.
type ErrorData struct {
	Message string `json:"message"`
}

// New fills in ID and Timestamp.
func New(typ Type, chatID string, data any) Event {
	return normalize(Event{Type: typ, ChatID: chatID, Data: data})
}

// FromSnapshot wraps a turn snapshot.
func FromSnapshot(chatID string, snap chat.Snapshot) Event {
	typ := TypeSnapshot
	if snap.Done {
		typ = TypeDone
	}
	return New(typ, chatID, snap)
}

// FromChange wraps a storage change.
func FromChange(c storage.Change) Event {
	return New(TypeChange, "", ChangeData{Key: c.Key, Deleted: c.Deleted})
}

// FromError wraps err.
func FromError(chatID string, err error) Event {
	return New(TypeError, chatID, ErrorData{Message: err.Error()})
}

// Validate checks the event type.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is empty")
	}
	if _, ok := known[e.Type]; !ok {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	return nil
}

func normalize(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}
