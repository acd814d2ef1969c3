package api

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/workspace"
)

var (
	ErrEmptyPrompt    = errors.New("api: prompt is empty")
	ErrTurnInFlight   = errors.New("api: a turn is already running for this chat")
	ErrNothingToRetry = errors.New("api: chat has no user message to regenerate")
	ErrClosed         = errors.New("api: runtime is closed")
)

// SubmitRequest starts a turn. An empty ChatID creates a chat, seeded from
// TemplateID when set.
type SubmitRequest struct {
	ChatID     string `json:"chatId,omitempty"`
	Prompt     string `json:"prompt"`
	TemplateID string `json:"templateId,omitempty"`
}

// Turn is a claimed, not yet finished turn on one chat. Exactly one of
// Snapshots, Run or Cancel must eventually be called to release the chat.
type Turn struct {
	ChatID        string
	UserMessageID string

	rt      *Runtime
	req     chat.TurnRequest
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	release sync.Once
}

// Submit claims the chat and prepares a turn for req.Prompt.
func (rt *Runtime) Submit(ctx context.Context, req SubmitRequest) (*Turn, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if err := rt.ready(); err != nil {
		return nil, err
	}
	chatID := req.ChatID
	if chatID == "" {
		c, err := rt.ws.CreateChat(prompt, req.TemplateID)
		if err != nil {
			return nil, err
		}
		chatID = c.ID
	}
	user := message.Message{ID: rt.opts.IDGenerator(), Role: message.RoleUser, Content: prompt}
	return rt.claim(ctx, chatID, func(c workspace.Chat) (message.Message, []message.Message, error) {
		return user, c.Messages, nil
	})
}

// Regenerate re-runs the turn of userMessageID, or of the last user message
// when it is empty, dropping everything from that message on.
func (rt *Runtime) Regenerate(ctx context.Context, chatID, userMessageID string) (*Turn, error) {
	if err := rt.ready(); err != nil {
		return nil, err
	}
	return rt.claim(ctx, chatID, func(c workspace.Chat) (message.Message, []message.Message, error) {
		id := userMessageID
		if id == "" {
			last, ok := message.LastUser(c.Messages)
			if !ok {
				return message.Message{}, nil, ErrNothingToRetry
			}
			id = last.ID
		}
		user, before, ok := message.TruncateBefore(c.Messages, id)
		if !ok {
			return message.Message{}, nil, fmt.Errorf("%w: %s", ErrNothingToRetry, id)
		}
		return user, before, nil
	})
}

// Cancel stops the running turn of chatID. It reports whether one existed.
func (rt *Runtime) Cancel(chatID string) bool {
	rt.mu.Lock()
	t, ok := rt.inflight[chatID]
	rt.mu.Unlock()
	if ok {
		t.Cancel()
	}
	return ok
}

// Busy reports whether chatID has a turn in flight.
func (rt *Runtime) Busy(chatID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.inflight[chatID]
	return ok
}

// ready rejects selections that cannot start any turn. A missing key is left
// to the orchestrator so the chat records the failure.
func (rt *Runtime) ready() error {
	st := rt.ws.ProviderState()
	err := rt.providers.Problem(st)
	if errors.Is(err, provider.ErrNoAPIKey) && st.ModelID() != "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// prepare derives the user message and the history preceding it from the
// chat as stored.
type prepare func(c workspace.Chat) (user message.Message, history []message.Message, err error)

// claim takes the in-flight slot of chatID and only then reads the chat, so
// the turn starts from whatever the previous turn persisted.
func (rt *Runtime) claim(ctx context.Context, chatID string, build prepare) (*Turn, error) {
	ctx, cancel := context.WithCancel(ctx)
	t := &Turn{ChatID: chatID, rt: rt, ctx: ctx, cancel: cancel}
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if _, busy := rt.inflight[chatID]; busy {
		rt.mu.Unlock()
		cancel()
		return nil, ErrTurnInFlight
	}
	rt.inflight[chatID] = t
	rt.mu.Unlock()

	c, err := rt.ws.Chat(chatID)
	if err != nil {
		t.done()
		return nil, err
	}
	user, history, err := build(c)
	if err != nil {
		t.done()
		return nil, err
	}
	st := rt.ws.ProviderState()
	t.UserMessageID = user.ID
	t.req = chat.TurnRequest{
		User:     user,
		History:  history,
		Provider: rt.providers.Lookup(st.ProviderID),
		Model:    st.ModelID(),
		APIKey:   st.APIKey,
		Settings: rt.ws.Settings(),
		Tools:    rt.ws.EnabledTools(),
	}
	return t, nil
}

func (t *Turn) done() {
	t.release.Do(func() {
		t.cancel()
		t.rt.mu.Lock()
		if t.rt.inflight[t.ChatID] == t {
			delete(t.rt.inflight, t.ChatID)
		}
		t.rt.mu.Unlock()
	})
}

// Snapshots runs the turn. History is persisted to the chat before the Done
// snapshot is yielded. The sequence can be ranged once; breaking out early
// cancels the turn without persisting it.
func (t *Turn) Snapshots() iter.Seq[chat.Snapshot] {
	return func(yield func(chat.Snapshot) bool) {
		if !t.started.CompareAndSwap(false, true) {
			return
		}
		defer t.done()
		log := t.rt.logger.With("chat", t.ChatID)
		for snap := range t.rt.orch.RunTurn(t.ctx, t.req) {
			if snap.Done {
				if _, err := t.rt.ws.SetChatMessages(t.ChatID, snap.History); err != nil {
					log.Warn("persist chat history", "error", err)
				}
				if snap.Message.Aborted {
					log.Info("turn aborted")
				}
			}
			if !yield(snap) {
				return
			}
		}
	}
}

// Run drains the turn and returns its final snapshot.
func (t *Turn) Run() chat.Snapshot {
	var last chat.Snapshot
	for snap := range t.Snapshots() {
		last = snap
	}
	return last
}

// Cancel stops the turn. A turn that was never started is released.
func (t *Turn) Cancel() {
	t.cancel()
	if !t.started.Load() {
		t.done()
	}
}
