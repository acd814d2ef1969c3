package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/telemetry"
	"github.com/cexll/chatstream-go/pkg/tool"
)

// errHalted signals that the consumer stopped ranging over the turn.
var errHalted = errors.New("chat: consumer stopped")

const errorTemplate = "#### An error has occurred during chat completions:\n```\n%s\n```"

type callState int

const (
	callPending callState = iota
	callCompleted
	callSkipped
)

// queuedCall is one tool call requested during the turn plus the position
// of its copy inside the synthetic assistant message in history.
type queuedCall struct {
	call      message.ToolCall
	state     callState
	msgIndex  int
	callIndex int
}

type turn struct {
	o         *Orchestrator
	req       TurnRequest
	tools     []*tool.Descriptor
	maxIter   int
	history   []message.Message
	assistant message.Message
	queue     []*queuedCall
	transport model.Transport
	err       error
	finalized bool
	started   atomic.Bool
	yield     func(Snapshot) bool
	logger    *slog.Logger
}

func (o *Orchestrator) newTurn(req TurnRequest) *turn {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = o.maxIterations
	}
	user := req.User
	if user.ID == "" {
		user.ID = o.newID()
	}
	if user.Role == "" {
		user.Role = message.RoleUser
	}
	req.User = user
	history := append(message.CloneHistory(req.History), user.Clone())
	return &turn{
		o:         o,
		req:       req,
		tools:     o.tools.Resolve(req.Tools),
		maxIter:   maxIter,
		history:   history,
		assistant: message.Message{ID: o.newID(), Role: message.RoleAssistant, UserMessageID: user.ID},
		logger:    o.logger.With("provider", req.Provider.ID, "model", req.Model),
	}
}

func (t *turn) snapshot(done bool) Snapshot {
	return Snapshot{History: message.CloneHistory(t.history), Message: t.assistant.Clone(), Done: done}
}

// emit reports progress and returns false once the consumer has stopped.
func (t *turn) emit() bool {
	return t.yield(t.snapshot(false))
}

func (t *turn) run(ctx context.Context, yield func(Snapshot) bool) {
	t.yield = yield
	ctx, span := telemetry.StartSpan(ctx, "chat.turn",
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("chat.provider", t.req.Provider.ID),
			attribute.String("chat.model", t.req.Model),
			attribute.Int("chat.tools", len(t.tools)),
			attribute.Int("chat.max_iterations", t.maxIter),
		)...),
	)
	defer func() { telemetry.EndSpan(span, t.err) }()

	if !t.emit() {
		return
	}

	pause := t.o.retry.backOff()
	for i := 0; i < t.maxIter; i++ {
		if ctx.Err() != nil {
			break
		}
		if t.err != nil {
			d := pause.NextBackOff()
			if d == backoff.Stop {
				break
			}
			sleep(ctx, d)
			if ctx.Err() != nil {
				break
			}
		}
		finished, err := t.attempt(ctx)
		if errors.Is(err, errHalted) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.err = err
			if model.IsRateLimited(err) {
				t.logger.Error("chat completion rate limited", "attempt", i+1, "error", err)
				break
			}
			t.logger.Warn("chat completion attempt failed", "attempt", i+1, "max", t.maxIter, "error", err)
			continue
		}
		t.err = nil
		pause.Reset()
		if finished {
			break
		}
	}

	t.finalize(ctx)
	t.yield(t.snapshot(true))
}

// finalize appends the assistant message and any pending error exactly once.
func (t *turn) finalize(ctx context.Context) {
	if t.finalized {
		return
	}
	t.finalized = true
	if ctx.Err() != nil {
		t.assistant.Aborted = true
	}
	t.history = append(t.history, t.assistant.Clone())
	if t.err != nil {
		t.history = append(t.history, message.Message{
			ID:            t.o.newID(),
			Role:          message.RoleAssistant,
			Content:       fmt.Sprintf(errorTemplate, t.err.Error()),
			Error:         true,
			UserMessageID: t.req.User.ID,
		})
	}
}

func (t *turn) pending() []*queuedCall {
	var out []*queuedCall
	for _, q := range t.queue {
		if q.state == callPending {
			out = append(out, q)
		}
	}
	return out
}

// attempt performs one request and runs the tools it asked for. finished
// reports that the model stopped without requesting more tools.
func (t *turn) attempt(ctx context.Context) (finished bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "chat.completion", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if errors.Is(err, errHalted) {
			telemetry.EndSpan(span, nil)
			return
		}
		telemetry.EndSpan(span, err)
	}()

	if t.req.Provider.RequiresAPIKey && strings.TrimSpace(t.req.APIKey) == "" {
		return false, ErrMissingAPIKey
	}
	if t.transport == nil {
		transport, err := t.o.dialer.Dial(t.req.Provider, t.req.APIKey)
		if err != nil {
			return false, fmt.Errorf("dial %s: %w", t.req.Provider.ID, err)
		}
		t.transport = transport
	}

	messages, err := message.ToProvider(t.history)
	if err != nil {
		return false, err
	}
	temp := t.req.Settings.Temperature
	req := model.CompletionRequest{
		Model:       t.req.Model,
		Messages:    messages,
		Temperature: &temp,
		Tools:       tool.Declarations(t.tools),
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = model.ToolChoiceAuto
		req.ParallelToolCalls = false
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	base := len(t.queue)
	var content strings.Builder
	byIndex := map[int]*queuedCall{}
	streamErr := t.transport.StreamCompletion(ctx, req, func(chunk model.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk.Text != "" {
			t.assistant.Content += chunk.Text
			content.WriteString(chunk.Text)
			if !t.emit() {
				return errHalted
			}
		}
		for _, delta := range chunk.ToolCalls {
			t.accumulate(byIndex, delta)
		}
		return nil
	})
	if streamErr != nil {
		t.queue = t.queue[:base]
		return false, streamErr
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	requested := t.queue[base:]
	if len(requested) == 0 {
		return true, nil
	}

	synthetic := message.Message{
		ID:            t.o.newID(),
		Role:          message.RoleAssistant,
		Content:       content.String(),
		UserMessageID: t.req.User.ID,
		ToolCalls:     make([]message.ToolCall, len(requested)),
	}
	msgIndex := len(t.history)
	for i, q := range requested {
		synthetic.ToolCalls[i] = q.call
		q.msgIndex, q.callIndex = msgIndex, i
	}
	t.history = append(t.history, synthetic)

	if err := t.runTools(ctx); err != nil {
		return false, err
	}
	return t.allSkipped(requested), nil
}

// allSkipped reports whether none of calls produced a result, in which case
// the model has nothing new to react to.
func (t *turn) allSkipped(calls []*queuedCall) bool {
	for _, q := range calls {
		if q.state != callSkipped {
			return false
		}
	}
	return true
}

func (t *turn) accumulate(byIndex map[int]*queuedCall, delta model.ToolCallDelta) {
	var q *queuedCall
	if delta.Index != nil {
		q = byIndex[*delta.Index]
	}
	if q == nil {
		q = &queuedCall{}
		t.queue = append(t.queue, q)
		if delta.Index != nil {
			byIndex[*delta.Index] = q
		}
	}
	if delta.ID != "" {
		q.call.ID = delta.ID
	}
	q.call.Name += delta.Name
	q.call.Arguments += delta.Arguments
}

// runTools executes pending calls in request order. A failed action skips
// its call and the remaining calls still run; the failures are returned
// together once all calls were tried.
func (t *turn) runTools(ctx context.Context) error {
	var failed []error
	for _, q := range t.pending() {
		if err := ctx.Err(); err != nil {
			return err
		}
		desc, ok := tool.Find(t.tools, q.call.Name)
		if !ok {
			q.state = callSkipped
			continue
		}
		v := desc.Validate(q.call.Arguments)
		if !v.OK {
			t.logger.Warn("skipping tool call with invalid arguments", "tool", q.call.Name, "call_id", q.call.ID, "reason", v.Reason)
			q.state = callSkipped
			continue
		}
		result, err := t.execute(ctx, desc, q, v.Input)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var content string
		if err == nil {
			content, err = tool.FormatResult(result)
		}
		if err != nil {
			t.logger.Warn("tool action failed", "tool", q.call.Name, "call_id", q.call.ID, "error", err)
			q.state = callSkipped
			failed = append(failed, fmt.Errorf("tool %s: %w", q.call.Name, err))
			continue
		}
		t.history = append(t.history, message.Message{
			ID:            t.o.newID(),
			Role:          message.RoleTool,
			Content:       content,
			ToolCallID:    q.call.ID,
			UserMessageID: t.req.User.ID,
		})
		q.state = callCompleted
		q.call.Completed = true
		if q.msgIndex < len(t.history) && q.callIndex < len(t.history[q.msgIndex].ToolCalls) {
			t.history[q.msgIndex].ToolCalls[q.callIndex].Completed = true
		}
		if !t.emit() {
			return errHalted
		}
	}
	return errors.Join(failed...)
}

func (t *turn) execute(ctx context.Context, desc *tool.Descriptor, q *queuedCall, input map[string]any) (_ any, err error) {
	ctx, span := telemetry.StartSpan(ctx, "chat.tool", trace.WithAttributes(
		attribute.String("tool.name", desc.Name),
		attribute.String("tool.call_id", q.call.ID),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	return desc.Execute(ctx, tool.Call{
		ID:        q.call.ID,
		Input:     input,
		Assistant: t.assistant.Clone(),
		History:   message.CloneHistory(t.history),
	})
}
