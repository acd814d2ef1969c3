package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"

	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/model/demo"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/tool"
)

// reply is one scripted provider answer.
type reply struct {
	chunks []model.Chunk
	err    error
}

type scriptedTransport struct {
	mu       sync.Mutex
	replies  []reply
	requests []model.CompletionRequest
}

func (s *scriptedTransport) ListModels(context.Context) ([]model.Descriptor, error) {
	return nil, nil
}

func (s *scriptedTransport) StreamCompletion(ctx context.Context, req model.CompletionRequest, cb model.StreamCallback) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	for _, c := range r.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cb(c); err != nil {
			return err
		}
	}
	return r.err
}

func (s *scriptedTransport) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textReply(parts ...string) reply {
	r := reply{}
	for _, p := range parts {
		r.chunks = append(r.chunks, model.Chunk{Text: p})
	}
	return r
}

func idx(i int) *int { return &i }

func toolReply(id, name string, argParts ...string) reply {
	r := reply{chunks: []model.Chunk{{ToolCalls: []model.ToolCallDelta{{Index: idx(0), ID: id, Name: name}}}}}
	for _, a := range argParts {
		r.chunks = append(r.chunks, model.Chunk{ToolCalls: []model.ToolCallDelta{{Index: idx(0), Arguments: a}}})
	}
	return r
}

var testProvider = provider.Provider{ID: "test", Label: "Test", Kind: provider.KindOpenAI}

func newOrchestrator(t *testing.T, tr model.Transport, tools ...*tool.Descriptor) *Orchestrator {
	t.Helper()
	reg, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	o, err := New(DialerFunc(func(provider.Provider, string) (model.Transport, error) { return tr, nil }), reg,
		WithRetryPolicy(NoRetryDelay()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return o
}

func request(content string, tools ...string) TurnRequest {
	return TurnRequest{
		User:     message.NewUser(content),
		History:  []message.Message{message.NewSystem("You are terse.")},
		Provider: testProvider,
		Model:    "m",
		Settings: DefaultSettings(),
		Tools:    tools,
	}
}

func collect(seq func(func(Snapshot) bool)) []Snapshot {
	var out []Snapshot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

func assertSingleDone(t *testing.T, snaps []Snapshot) {
	t.Helper()
	require.NotEmpty(t, snaps)
	for i, s := range snaps {
		if s.Done != (i == len(snaps)-1) {
			t.Fatalf("snapshot %d done=%v of %d", i, s.Done, len(snaps))
		}
	}
}

func clockTool(calls *[]tool.Call) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        "clock",
		Description: "current time in a zone",
		Schema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"tz": {Type: "string"}},
			Required:   []string{"tz"},
		},
		Action: func(_ context.Context, call tool.Call) (any, error) {
			if calls != nil {
				*calls = append(*calls, call)
			}
			return map[string]any{"tz": call.Input["tz"], "time": "12:00"}, nil
		},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	reg, _ := tool.NewRegistry()
	_, err := New(nil, reg)
	require.ErrorIs(t, err, ErrNilDialer)
	_, err = New(DialerFunc(func(provider.Provider, string) (model.Transport, error) { return nil, nil }), nil)
	require.ErrorIs(t, err, ErrNilRegistry)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
	require.NoError(t, Settings{Temperature: 1}.Validate())
	require.Error(t, Settings{Temperature: 1.2}.Validate())
	require.Error(t, Settings{Temperature: -0.1}.Validate())
}

func TestTextTurnSnapshotOrdering(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("Hel", "lo", " there")}}
	o := newOrchestrator(t, tr)
	req := request("hi")

	snaps := collect(o.RunTurn(context.Background(), req))
	assertSingleDone(t, snaps)
	require.Len(t, snaps, 5)

	first := snaps[0]
	require.Len(t, first.History, 2)
	require.Equal(t, req.User.ID, first.History[1].ID)
	require.Equal(t, "", first.Message.Content)

	prev := -1
	for _, s := range snaps {
		require.Equal(t, first.Message.ID, s.Message.ID, "assistant id must be stable")
		require.GreaterOrEqual(t, len(s.Message.Content), prev)
		prev = len(s.Message.Content)
	}

	final := snaps[len(snaps)-1]
	require.Equal(t, "Hello there", final.Message.Content)
	require.Len(t, final.History, 3)
	last := final.History[2]
	require.Equal(t, message.RoleAssistant, last.Role)
	require.Equal(t, "Hello there", last.Content)
	require.Equal(t, req.User.ID, last.UserMessageID)
	require.False(t, last.Aborted)

	require.Len(t, tr.requests, 1)
	sent := tr.requests[0]
	require.Equal(t, "m", sent.Model)
	require.InDelta(t, 0.5, *sent.Temperature, 1e-9)
	require.Nil(t, sent.Tools)
	require.Equal(t, "", sent.ToolChoice)
	require.Len(t, sent.Messages, 2)
	require.Equal(t, "system", sent.Messages[0].Role)
	require.Equal(t, "hi", *sent.Messages[1].Content)
}

func TestSnapshotsAreIndependentCopies(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("a", "b")}}
	o := newOrchestrator(t, tr)
	snaps := collect(o.RunTurn(context.Background(), request("hi")))
	snaps[1].History[0].Content = "mutated"
	snaps[1].Message.Content = "mutated"
	final := snaps[len(snaps)-1]
	require.Equal(t, "You are terse.", final.History[0].Content)
	require.Equal(t, "ab", final.Message.Content)
}

func TestRunTurnIsNotRestartable(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("once"), textReply("twice")}}
	o := newOrchestrator(t, tr)
	seq := o.RunTurn(context.Background(), request("hi"))
	require.NotEmpty(t, collect(seq))
	require.Empty(t, collect(seq))
	require.Equal(t, 1, tr.requestCount())
}

func TestBreakingOutStopsTurn(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("a", "b", "c", "d")}}
	o := newOrchestrator(t, tr)
	var seen []Snapshot
	for s := range o.RunTurn(context.Background(), request("hi")) {
		seen = append(seen, s)
		if s.Message.Content == "ab" {
			break
		}
	}
	require.Len(t, seen, 3)
	for _, s := range seen {
		require.False(t, s.Done)
	}
}

func TestCancellationMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &scriptedTransport{replies: []reply{textReply("one ", "two ", "three ", "four")}}
	o := newOrchestrator(t, tr)

	var snaps []Snapshot
	for s := range o.RunTurn(ctx, request("count")) {
		snaps = append(snaps, s)
		if s.Message.Content == "one two " {
			cancel()
		}
	}
	assertSingleDone(t, snaps)
	final := snaps[len(snaps)-1]
	require.True(t, final.Message.Aborted)
	require.Equal(t, "one two ", final.Message.Content)
	last := final.History[len(final.History)-1]
	require.True(t, last.Aborted)
	require.False(t, last.Error, "cancellation is not an error")
	require.Equal(t, 1, tr.requestCount())
}

func TestCancelledBeforeRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &scriptedTransport{replies: []reply{textReply("never")}}
	o := newOrchestrator(t, tr)
	final := o.Run(ctx, request("hi"))
	require.True(t, final.Done)
	require.True(t, final.Message.Aborted)
	require.Equal(t, 0, tr.requestCount())
	require.Len(t, final.History, 3)
}

func TestToolRoundTrip(t *testing.T) {
	var calls []tool.Call
	tr := &scriptedTransport{replies: []reply{
		toolReply("call_1", "clock", `{"tz":`, `"UTC"}`),
		textReply("It is ", "noon."),
	}}
	o := newOrchestrator(t, tr, clockTool(&calls))
	req := request("what time is it?", "clock")

	snaps := collect(o.RunTurn(context.Background(), req))
	assertSingleDone(t, snaps)
	final := snaps[len(snaps)-1]

	roles := make([]message.Role, len(final.History))
	for i, m := range final.History {
		roles[i] = m.Role
	}
	require.Equal(t, []message.Role{
		message.RoleSystem, message.RoleUser, message.RoleAssistant, message.RoleTool, message.RoleAssistant,
	}, roles)

	synthetic := final.History[2]
	require.Len(t, synthetic.ToolCalls, 1)
	require.Equal(t, "call_1", synthetic.ToolCalls[0].ID)
	require.Equal(t, "clock", synthetic.ToolCalls[0].Name)
	require.Equal(t, `{"tz":"UTC"}`, synthetic.ToolCalls[0].Arguments)
	require.True(t, synthetic.ToolCalls[0].Completed)

	result := final.History[3]
	require.Equal(t, "call_1", result.ToolCallID)
	require.JSONEq(t, `{"tz":"UTC","time":"12:00"}`, result.Content)
	require.Equal(t, req.User.ID, result.UserMessageID)

	require.Equal(t, "It is noon.", final.History[4].Content)
	require.Equal(t, final.Message.ID, final.History[4].ID)

	require.Len(t, calls, 1)
	require.Equal(t, "UTC", calls[0].Input["tz"])
	require.Len(t, calls[0].History, 3)

	require.Len(t, tr.requests, 2)
	first := tr.requests[0]
	require.Len(t, first.Tools, 1)
	require.Equal(t, model.ToolChoiceAuto, first.ToolChoice)
	require.False(t, first.ParallelToolCalls)
	second := tr.requests[1]
	require.Len(t, second.Messages, 4)
	require.Nil(t, second.Messages[2].Content, "tool-only assistant turn sends null content")
	require.Equal(t, "call_1", second.Messages[3].ToolCallID)

	toolSnaps := 0
	for _, s := range snaps {
		if !s.Done && len(s.History) == 4 && s.Message.Content == "" {
			toolSnaps++
		}
	}
	require.Equal(t, 1, toolSnaps, "one snapshot after the tool result")
}

func TestToolCallsWithoutIndexAppendEntries(t *testing.T) {
	var calls []tool.Call
	tr := &scriptedTransport{replies: []reply{
		{chunks: []model.Chunk{{ToolCalls: []model.ToolCallDelta{
			{ID: "a", Name: "clock", Arguments: `{"tz":"UTC"}`},
			{ID: "b", Name: "clock", Arguments: `{"tz":"CET"}`},
		}}}},
		textReply("done"),
	}}
	o := newOrchestrator(t, tr, clockTool(&calls))
	final := o.Run(context.Background(), request("zones", "clock"))
	require.Len(t, calls, 2)
	require.Equal(t, "UTC", calls[0].Input["tz"])
	require.Equal(t, "CET", calls[1].Input["tz"])
	require.Len(t, final.History[2].ToolCalls, 2)
	require.Equal(t, "a", final.History[3].ToolCallID)
	require.Equal(t, "b", final.History[4].ToolCallID)
}

func TestUnknownToolIsDropped(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "teleport", `{}`)}}
	o := newOrchestrator(t, tr, clockTool(nil))
	final := o.Run(context.Background(), request("beam me up", "clock"))
	require.True(t, final.Done)
	for _, m := range final.History {
		require.NotEqual(t, message.RoleTool, m.Role)
		require.False(t, m.Error)
	}
	require.Equal(t, 1, tr.requestCount(), "skipped calls do not keep the loop alive")
	require.False(t, final.History[2].ToolCalls[0].Completed)
}

func TestDisabledToolIsDropped(t *testing.T) {
	var calls []tool.Call
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "clock", `{"tz":"UTC"}`)}}
	o := newOrchestrator(t, tr, clockTool(&calls))
	final := o.Run(context.Background(), request("time?"))
	require.Empty(t, calls)
	require.Nil(t, tr.requests[0].Tools)
	require.Equal(t, message.RoleAssistant, final.History[len(final.History)-1].Role)
}

func TestInvalidArgumentsAreSkipped(t *testing.T) {
	var calls []tool.Call
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "clock", `{"zone":"UTC"}`)}}
	o := newOrchestrator(t, tr, clockTool(&calls))
	final := o.Run(context.Background(), request("time?", "clock"))
	require.Empty(t, calls)
	require.Equal(t, 1, tr.requestCount())
	for _, m := range final.History {
		require.False(t, m.Error)
	}
}

func TestRateLimitShortCircuits(t *testing.T) {
	limited := &model.APIError{Provider: "test", StatusCode: 429, Message: "slow down"}
	tr := &scriptedTransport{replies: []reply{{err: limited}, textReply("unreachable")}}
	o := newOrchestrator(t, tr)
	final := o.Run(context.Background(), request("hi"))

	require.Equal(t, 1, tr.requestCount())
	last := final.History[len(final.History)-1]
	require.True(t, last.Error)
	require.Equal(t, message.RoleAssistant, last.Role)
	require.Contains(t, last.Content, "slow down")
	require.True(t, strings.HasPrefix(last.Content, "#### An error has occurred during chat completions:"))
	require.Equal(t, final.Message.ID, final.History[len(final.History)-2].ID)
}

func TestTransientErrorIsRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{{err: errors.New("connection reset")}, textReply("recovered")}}
	o := newOrchestrator(t, tr)
	final := o.Run(context.Background(), request("hi"))
	require.Equal(t, 2, tr.requestCount())
	require.Equal(t, "recovered", final.Message.Content)
	for _, m := range final.History {
		require.False(t, m.Error)
	}
}

func TestExhaustedRetriesSurfaceError(t *testing.T) {
	var replies []reply
	for i := 0; i < 5; i++ {
		replies = append(replies, reply{err: fmt.Errorf("boom %d", i)})
	}
	tr := &scriptedTransport{replies: replies}
	o := newOrchestrator(t, tr)
	req := request("hi")
	req.MaxIterations = 3
	final := o.Run(context.Background(), req)
	require.Equal(t, 3, tr.requestCount())
	last := final.History[len(final.History)-1]
	require.True(t, last.Error)
	require.Contains(t, last.Content, "boom 2")
}

func TestIterationBudgetIsNotAnError(t *testing.T) {
	var replies []reply
	for i := 0; i < 3; i++ {
		replies = append(replies, toolReply(fmt.Sprintf("c%d", i), "clock", `{"tz":"UTC"}`))
	}
	tr := &scriptedTransport{replies: replies}
	o := newOrchestrator(t, tr, clockTool(nil))
	req := request("loop", "clock")
	req.MaxIterations = 2
	final := o.Run(context.Background(), req)
	require.Equal(t, 2, tr.requestCount())
	require.False(t, final.History[len(final.History)-1].Error)
	tools := 0
	for _, m := range final.History {
		if m.Role == message.RoleTool {
			tools++
		}
	}
	require.Equal(t, 2, tools)
}

func TestMissingAPIKey(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("never")}}
	o := newOrchestrator(t, tr)
	req := request("hi")
	req.Provider.RequiresAPIKey = true
	req.MaxIterations = 2
	final := o.Run(context.Background(), req)
	require.Equal(t, 0, tr.requestCount())
	last := final.History[len(final.History)-1]
	require.True(t, last.Error)
	require.Contains(t, last.Content, ErrMissingAPIKey.Error())
}

func failingTool(runs *int) *tool.Descriptor {
	return &tool.Descriptor{
		Name: "flaky",
		Action: func(context.Context, tool.Call) (any, error) {
			*runs++
			return nil, errors.New("upstream down")
		},
	}
}

func TestToolActionErrorSkipsCall(t *testing.T) {
	runs := 0
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "flaky", `{}`), textReply("thanks")}}
	o := newOrchestrator(t, tr, failingTool(&runs))
	final := o.Run(context.Background(), request("go", "flaky"))

	require.Equal(t, 1, runs, "a failed action is not re-run")
	require.Equal(t, 2, tr.requestCount())
	require.Equal(t, "thanks", final.Message.Content)
	for _, m := range final.History {
		require.NotEqual(t, message.RoleTool, m.Role)
		require.False(t, m.Error)
	}
	require.False(t, final.History[2].ToolCalls[0].Completed)

	second := tr.requests[1]
	require.Len(t, second.Messages, 2, "the unanswered call is not sent again")
	for _, m := range second.Messages {
		require.Empty(t, m.ToolCalls)
	}
}

func TestToolActionErrorSurfacesWhenBudgetEnds(t *testing.T) {
	runs := 0
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "flaky", `{}`), textReply("unreachable")}}
	o := newOrchestrator(t, tr, failingTool(&runs))
	req := request("go", "flaky")
	req.MaxIterations = 1
	final := o.Run(context.Background(), req)

	require.Equal(t, 1, runs)
	require.Equal(t, 1, tr.requestCount())
	last := final.History[len(final.History)-1]
	require.True(t, last.Error)
	require.Contains(t, last.Content, "upstream down")
}

func TestUnansweredCallsAreNotSent(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{
		{chunks: []model.Chunk{{ToolCalls: []model.ToolCallDelta{
			{Index: idx(0), ID: "c0", Name: "clock", Arguments: `{"tz":"UTC"}`},
			{Index: idx(1), ID: "c1", Name: "teleport", Arguments: `{}`},
		}}}},
		textReply("noon"),
		textReply("again noon"),
	}}
	o := newOrchestrator(t, tr, clockTool(nil))
	req := request("time?", "clock")
	first := o.Run(context.Background(), req)
	require.Len(t, first.History[2].ToolCalls, 2, "history keeps every requested call")

	next := request("and now?", "clock")
	next.History = first.History
	second := o.Run(context.Background(), next)
	require.Equal(t, "again noon", second.Message.Content)

	require.Len(t, tr.requests, 3)
	for n, sent := range tr.requests[1:] {
		answered := map[string]bool{}
		for _, m := range sent.Messages {
			if m.Role == "tool" {
				answered[m.ToolCallID] = true
			}
		}
		var ids []string
		for _, m := range sent.Messages {
			for _, c := range m.ToolCalls {
				ids = append(ids, c.ID)
				if !answered[c.ID] {
					t.Fatalf("request %d sends tool call %q with no tool result", n+2, c.ID)
				}
			}
		}
		require.Equal(t, []string{"c0"}, ids)
	}
}

func TestCancellationDuringToolAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := &tool.Descriptor{
		Name: "stop",
		Action: func(context.Context, tool.Call) (any, error) {
			cancel()
			return "late", nil
		},
	}
	tr := &scriptedTransport{replies: []reply{toolReply("c1", "stop", `{}`), textReply("never")}}
	o := newOrchestrator(t, tr, stop)

	snaps := collect(o.RunTurn(ctx, request("halt", "stop")))
	assertSingleDone(t, snaps)
	final := snaps[len(snaps)-1]
	require.Equal(t, 1, tr.requestCount())
	require.True(t, final.Message.Aborted)
	require.Len(t, final.History, 4)
	for _, m := range final.History {
		require.NotEqual(t, message.RoleTool, m.Role)
		require.False(t, m.Error)
	}
}

func TestDialFailureIsAttemptError(t *testing.T) {
	reg, _ := tool.NewRegistry()
	dials := 0
	o, err := New(DialerFunc(func(provider.Provider, string) (model.Transport, error) {
		dials++
		return nil, errors.New("bad endpoint")
	}), reg, WithRetryPolicy(NoRetryDelay()), WithMaxIterations(2),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	final := o.Run(context.Background(), request("hi"))
	require.Equal(t, 2, dials)
	require.Contains(t, final.History[len(final.History)-1].Content, "bad endpoint")
}

func TestStreamChannel(t *testing.T) {
	tr := &scriptedTransport{replies: []reply{textReply("x", "y")}}
	o := newOrchestrator(t, tr)
	var snaps []Snapshot
	for s := range o.Stream(context.Background(), request("hi")) {
		snaps = append(snaps, s)
	}
	assertSingleDone(t, snaps)
	require.Equal(t, "xy", snaps[len(snaps)-1].Message.Content)
}

func TestCustomIDGenerator(t *testing.T) {
	n := 0
	reg, _ := tool.NewRegistry()
	tr := &scriptedTransport{replies: []reply{textReply("x")}}
	o, err := New(DialerFunc(func(provider.Provider, string) (model.Transport, error) { return tr, nil }), reg,
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }))
	require.NoError(t, err)
	final := o.Run(context.Background(), TurnRequest{User: message.Message{Content: "hi"}, Provider: testProvider, Model: "m"})
	require.Equal(t, "id-1", final.History[0].ID)
	require.Equal(t, message.RoleUser, final.History[0].Role)
	require.Equal(t, "id-2", final.Message.ID)
}

func TestDemoTransportEndToEnd(t *testing.T) {
	reg := provider.NewRegistry(provider.WithDemoOptions(demo.WithSeed(3), demo.WithDelay(0, 0)))
	tools, _ := tool.NewRegistry()
	o, err := New(reg, tools, WithRetryPolicy(NoRetryDelay()))
	require.NoError(t, err)

	prompt := demo.Responses[1].Prompt
	snaps := collect(o.RunTurn(context.Background(), TurnRequest{
		User:     message.NewUser(prompt),
		Provider: provider.Demo,
		Model:    demo.ModelID,
		Settings: DefaultSettings(),
	}))
	assertSingleDone(t, snaps)
	require.Greater(t, len(snaps), 3)
	require.Equal(t, demo.Responses[1].Content, snaps[len(snaps)-1].Message.Content)
}

func TestDemoTransportAbort(t *testing.T) {
	reg := provider.NewRegistry(provider.WithDemoOptions(demo.WithSeed(9), demo.WithDelay(0, 0)))
	tools, _ := tool.NewRegistry()
	o, err := New(reg, tools, WithRetryPolicy(NoRetryDelay()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deltas := 0
	var applied string
	var final Snapshot
	for s := range o.RunTurn(ctx, TurnRequest{User: message.NewUser("anything"), Provider: provider.Demo, Model: demo.ModelID}) {
		if s.Done {
			final = s
			continue
		}
		if s.Message.Content != applied {
			deltas++
			applied = s.Message.Content
			if deltas == 4 {
				cancel()
			}
		}
	}
	require.True(t, final.Message.Aborted)
	require.Equal(t, applied, final.Message.Content)
	require.True(t, strings.HasPrefix(demo.Responses[0].Content, final.Message.Content))
}
