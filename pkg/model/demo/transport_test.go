package demo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/chatstream-go/pkg/model"
)

func collect(t *testing.T, tr model.Transport, prompt string) string {
	t.Helper()
	var b strings.Builder
	err := tr.StreamCompletion(context.Background(), model.CompletionRequest{
		Model:    ModelID,
		Messages: []model.Message{{Role: "user", Content: model.StringPtr(prompt)}},
	}, func(c model.Chunk) error {
		b.WriteString(c.Text)
		return nil
	})
	require.NoError(t, err)
	return b.String()
}

func TestStreamsCannedResponse(t *testing.T) {
	tr, err := NewTransport(WithSeed(7), WithDelay(0, 0))
	require.NoError(t, err)
	for _, r := range Responses {
		require.Equal(t, r.Content, collect(t, tr, r.Prompt))
	}
}

func TestUnknownPromptFallsBack(t *testing.T) {
	tr, err := NewTransport(WithDelay(0, 0))
	require.NoError(t, err)
	require.Equal(t, Responses[0].Content, collect(t, tr, "what is the weather"))
}

func TestCustomResponses(t *testing.T) {
	tr, err := NewTransport(WithDelay(0, 0), WithResponses(Response{Prompt: "ping", Content: "pong"}))
	require.NoError(t, err)
	require.Equal(t, "pong", collect(t, tr, "anything"))
}

func TestChunksAreReproducible(t *testing.T) {
	content := Responses[1].Content
	a := New(WithSeed(42)).Chunks(content)
	b := New(WithSeed(42)).Chunks(content)
	require.Equal(t, a, b)
	require.Equal(t, content, strings.Join(a, ""))
	for _, c := range a {
		n := len([]rune(c))
		if n < minChunk || n > maxChunk {
			t.Fatalf("chunk %q has %d runes", c, n)
		}
	}
	require.Empty(t, New().Chunks(""))
}

func TestAbortStopsStream(t *testing.T) {
	tr, err := NewTransport(WithSeed(1), WithDelay(0, 0))
	require.NoError(t, err)
	stop := errors.New("stop")
	var got strings.Builder
	err = tr.StreamCompletion(context.Background(), model.CompletionRequest{
		Model:    ModelID,
		Messages: []model.Message{{Role: "user", Content: model.StringPtr(Responses[2].Prompt)}},
	}, func(c model.Chunk) error {
		got.WriteString(c.Text)
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.NotEmpty(t, got.String())
	require.Less(t, len(got.String()), len(Responses[2].Content))
}

func TestCancelledContext(t *testing.T) {
	tr, err := NewTransport(WithDelay(0, 0))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	chunks := 0
	err = tr.StreamCompletion(ctx, model.CompletionRequest{
		Model:    ModelID,
		Messages: []model.Message{{Role: "user", Content: model.StringPtr("x")}},
	}, func(model.Chunk) error {
		chunks++
		if chunks == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestListModels(t *testing.T) {
	tr, err := NewTransport()
	require.NoError(t, err)
	models, err := tr.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, ModelID, models[0].ID)
	require.Equal(t, "Demo Model", models[0].Name)
	require.Equal(t, []model.ChatModel{ChatModel}, model.FilterChatModels(models))
}

func TestLookup(t *testing.T) {
	require.Equal(t, "", Lookup(nil, "x"))
	require.Equal(t, Responses[2].Content, Lookup(Responses, Responses[2].Prompt))
}
