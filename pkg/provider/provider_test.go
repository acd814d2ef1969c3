package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/model/demo"
)

func TestRegistryAlwaysHasDemo(t *testing.T) {
	r := NewRegistry(WithProviders(Provider{ID: "local", Label: "Local", BaseURL: "http://localhost:1/v1", Kind: KindOpenAI}))
	ids := make([]string, 0)
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"local", DemoID}, ids)

	require.Equal(t, DemoID, r.Lookup("missing").ID)
	p, ok := r.Get("local")
	require.True(t, ok)
	require.Equal(t, "Local", p.Label)
}

func TestBuiltinCatalog(t *testing.T) {
	r := NewRegistry()
	require.Len(t, r.List(), 6)
	for _, p := range r.List() {
		if p.ID == DemoID {
			require.False(t, p.RequiresAPIKey)
			continue
		}
		require.True(t, p.RequiresAPIKey, p.ID)
		require.NotEmpty(t, p.BaseURL, p.ID)
		_, err := r.Dial(p, "key")
		require.NoError(t, err, p.ID)
	}
}

func TestDialUnsupportedKind(t *testing.T) {
	_, err := NewRegistry().Dial(Provider{ID: "x", Kind: "carrier-pigeon"}, "")
	require.Error(t, err)
}

func TestModelsRequiresKey(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Get(GroqID)
	_, err := r.Models(context.Background(), p, " ")
	require.True(t, errors.Is(err, ErrNoAPIKey))
}

func TestModelsDemo(t *testing.T) {
	r := NewRegistry(WithDemoOptions(demo.WithDelay(0, 0)))
	models, err := r.Models(context.Background(), Demo, "")
	require.NoError(t, err)
	require.Equal(t, []model.ChatModel{demo.ChatModel}, models)
}

func TestModelsFiltersRemoteCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gsk_live" {
			t.Errorf("missing key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[
			{"id":"llama-3.3-70b","object":"model","created":1,"owned_by":"Meta","active":true},
			{"id":"whisper-large","object":"model","created":2,"owned_by":"OpenAI","active":false},
			{"id":"nomic-embedding","object":"model","created":3,"owned_by":"Nomic"}
		]}`)
	}))
	defer srv.Close()

	r := NewRegistry(WithHTTPClient(srv.Client()), WithProviders(Provider{
		ID: GroqID, Label: "Groq", BaseURL: srv.URL, RequiresAPIKey: true, Kind: KindOpenAI,
	}))
	p, _ := r.Get(GroqID)
	models, err := r.Models(context.Background(), p, "gsk_live")
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "llama-3.3-70b", models[0].ID)
	require.Equal(t, "Meta", models[0].OwnedBy)
}

func TestStateTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := DefaultState()
	require.Equal(t, DemoID, s.ProviderID)
	require.Equal(t, demo.ModelID, s.ModelID())

	s = s.WithProvider(GroqID)
	require.Equal(t, "", s.ModelID())
	require.Equal(t, "", s.APIKey)

	saved := s.WithSavedKey(GroqID, "work", "gsk_1", true, now)
	require.Equal(t, "gsk_1", saved.APIKey)
	require.Empty(t, s.Keys(GroqID), "original state must not change")
	require.Equal(t, []APIKey{{Key: "gsk_1", Name: "work", Created: "2024-05-01T10:00:00Z"}}, saved.Keys(GroqID))

	saved = saved.WithSavedKey(GroqID, "home", "gsk_2", false, now)
	require.Equal(t, "gsk_1", saved.APIKey)
	require.Len(t, saved.Keys(GroqID), 2)

	removed := saved.WithoutKey(GroqID, "gsk_1")
	require.Equal(t, "", removed.APIKey)
	require.Len(t, removed.Keys(GroqID), 1)
	require.Len(t, saved.Keys(GroqID), 2)
	require.Equal(t, "", saved.WithoutKey("nobody", "x").APIKey)

	same := saved.WithProvider(GroqID)
	require.Equal(t, saved.APIKey, same.APIKey)

	require.Equal(t, []string{GroqID}, saved.ProviderIDs())
}

func TestProblem(t *testing.T) {
	r := NewRegistry()
	llama := model.ChatModel{ID: "llama"}
	tests := []struct {
		name  string
		state State
		want  error
	}{
		{name: "demo ready", state: DefaultState()},
		{name: "no provider", state: State{}, want: ErrNoProvider},
		{name: "no key", state: State{ProviderID: GroqID, Model: &llama}, want: ErrNoAPIKey},
		{name: "no model", state: State{ProviderID: GroqID, APIKey: "k"}, want: ErrNoModel},
		{name: "ready", state: State{ProviderID: GroqID, APIKey: "k", Model: &llama}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Problem(tt.state)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
