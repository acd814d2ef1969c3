// Package provider catalogs the chat providers a client can talk to and
// dials transports for them.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cexll/chatstream-go/pkg/model"
	anthropicmodel "github.com/cexll/chatstream-go/pkg/model/anthropic"
	"github.com/cexll/chatstream-go/pkg/model/demo"
	openaimodel "github.com/cexll/chatstream-go/pkg/model/openai"
)

// Kind selects the wire protocol spoken by a provider.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindDemo      Kind = "demo"
)

const (
	OpenAIID     = "openai"
	ClaudeID     = "claude"
	OpenRouterID = "open_router"
	GroqID       = "groq"
	PerplexityID = "perplexity"
	DemoID       = "demo"
)

// Provider describes one chat backend.
type Provider struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	BaseURL        string `json:"baseUrl,omitempty"`
	RequiresAPIKey bool   `json:"requiresApiKey"`
	Kind           Kind   `json:"kind"`
}

// Demo is the offline provider used when nothing else is configured.
var Demo = Provider{ID: DemoID, Label: "Demo", Kind: KindDemo}

// Builtin returns the default provider catalog. Demo is always last.
func Builtin() []Provider {
	return []Provider{
		{ID: OpenAIID, Label: "OpenAI", BaseURL: "https://api.openai.com/v1", RequiresAPIKey: true, Kind: KindOpenAI},
		{ID: ClaudeID, Label: "Claude", BaseURL: "https://api.anthropic.com", RequiresAPIKey: true, Kind: KindAnthropic},
		{ID: OpenRouterID, Label: "Open Router", BaseURL: "https://openrouter.ai/api/v1", RequiresAPIKey: true, Kind: KindOpenAI},
		{ID: GroqID, Label: "Groq", BaseURL: "https://api.groq.com/openai/v1", RequiresAPIKey: true, Kind: KindOpenAI},
		{ID: PerplexityID, Label: "Perplexity", BaseURL: "https://api.perplexity.ai", RequiresAPIKey: true, Kind: KindOpenAI},
		Demo,
	}
}

// Option customises a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used by network transports.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// WithDemoOptions configures the demo transport.
func WithDemoOptions(opts ...demo.Option) Option {
	return func(r *Registry) { r.demoOpts = append(r.demoOpts, opts...) }
}

// WithProviders replaces the catalog. Demo is appended when missing.
func WithProviders(providers ...Provider) Option {
	return func(r *Registry) { r.providers = append([]Provider(nil), providers...) }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry resolves providers and builds transports for them.
type Registry struct {
	providers  []Provider
	httpClient *http.Client
	demoOpts   []demo.Option
	logger     *slog.Logger
}

// NewRegistry builds a registry over the builtin catalog.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{providers: Builtin(), logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if _, ok := r.Get(DemoID); !ok {
		r.providers = append(r.providers, Demo)
	}
	return r
}

// List returns the catalog.
func (r *Registry) List() []Provider {
	return append([]Provider(nil), r.providers...)
}

// Get finds a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	for _, p := range r.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// Lookup finds a provider by id and falls back to Demo.
func (r *Registry) Lookup(id string) Provider {
	if p, ok := r.Get(id); ok {
		return p
	}
	return Demo
}

// Dial builds a transport for p bound to apiKey.
func (r *Registry) Dial(p Provider, apiKey string) (model.Transport, error) {
	switch p.Kind {
	case KindDemo:
		return demo.NewTransport(r.demoOpts...)
	case KindAnthropic:
		return anthropicmodel.New(anthropicmodel.Config{
			APIKey:     apiKey,
			BaseURL:    p.BaseURL,
			HTTPClient: r.httpClient,
		})
	case KindOpenAI, "":
		return openaimodel.New(openaimodel.Config{
			Provider:   p.ID,
			APIKey:     apiKey,
			BaseURL:    p.BaseURL,
			HTTPClient: r.httpClient,
		})
	default:
		return nil, fmt.Errorf("provider: %s: unsupported kind %q", p.ID, p.Kind)
	}
}

// Models lists the chat-capable models offered by p.
func (r *Registry) Models(ctx context.Context, p Provider, apiKey string) ([]model.ChatModel, error) {
	if p.RequiresAPIKey && strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	transport, err := r.Dial(p, apiKey)
	if err != nil {
		return nil, err
	}
	raw, err := transport.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: list models: %w", p.ID, err)
	}
	models := model.FilterChatModels(raw)
	r.logger.Debug("listed models", "provider", p.ID, "raw", len(raw), "chat", len(models))
	return models, nil
}
