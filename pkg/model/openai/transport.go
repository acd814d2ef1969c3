// Package openai streams chat completions from OpenAI compatible endpoints
// (OpenAI, OpenRouter, Groq, Perplexity and the demo transport) through the
// official SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/telemetry"
)

var _ modelpkg.Transport = (*Transport)(nil)

// Config binds a transport to one provider endpoint and credential.
type Config struct {
	// Provider labels errors and spans.
	Provider   string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries is forwarded to the SDK. The chat loop does its own retries
	// so the default is zero.
	MaxRetries int
}

// Transport implements model.Transport over the OpenAI chat completions API.
type Transport struct {
	client   openaisdk.Client
	provider string
}

// New builds a transport for cfg.
func New(cfg Config) (*Transport, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("openai: base url is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("openai: max retries must be >= 0, got %d", cfg.MaxRetries)
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Transport{client: openaisdk.NewClient(opts...), provider: provider}, nil
}

// ListModels returns the raw model catalog of the endpoint.
func (t *Transport) ListModels(ctx context.Context) (_ []modelpkg.Descriptor, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", t.provider)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	page, err := t.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", t.provider, wrapError(t.provider, err))
	}
	out := make([]modelpkg.Descriptor, 0, len(page.Data))
	for _, m := range page.Data {
		var d modelpkg.Descriptor
		if raw := m.RawJSON(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				return nil, fmt.Errorf("%s: decode model %q: %w", t.provider, m.ID, err)
			}
		}
		if d.ID == "" {
			d.ID = m.ID
			d.Object = string(m.Object)
			d.Created = m.Created
			d.OwnedBy = m.OwnedBy
		}
		out = append(out, d)
	}
	return out, nil
}

// StreamCompletion sends req and forwards every text or tool-call delta to cb.
func (t *Transport) StreamCompletion(ctx context.Context, req modelpkg.CompletionRequest, cb modelpkg.StreamCallback) (err error) {
	if cb == nil {
		return errors.New("openai: stream callback is required")
	}
	ctx, span := telemetry.StartSpan(ctx, "model.openai.stream_completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", req.Model),
			attribute.Bool("llm.stream", true),
			attribute.Int("llm.tools_count", len(req.Tools)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	params, opts, err := t.buildParams(req)
	if err != nil {
		return err
	}

	stream := t.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		out := modelpkg.Chunk{Text: delta.Content, ToolCalls: convertDeltas(delta.ToolCalls)}
		if out.Text == "" && len(out.ToolCalls) == 0 {
			continue
		}
		if err := cb(out); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: stream: %w", t.provider, wrapError(t.provider, err))
	}
	return nil
}

func (t *Transport) buildParams(req modelpkg.CompletionRequest) (openaisdk.ChatCompletionNewParams, []option.RequestOption, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, nil, fmt.Errorf("%s: %w", t.provider, err)
	}
	params := openaisdk.ChatCompletionNewParams{
		Messages: messages,
		Model:    req.Model,
	}
	if req.Temperature != nil {
		params.Temperature = openaisdk.Float(*req.Temperature)
	}

	var opts []option.RequestOption
	if len(req.Tools) > 0 {
		if hasNative(req.Tools) {
			opts = append(opts, option.WithJSONSet("tools", rawTools(req.Tools)))
		} else {
			tools, err := convertTools(req.Tools)
			if err != nil {
				return openaisdk.ChatCompletionNewParams{}, nil, fmt.Errorf("%s: %w", t.provider, err)
			}
			params.Tools = tools
		}
		choice := req.ToolChoice
		if choice == "" {
			choice = modelpkg.ToolChoiceAuto
		}
		params.ToolChoice = openaisdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaisdk.String(choice)}
		params.ParallelToolCalls = openaisdk.Bool(req.ParallelToolCalls)
	}
	return params, opts, nil
}
