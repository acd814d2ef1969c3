// Package anthropic streams chat completions from the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/telemetry"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

var _ modelpkg.Transport = (*Transport)(nil)

// Config binds a transport to a credential and endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// MaxTokens caps each reply; the API requires a value.
	MaxTokens  int
	MaxRetries int
}

// Transport implements model.Transport over the Messages API.
type Transport struct {
	client    anthropicsdk.Client
	maxTokens int
}

// New builds a transport for cfg.
func New(cfg Config) (*Transport, error) {
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("anthropic: max retries must be >= 0, got %d", cfg.MaxRetries)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Transport{client: anthropicsdk.NewClient(opts...), maxTokens: maxTokens}, nil
}

// ListModels returns the models available to the credential.
func (t *Transport) ListModels(ctx context.Context) (_ []modelpkg.Descriptor, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", providerName)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	page, err := t.client.Models.List(ctx, anthropicsdk.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic: list models: %w", wrapError(err))
	}
	out := make([]modelpkg.Descriptor, 0, len(page.Data))
	for _, m := range page.Data {
		d := modelpkg.Descriptor{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Object:      "model",
			OwnedBy:     "Anthropic",
		}
		if !m.CreatedAt.IsZero() {
			d.Created = m.CreatedAt.Unix()
		}
		out = append(out, d)
	}
	return out, nil
}

// StreamCompletion sends req and forwards text and tool-use deltas to cb.
// Tool deltas are indexed by content block position.
func (t *Transport) StreamCompletion(ctx context.Context, req modelpkg.CompletionRequest, cb modelpkg.StreamCallback) (err error) {
	if cb == nil {
		return errors.New("anthropic: stream callback is required")
	}
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.stream_completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", providerName),
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

	started := time.Now()
	stream := t.client.Messages.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		var chunk modelpkg.Chunk
		switch ev := event.AsAny().(type) {
		case anthropicsdk.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			idx := int(ev.Index)
			chunk.ToolCalls = []modelpkg.ToolCallDelta{{Index: &idx, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}}
		case anthropicsdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				chunk.Text = delta.Text
			case anthropicsdk.InputJSONDelta:
				idx := int(ev.Index)
				chunk.ToolCalls = []modelpkg.ToolCallDelta{{Index: &idx, Arguments: delta.PartialJSON}}
			}
		}
		if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		if err := cb(chunk); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("anthropic: stream after %s: %w", time.Since(started).Round(time.Millisecond), wrapError(err))
	}
	return nil
}

func (t *Transport) buildParams(req modelpkg.CompletionRequest) (anthropicsdk.MessageNewParams, []option.RequestOption, error) {
	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, nil, fmt.Errorf("anthropic: %w", err)
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: int64(t.maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}

	var opts []option.RequestOption
	if len(req.Tools) > 0 {
		if hasNative(req.Tools) {
			opts = append(opts, option.WithJSONSet("tools", rawTools(req.Tools)))
		} else {
			tools, err := convertTools(req.Tools)
			if err != nil {
				return anthropicsdk.MessageNewParams{}, nil, fmt.Errorf("anthropic: %w", err)
			}
			params.Tools = tools
		}
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAuto: &anthropicsdk.ToolChoiceAutoParam{
			DisableParallelToolUse: anthropicsdk.Bool(!req.ParallelToolCalls),
		}}
	}
	return params, opts, nil
}
