// Package demo serves canned chat completions so the client can run without a
// real provider.
package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cexll/chatstream-go/pkg/model"
	openaimodel "github.com/cexll/chatstream-go/pkg/model/openai"
)

// BaseURL is the fake endpoint the demo transport answers for.
const BaseURL = "http://demo.invalid/v1"

const (
	minChunk = 1
	maxChunk = 6
)

// Option configures a RoundTripper.
type Option func(*RoundTripper)

// WithSeed makes chunk sizes and delays reproducible.
func WithSeed(seed uint64) Option {
	return func(rt *RoundTripper) { rt.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithResponses replaces the canned responses.
func WithResponses(responses ...Response) Option {
	return func(rt *RoundTripper) { rt.responses = append([]Response(nil), responses...) }
}

// WithDelay bounds the pause between chunks. A zero max disables pauses.
func WithDelay(lo, hi time.Duration) Option {
	return func(rt *RoundTripper) {
		if hi < lo {
			hi = lo
		}
		rt.minDelay, rt.maxDelay = lo, hi
	}
}

// RoundTripper answers /models and /chat/completions requests in the
// OpenAI wire format.
type RoundTripper struct {
	responses []Response
	minDelay  time.Duration
	maxDelay  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a demo round tripper with 1-5ms pauses between chunks.
func New(opts ...Option) *RoundTripper {
	now := uint64(time.Now().UnixNano())
	rt := &RoundTripper{
		responses: Responses,
		minDelay:  time.Millisecond,
		maxDelay:  5 * time.Millisecond,
		rng:       rand.New(rand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rt)
		}
	}
	return rt
}

// NewTransport returns a model.Transport backed by the demo round tripper.
func NewTransport(opts ...Option) (model.Transport, error) {
	return openaimodel.New(openaimodel.Config{
		Provider:   "demo",
		BaseURL:    BaseURL,
		HTTPClient: &http.Client{Transport: New(opts...)},
	})
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	path := strings.TrimSuffix(req.URL.Path, "/")
	switch {
	case strings.HasSuffix(path, "/models"):
		return rt.models(req)
	case strings.HasSuffix(path, "/chat/completions"):
		return rt.completions(req)
	default:
		return jsonResponse(req, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": "unknown demo endpoint " + req.URL.Path, "type": "not_found"},
		}), nil
	}
}

func (rt *RoundTripper) models(req *http.Request) (*http.Response, error) {
	entry := map[string]any{
		"id":          ChatModel.ID,
		"name":        ChatModel.Name,
		"object":      ChatModel.Object,
		"created":     ChatModel.Created,
		"owned_by":    ChatModel.OwnedBy,
		"description": ChatModel.Description,
	}
	return jsonResponse(req, http.StatusOK, map[string]any{"object": "list", "data": []any{entry}}), nil
}

func (rt *RoundTripper) completions(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("demo: read request: %w", err)
		}
		body = raw
	}
	prompt := gjson.GetBytes(body, `messages.#(role=="user").content`).String()
	chunks := rt.Chunks(Lookup(rt.responses, prompt))
	delays := make([]time.Duration, len(chunks))
	for i := range delays {
		delays[i] = rt.delay()
	}

	pr, pw := io.Pipe()
	go stream(req.Context(), pw, chunks, delays)

	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       pr,
		Request:    req,
	}, nil
}

func stream(ctx context.Context, pw *io.PipeWriter, chunks []string, delays []time.Duration) {
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		frame, err := json.Marshal(map[string]any{
			"id":      "mock",
			"object":  "chat.completion.chunk",
			"model":   ModelID,
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": chunk}}},
		})
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := fmt.Fprintf(pw, "data: %s\n\n", frame); err != nil {
			return
		}
		if delays[i] > 0 {
			timer := time.NewTimer(delays[i])
			select {
			case <-ctx.Done():
				timer.Stop()
				_ = pw.CloseWithError(ctx.Err())
				return
			case <-timer.C:
			}
		}
	}
	_, _ = io.WriteString(pw, "data: [DONE]\n\n")
	_ = pw.Close()
}

// Chunks splits content into pieces of 1-6 runes.
func (rt *RoundTripper) Chunks(content string) []string {
	runes := []rune(content)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []string
	for i := 0; i < len(runes); {
		size := minChunk + rt.rng.IntN(maxChunk-minChunk+1)
		end := min(i+size, len(runes))
		out = append(out, string(runes[i:end]))
		i = end
	}
	return out
}

func (rt *RoundTripper) delay() time.Duration {
	if rt.maxDelay <= 0 {
		return 0
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	span := int64(rt.maxDelay - rt.minDelay)
	if span <= 0 {
		return rt.minDelay
	}
	return rt.minDelay + time.Duration(rt.rng.Int64N(span+1))
}

func jsonResponse(req *http.Request, status int, payload any) *http.Response {
	raw, _ := json.Marshal(payload)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json; charset=UTF-8"}},
		Body:          io.NopCloser(bytes.NewReader(raw)),
		ContentLength: int64(len(raw)),
		Request:       req,
	}
}
