package toolbuiltin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"

	"github.com/cexll/chatstream-go/pkg/tool"
)

// InstantSearchToolName looks up DuckDuckGo instant answers.
const InstantSearchToolName = "instant_search"

const (
	defaultInstantEndpoint = "https://api.duckduckgo.com/"
	defaultInstantTimeout  = 15 * time.Second
	maxInstantBody         = 2 << 20
)

// InstantSearchOptions tunes the instant answer tool.
type InstantSearchOptions struct {
	Endpoint string
	Client   *http.Client
	// Limiter throttles outbound lookups. Nil installs one request per second
	// with a burst of three.
	Limiter *rate.Limiter
}

type instantSearch struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewInstantSearch builds the instant answer tool.
func NewInstantSearch(opts *InstantSearchOptions) *tool.Descriptor {
	s := &instantSearch{endpoint: defaultInstantEndpoint}
	if opts != nil {
		if strings.TrimSpace(opts.Endpoint) != "" {
			s.endpoint = opts.Endpoint
		}
		s.client = opts.Client
		s.limiter = opts.Limiter
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: defaultInstantTimeout}
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Every(time.Second), 3)
	}
	return &tool.Descriptor{
		Name:        InstantSearchToolName,
		Title:       "Instant Search",
		Description: "Fetches factual answers, summaries and related topics. Useful for quick lookups, definitions, and concise explanations. Not a full web search, returns only Instant Answer data.",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"keyword": {
					Type:        "string",
					Description: "A single keyword describing the topic to fetch an instant answer for.",
				},
			},
			Required: []string{"keyword"},
		},
		Action: s.run,
	}
}

func (s *instantSearch) run(ctx context.Context, call tool.Call) (any, error) {
	if ctx.Err() != nil {
		return "", nil
	}
	keyword, _ := call.Input["keyword"].(string)
	fields := strings.Fields(keyword)
	if len(fields) == 0 {
		return nil, errors.New("instant_search: keyword is empty")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return nil, fmt.Errorf("instant_search: throttle: %w", err)
	}

	q := url.Values{}
	q.Set("q", fields[0])
	q.Set("format", "json")
	q.Set("pretty", "1")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("instant_search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return nil, fmt.Errorf("instant_search: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInstantBody))
	if err != nil {
		return nil, fmt.Errorf("instant_search: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instant_search: status %d", resp.StatusCode)
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("instant_search: decode: %w", err)
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("instant_search: encode: %w", err)
	}
	return string(pretty), nil
}
