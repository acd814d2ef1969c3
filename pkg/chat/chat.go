// Package chat runs streaming, tool-calling conversation turns against a
// provider transport and reports progress as snapshots.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/tool"
)

// DefaultMaxIterations bounds the request/tool loop of one turn.
const DefaultMaxIterations = 5

var (
	// ErrMissingAPIKey is reported when a provider needs a key and none was
	// given.
	ErrMissingAPIKey = errors.New("chat api key is empty")
	ErrNilDialer     = errors.New("chat: dialer is nil")
	ErrNilRegistry   = errors.New("chat: tool registry is nil")
)

// Settings are the per-user completion knobs.
type Settings struct {
	Temperature float64 `json:"temperature"`
}

// DefaultSettings returns the settings used for new workspaces.
func DefaultSettings() Settings { return Settings{Temperature: 0.5} }

// Validate checks the settings ranges.
func (s Settings) Validate() error {
	if s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("chat: temperature %.2f out of range [0,1]", s.Temperature)
	}
	return nil
}

// Snapshot is one unit of turn progress. Every snapshot is a deep copy.
type Snapshot struct {
	History []message.Message `json:"history"`
	Message message.Message   `json:"message"`
	Done    bool              `json:"done"`
}

// TurnRequest carries the explicit inputs of one turn.
type TurnRequest struct {
	User     message.Message
	History  []message.Message
	Provider provider.Provider
	Model    string
	APIKey   string
	Settings Settings
	// Tools lists enabled tool names; unknown names are ignored.
	Tools []string
	// MaxIterations overrides the orchestrator default when positive.
	MaxIterations int
}

// Dialer builds a transport for a provider and credential.
type Dialer interface {
	Dial(p provider.Provider, apiKey string) (model.Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(p provider.Provider, apiKey string) (model.Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(p provider.Provider, apiKey string) (model.Transport, error) {
	return f(p, apiKey)
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for retries and skipped tool calls.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryPolicy sets the pause between failed attempts.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithMaxIterations sets the default iteration budget.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithIDGenerator replaces the message id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// Orchestrator drives conversation turns. It holds no per-turn state and is
// safe for concurrent use across conversations.
type Orchestrator struct {
	dialer        Dialer
	tools         *tool.Registry
	logger        *slog.Logger
	retry         RetryPolicy
	maxIterations int
	newID         func() string
}

// New builds an orchestrator.
func New(dialer Dialer, tools *tool.Registry, opts ...Option) (*Orchestrator, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}
	if tools == nil {
		return nil, ErrNilRegistry
	}
	o := &Orchestrator{
		dialer:        dialer,
		tools:         tools,
		logger:        slog.Default(),
		retry:         DefaultRetryPolicy(),
		maxIterations: DefaultMaxIterations,
		newID:         message.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// RunTurn returns the lazy snapshot sequence of one turn. The sequence runs
// in the consumer's goroutine, ends with exactly one Done snapshot and can
// be ranged only once. Breaking out early stops the turn without a Done
// snapshot.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) iter.Seq[Snapshot] {
	t := o.newTurn(req)
	return func(yield func(Snapshot) bool) {
		if !t.started.CompareAndSwap(false, true) {
			return
		}
		t.run(ctx, yield)
	}
}

// Stream pushes the turn's snapshots on a channel that is closed after the
// Done snapshot. The consumer must drain it.
func (o *Orchestrator) Stream(ctx context.Context, req TurnRequest) <-chan Snapshot {
	ch := make(chan Snapshot)
	seq := o.RunTurn(ctx, req)
	go func() {
		defer close(ch)
		for snap := range seq {
			ch <- snap
		}
	}()
	return ch
}

// Run drains the turn and returns its final snapshot.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) Snapshot {
	var last Snapshot
	for snap := range o.RunTurn(ctx, req) {
		last = snap
	}
	return last
}
