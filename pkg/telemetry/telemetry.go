// Package telemetry wires OpenTelemetry tracing for chat turns, provider
// requests and tool invocations.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/cexll/chatstream-go"

// Config controls tracer construction.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is an OTLP/HTTP collector host:port. Empty keeps spans in
	// process unless TracerProvider is set.
	Endpoint string
	Insecure bool
	// TracerProvider overrides exporter construction, mainly for tests.
	TracerProvider trace.TracerProvider
	Filter         FilterConfig
}

// FilterConfig masks secrets in span attributes.
type FilterConfig struct {
	Mask     string
	Patterns []string
}

// Manager owns the tracer provider and the attribute filter.
type Manager struct {
	tracer   trace.Tracer
	provider trace.TracerProvider
	shutdown func(context.Context) error
	filter   *filter
}

// NewManager builds a manager from cfg.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	f, err := newFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{filter: f, shutdown: func(context.Context) error { return nil }}
	switch {
	case cfg.TracerProvider != nil:
		mgr.provider = cfg.TracerProvider
		if sdk, ok := cfg.TracerProvider.(*sdktrace.TracerProvider); ok {
			mgr.shutdown = sdk.Shutdown
		}
	case strings.TrimSpace(cfg.Endpoint) != "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(strings.TrimSpace(cfg.Endpoint))}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		name := cfg.ServiceName
		if name == "" {
			name = "chatstream"
		}
		attrs := []attribute.KeyValue{attribute.String("service.name", name)}
		if cfg.ServiceVersion != "" {
			attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		)
		mgr.provider = tp
		mgr.shutdown = tp.Shutdown
	default:
		mgr.provider = otel.GetTracerProvider()
	}
	mgr.tracer = mgr.provider.Tracer(instrumentation)
	return mgr, nil
}

// StartSpan opens a span named name.
func (m *Manager) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, opts...)
}

// MaskText applies the secret filter to s.
func (m *Manager) MaskText(s string) string { return m.filter.mask(s) }

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

var (
	defaultMu  sync.RWMutex
	defaultMgr *Manager
)

// SetDefault installs mgr for the package level helpers. Nil restores the
// global otel tracer.
func SetDefault(mgr *Manager) {
	defaultMu.Lock()
	defaultMgr = mgr
	defaultMu.Unlock()
}

func current() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultMgr
}

// StartSpan opens a span on the default manager.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if mgr := current(); mgr != nil {
		return mgr.StartSpan(ctx, name, opts...)
	}
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// EndSpan records err on span and ends it. Cancellation is not reported as a
// failure.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SanitizeAttributes masks secret-looking string attribute values.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	f := defaultFilter
	if mgr := current(); mgr != nil {
		f = mgr.filter
	}
	out := make([]attribute.KeyValue, len(attrs))
	for i, kv := range attrs {
		if kv.Value.Type() == attribute.STRING {
			kv = attribute.String(string(kv.Key), f.mask(kv.Value.AsString()))
		}
		out[i] = kv
	}
	return out
}

const defaultMask = "***"

var builtinPatterns = []string{
	`sk-[A-Za-z0-9_\-]{8,}`,
	`(?i)bearer\s+[A-Za-z0-9._\-]+`,
	`gsk_[A-Za-z0-9]{8,}`,
	`pplx-[A-Za-z0-9]{8,}`,
}

var defaultFilter = mustFilter(FilterConfig{})

type filter struct {
	replacement string
	patterns    []*regexp.Regexp
}

func mustFilter(cfg FilterConfig) *filter {
	f, err := newFilter(cfg)
	if err != nil {
		panic(err)
	}
	return f
}

func newFilter(cfg FilterConfig) (*filter, error) {
	f := &filter{replacement: cfg.Mask}
	if f.replacement == "" {
		f.replacement = defaultMask
	}
	for _, expr := range append(append([]string(nil), builtinPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("telemetry: filter pattern %q: %w", expr, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *filter) mask(s string) string {
	for _, re := range f.patterns {
		s = re.ReplaceAllString(s, f.replacement)
	}
	return s
}
