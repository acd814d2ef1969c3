// Package api wires configuration, storage, providers, tools and the
// orchestrator into the runtime used by the CLI and the HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/config"
	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/model/demo"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/storage"
	"github.com/cexll/chatstream-go/pkg/telemetry"
	"github.com/cexll/chatstream-go/pkg/tool"
	toolbuiltin "github.com/cexll/chatstream-go/pkg/tool/builtin"
	"github.com/cexll/chatstream-go/pkg/workspace"
)

// Runtime is the assembled chat client.
type Runtime struct {
	opts      Options
	cfg       *config.Config
	loader    *config.Loader
	store     *storage.Store
	ownsStore bool
	ws        *workspace.Workspace
	providers *provider.Registry
	tools     *tool.Registry
	orch      *chat.Orchestrator
	tracing   *telemetry.Manager
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*Turn
	closed   bool
}

// New assembles a runtime.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	cfg, loader, err := opts.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("api: config: %w", err)
	}
	rt := &Runtime{
		opts:     opts,
		cfg:      cfg,
		loader:   loader,
		logger:   opts.Logger,
		inflight: map[string]*Turn{},
	}

	if cfg.Telemetry.Endpoint != "" {
		mgr, err := telemetry.NewManager(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("api: telemetry: %w", err)
		}
		telemetry.SetDefault(mgr)
		rt.tracing = mgr
	}

	rt.store = opts.Store
	if rt.store == nil {
		rt.store, err = storage.Open(cfg.Storage, cfg.BaseDir(), opts.Logger)
		if err != nil {
			rt.shutdownTracing(ctx)
			return nil, fmt.Errorf("api: storage: %w", err)
		}
		rt.ownsStore = true
	}
	rt.ws = workspace.New(rt.store, workspace.WithClock(opts.Clock), workspace.WithIDGenerator(opts.IDGenerator))

	demoOpts := append([]demo.Option(nil), opts.DemoOptions...)
	if cfg.Demo.Seed != nil {
		demoOpts = append([]demo.Option{demo.WithSeed(*cfg.Demo.Seed)}, demoOpts...)
	}
	regOpts := []provider.Option{provider.WithLogger(opts.Logger), provider.WithDemoOptions(demoOpts...)}
	if opts.HTTPClient != nil {
		regOpts = append(regOpts, provider.WithHTTPClient(opts.HTTPClient))
	}
	if len(opts.Providers) > 0 {
		regOpts = append(regOpts, provider.WithProviders(opts.Providers...))
	}
	rt.providers = provider.NewRegistry(regOpts...)

	if opts.Tools != nil {
		rt.tools, err = tool.NewRegistry(opts.Tools...)
	} else {
		rt.tools, err = toolbuiltin.NewRegistry(&toolbuiltin.InstantSearchOptions{Client: opts.HTTPClient})
	}
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("api: tools: %w", err)
	}

	var dialer chat.Dialer = rt.providers
	if opts.Dialer != nil {
		dialer = opts.Dialer
	}
	rt.orch, err = chat.New(dialer, rt.tools,
		chat.WithLogger(opts.Logger),
		chat.WithRetryPolicy(cfg.Retry.Policy()),
		chat.WithMaxIterations(cfg.Defaults.MaxIterations),
		chat.WithIDGenerator(opts.IDGenerator),
	)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("api: orchestrator: %w", err)
	}

	if err := rt.seedDefaults(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// seedDefaults applies config defaults to keys the workspace has never
// stored.
func (rt *Runtime) seedDefaults() error {
	d := rt.cfg.Defaults
	if d.Provider != "" && rt.missing(workspace.KeyProvider) {
		_, err := rt.ws.UpdateProvider(func(s provider.State) provider.State {
			s = s.WithProvider(d.Provider)
			if d.Model != "" {
				s = s.WithModel(model.ChatModel{ID: d.Model, Object: "model"})
			}
			return s
		})
		if err != nil {
			return fmt.Errorf("api: seed provider: %w", err)
		}
	}
	if d.Temperature != nil && rt.missing(workspace.KeySettings) {
		if err := rt.ws.SetSettings(rt.cfg.Settings()); err != nil {
			return fmt.Errorf("api: seed settings: %w", err)
		}
	}
	if len(d.Tools) > 0 && rt.missing(workspace.KeyTools) {
		if err := rt.ws.SetEnabledTools(d.Tools); err != nil {
			return fmt.Errorf("api: seed tools: %w", err)
		}
	}
	return nil
}

func (rt *Runtime) missing(key string) bool {
	_, err := rt.store.Get(key)
	return errors.Is(err, storage.ErrNotFound)
}

// Config returns the active configuration.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Loader returns the config loader, or nil when Options.Config was given.
func (rt *Runtime) Loader() *config.Loader { return rt.loader }

// Workspace exposes persisted client state.
func (rt *Runtime) Workspace() *workspace.Workspace { return rt.ws }

// Providers exposes the provider catalog.
func (rt *Runtime) Providers() *provider.Registry { return rt.providers }

// Tools exposes the tool registry.
func (rt *Runtime) Tools() *tool.Registry { return rt.tools }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Models lists chat models for the selected provider and key.
func (rt *Runtime) Models(ctx context.Context) ([]model.ChatModel, error) {
	st := rt.ws.ProviderState()
	return rt.providers.Models(ctx, rt.providers.Lookup(st.ProviderID), st.APIKey)
}

// Close cancels running turns and releases storage and telemetry.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	for _, t := range rt.inflight {
		t.cancel()
	}
	rt.mu.Unlock()

	var err error
	if rt.ownsStore && rt.store != nil {
		err = rt.store.Close()
	}
	rt.shutdownTracing(context.Background())
	return err
}

func (rt *Runtime) shutdownTracing(ctx context.Context) {
	if rt.tracing == nil {
		return
	}
	if err := rt.tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn("telemetry shutdown failed", "error", err)
	}
	telemetry.SetDefault(nil)
	rt.tracing = nil
}
