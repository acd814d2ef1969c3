package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/config"
	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/model/demo"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/storage"
	"github.com/cexll/chatstream-go/pkg/tool"
)

// Options configures a Runtime. Zero values fall back to the loaded config
// and the builtin catalogs.
type Options struct {
	// Config skips the loader when set.
	Config        *config.Config
	Loader        *config.Loader
	LoaderOptions []config.LoaderOption

	// Store replaces the backend selected by the config. The runtime does
	// not close a caller-provided store.
	Store *storage.Store

	Logger     *slog.Logger
	HTTPClient *http.Client

	// Providers replaces the builtin provider catalog.
	Providers []provider.Provider
	// Tools replaces the builtin tools.
	Tools []*tool.Descriptor
	// Dialer replaces the provider registry when building transports.
	Dialer      chat.Dialer
	DemoOptions []demo.Option

	Clock       func() time.Time
	IDGenerator func() string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.IDGenerator == nil {
		o.IDGenerator = message.NewID
	}
	return o
}

func (o Options) loadConfig() (*config.Config, *config.Loader, error) {
	if o.Config != nil {
		cfg := *o.Config
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		return &cfg, o.Loader, nil
	}
	loader := o.Loader
	if loader == nil {
		var err error
		loader, err = config.NewLoader(o.LoaderOptions...)
		if err != nil {
			return nil, nil, err
		}
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
