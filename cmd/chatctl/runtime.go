package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/cexll/chatstream-go/pkg/api"
	"github.com/cexll/chatstream-go/pkg/config"
	"github.com/cexll/chatstream-go/pkg/model/demo"
)

// demoOptions is appended to every runtime; tests disable demo pauses here.
var demoOptions []demo.Option

func newLoader(cfgPath string) (*config.Loader, error) {
	var opts []config.LoaderOption
	if cfgPath != "" {
		opts = append(opts, config.WithPath(cfgPath))
	}
	return config.NewLoader(opts...)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}))
}

// openRuntime loads the config, installs the CLI logger and assembles the
// runtime. The caller closes it.
func openRuntime(ctx context.Context, cfgPath string, streams ioStreams) (*api.Runtime, error) {
	loader, err := newLoader(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(streams.err, cfg.Log.SlogLevel())
	slog.SetDefault(logger)
	return api.New(ctx, api.Options{
		Config:      cfg,
		Loader:      loader,
		Logger:      logger,
		DemoOptions: demoOptions,
	})
}
