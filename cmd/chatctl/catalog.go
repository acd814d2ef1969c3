package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/provider"
)

func modelsCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	if len(argv) > 0 && argv[0] != "list" && argv[0] != "use" && argv[0] != "provider" {
		fmt.Fprintln(streams.err, "Usage: chatctl models [list | use <model-id> | provider <provider-id>]")
		return fmt.Errorf("unknown models subcommand %q", argv[0])
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()
	ws := rt.Workspace()

	if len(argv) >= 1 && argv[0] == "provider" {
		if len(argv) != 2 {
			return errors.New("models provider requires a provider id")
		}
		if _, ok := rt.Providers().Get(argv[1]); !ok {
			return fmt.Errorf("unknown provider %q", argv[1])
		}
		state, err := ws.UpdateProvider(func(s provider.State) provider.State { return s.WithProvider(argv[1]) })
		if err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "provider set to %s\n", state.ProviderID)
		return nil
	}

	models, err := rt.Models(ctx)
	if err != nil {
		return err
	}
	if len(argv) >= 1 && argv[0] == "use" {
		if len(argv) != 2 {
			return errors.New("models use requires a model id")
		}
		idx := slices.IndexFunc(models, func(m model.ChatModel) bool { return m.ID == argv[1] })
		if idx < 0 {
			return fmt.Errorf("model %q is not offered by %s", argv[1], ws.ProviderState().ProviderID)
		}
		if _, err := ws.UpdateProvider(func(s provider.State) provider.State { return s.WithModel(models[idx]) }); err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "model set to %s\n", models[idx].ID)
		return nil
	}

	current := ws.ProviderState().ModelID()
	w := tabwriter.NewWriter(streams.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tOWNER")
	for _, m := range models {
		mark := ""
		if m.ID == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, m.ID, m.Name, m.OwnedBy)
	}
	return w.Flush()
}

func toolsCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	var (
		action string
		name   string
	)
	switch {
	case len(argv) == 0 || argv[0] == "list":
	case (argv[0] == "enable" || argv[0] == "disable") && len(argv) == 2:
		action, name = argv[0], argv[1]
	default:
		fmt.Fprintln(streams.err, "Usage: chatctl tools [list | enable <name> | disable <name>]")
		return errors.New("invalid tools arguments")
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()
	ws := rt.Workspace()

	if action != "" {
		if _, err := rt.Tools().Get(name); err != nil {
			return err
		}
		enabled, err := ws.SetToolEnabled(name, action == "enable")
		if err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "enabled tools: %d\n", len(enabled))
		return nil
	}

	enabled := ws.EnabledTools()
	w := tabwriter.NewWriter(streams.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tTITLE")
	for _, d := range rt.Tools().List() {
		mark := ""
		if slices.Contains(enabled, d.Name) {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, d.Name, d.DisplayTitle())
	}
	return w.Flush()
}
