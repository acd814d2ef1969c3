package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/cexll/chatstream-go/pkg/provider"
)

func keysCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	if len(argv) == 0 {
		argv = []string{"list"}
	}
	sub, rest := argv[0], argv[1:]
	set := flag.NewFlagSet("keys "+sub, flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		providerFlag = set.String("provider", "", "Provider id (defaults to the selected provider).")
		nameFlag     = set.String("name", "default", "Label for the saved key.")
		enableFlag   = set.Bool("enable", true, "Activate the key after saving it.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: chatctl keys <list|add|use|delete> [flags] [name]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
	}
	if err := set.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()
	ws := rt.Workspace()

	pid := *providerFlag
	if pid == "" {
		pid = ws.ProviderState().ProviderID
	}
	if _, ok := rt.Providers().Get(pid); !ok {
		return fmt.Errorf("unknown provider %q", pid)
	}

	switch sub {
	case "list":
		state := ws.ProviderState()
		w := tabwriter.NewWriter(streams.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tNAME\tKEY\tCREATED")
		for _, k := range state.Keys(pid) {
			mark := ""
			if k.Key == state.APIKey && state.ProviderID == pid {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, k.Name, maskKey(k.Key), k.Created)
		}
		return w.Flush()
	case "add":
		key, err := readSecret(streams, "API key: ")
		if err != nil {
			return err
		}
		if key == "" {
			return errors.New("api key is empty")
		}
		_, err = ws.UpdateProvider(func(s provider.State) provider.State {
			if *enableFlag {
				s = s.WithProvider(pid)
			}
			return s.WithSavedKey(pid, *nameFlag, key, *enableFlag, ws.Now())
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "saved key %q for %s\n", *nameFlag, pid)
		return nil
	case "use", "delete":
		name := *nameFlag
		if set.NArg() > 0 {
			name = set.Arg(0)
		}
		keys := ws.ProviderState().Keys(pid)
		idx := slices.IndexFunc(keys, func(k provider.APIKey) bool { return k.Name == name })
		if idx < 0 {
			return fmt.Errorf("no key named %q for %s", name, pid)
		}
		_, err := ws.UpdateProvider(func(s provider.State) provider.State {
			if sub == "use" {
				return s.WithProvider(pid).WithAPIKey(keys[idx].Key)
			}
			return s.WithoutKey(pid, keys[idx].Key)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "%s key %q for %s\n", pastTense(sub), name, pid)
		return nil
	default:
		set.Usage()
		return fmt.Errorf("unknown keys subcommand %q", sub)
	}
}

func pastTense(verb string) string {
	if verb == "use" {
		return "using"
	}
	return "deleted"
}

// readSecret reads without echo from a terminal, otherwise one line of input.
func readSecret(streams ioStreams, prompt string) (string, error) {
	if f, ok := streams.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(streams.err, prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(streams.err)
		if err != nil {
			return "", fmt.Errorf("read api key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(streams.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
