package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/cexll/chatstream-go/pkg/config"
)

func configCommand(argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("config", flag.ContinueOnError)
	set.SetOutput(streams.err)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: chatctl config <init|set|get|list|path> ...")
		fmt.Fprintln(streams.err, "\nCommands:")
		fmt.Fprintln(streams.err, "  init             Create a config file with defaults")
		fmt.Fprintln(streams.err, "  set key value    Update a single key")
		fmt.Fprintln(streams.err, "  get key          Print the value of a key")
		fmt.Fprintln(streams.err, "  list             Show all configuration values")
		fmt.Fprintln(streams.err, "  path             Print the resolved config path")
		fmt.Fprintf(streams.err, "\nKeys: %s\n", strings.Join(config.Keys(), ", "))
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	args := set.Args()
	if len(args) == 0 {
		set.Usage()
		return errors.New("config expects a subcommand")
	}
	loader, err := newLoader(cfgPath)
	if err != nil {
		return err
	}
	switch sub := args[0]; sub {
	case "init":
		return configInit(loader, streams.out)
	case "set":
		return configSet(loader, args[1:], streams.out)
	case "get":
		return configGet(loader, args[1:], streams.out)
	case "list":
		return configList(loader, streams.out)
	case "path":
		path, ok := loader.Resolve()
		state := "missing"
		if ok {
			state = "exists"
		}
		fmt.Fprintf(streams.out, "%s (%s)\n", path, state)
		return nil
	default:
		return fmt.Errorf("unknown config subcommand %q", sub)
	}
}

func configInit(loader *config.Loader, out io.Writer) error {
	path, ok := loader.Resolve()
	if ok {
		return fmt.Errorf("config already exists at %s", path)
	}
	cfg := config.Default()
	cfg.Path = path
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s\n", path)
	return nil
}

func configSet(loader *config.Loader, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("config set requires <key> <value>")
	}
	key := strings.ToLower(strings.TrimSpace(args[0]))
	value := strings.TrimSpace(strings.Join(args[1:], " "))
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s updated\n", key)
	return nil
}

func configGet(loader *config.Loader, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("config get requires <key>")
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	value, err := cfg.Get(strings.ToLower(strings.TrimSpace(args[0])))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

func configList(loader *config.Loader, out io.Writer) error {
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	for _, key := range config.Keys() {
		value, err := cfg.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s=%s\n", key, value)
	}
	return nil
}
