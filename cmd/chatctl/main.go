package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// ioStreams wires stdin/stdout/stderr for commands and becomes injectable in
// tests.
type ioStreams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()
	streams := ioStreams{in: os.Stdin, out: os.Stdout, err: os.Stderr}
	if err := runCLI(ctx, os.Args[1:], streams); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(streams.err, err)
		}
		os.Exit(1)
	}
}

// interruptContext cancels on Ctrl+C. Interactive commands use it per turn
// so an interrupt stops the running reply instead of the process.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

func runCLI(ctx context.Context, argv []string, streams ioStreams) error {
	global := flag.NewFlagSet("chatctl", flag.ContinueOnError)
	global.SetOutput(streams.err)
	var configPath string
	global.StringVar(&configPath, "config", "", "Path to the config file (defaults to $CHATSTREAM_CONFIG or ~/.chatstream/config.yaml).")
	global.Usage = func() {
		fmt.Fprintln(streams.err, "chatctl - streaming chat client")
		fmt.Fprintln(streams.err, "\nUsage:")
		fmt.Fprintln(streams.err, "  chatctl [global flags] <command> [args]")
		fmt.Fprintln(streams.err, "\nCommands:")
		fmt.Fprintln(streams.err, "  run     Send one prompt and print the reply")
		fmt.Fprintln(streams.err, "  chat    Interactive session")
		fmt.Fprintln(streams.err, "  models  List or select models of the current provider")
		fmt.Fprintln(streams.err, "  tools   List, enable or disable tools")
		fmt.Fprintln(streams.err, "  keys    Manage provider API keys")
		fmt.Fprintln(streams.err, "  chats   List, show or delete chats")
		fmt.Fprintln(streams.err, "  data    Clear stored data")
		fmt.Fprintln(streams.err, "  serve   Start the HTTP API server")
		fmt.Fprintln(streams.err, "  config  Manage the config file")
		fmt.Fprintln(streams.err, "\nGlobal Flags:")
		global.PrintDefaults()
		fmt.Fprintln(streams.err, "\nRun 'chatctl <command> -h' for command-specific usage.")
	}
	if err := global.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "run":
		return runCommand(ctx, rest, configPath, streams)
	case "chat":
		return chatCommand(ctx, rest, configPath, streams)
	case "models":
		return modelsCommand(ctx, rest, configPath, streams)
	case "tools":
		return toolsCommand(ctx, rest, configPath, streams)
	case "keys":
		return keysCommand(ctx, rest, configPath, streams)
	case "chats":
		return chatsCommand(ctx, rest, configPath, streams)
	case "data":
		return dataCommand(ctx, rest, configPath, streams)
	case "serve":
		return serveCommand(ctx, rest, configPath, streams)
	case "config":
		return configCommand(rest, configPath, streams)
	case "help", "-h", "--help":
		global.Usage()
		return nil
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", sub)
	}
}
