package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"

	"github.com/cexll/chatstream-go/pkg/server"
)

func serveCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("serve", flag.ContinueOnError)
	set.SetOutput(streams.err)
	addrFlag := set.String("addr", "", "Address to bind (defaults to server.addr from config).")
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: chatctl serve [flags]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nRoutes:")
		fmt.Fprintln(streams.err, "  GET  /health                   Health probe")
		fmt.Fprintln(streams.err, "  GET  /chats                    List chats")
		fmt.Fprintln(streams.err, "  POST /chats                    Start a chat (SSE)")
		fmt.Fprintln(streams.err, "  POST /chats/{id}/messages      Continue a chat (SSE)")
		fmt.Fprintln(streams.err, "  POST /chats/{id}/regenerate    Regenerate a reply (SSE)")
		fmt.Fprintln(streams.err, "  GET  /events                   Workspace change feed (SSE)")
	}
	if err := set.Parse(argv); err != nil {
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

	addr := strings.TrimSpace(*addrFlag)
	if addr == "" {
		addr = rt.Config().Server.Addr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := server.New(rt)
	defer srv.Close()
	fmt.Fprintf(streams.out, "chatctl serve listening on http://%s\n", listener.Addr().String())
	return srv.Serve(ctx, listener)
}
