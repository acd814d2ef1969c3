package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cexll/chatstream-go/pkg/message"
)

func chatsCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	if len(argv) == 0 {
		argv = []string{"list"}
	}
	sub := argv[0]
	switch sub {
	case "list":
	case "show", "delete":
		if len(argv) != 2 {
			return fmt.Errorf("chats %s requires a chat id", sub)
		}
	default:
		fmt.Fprintln(streams.err, "Usage: chatctl chats [list | show <id> | delete <id>]")
		return fmt.Errorf("unknown chats subcommand %q", sub)
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()
	ws := rt.Workspace()

	switch sub {
	case "show":
		c, err := ws.Chat(argv[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "# %s\n", c.Title)
		for _, m := range c.Messages {
			if m.Role == message.RoleSystem {
				continue
			}
			fmt.Fprintf(streams.out, "\n[%s]\n%s\n", m.Role, m.Content)
		}
		return nil
	case "delete":
		if err := ws.DeleteChat(argv[1]); err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "deleted chat %s\n", argv[1])
		return nil
	}
	w := tabwriter.NewWriter(streams.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, c := range ws.Chats() {
		updated := time.UnixMilli(c.Updated).UTC().Format(time.DateTime)
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, updated, strings.ReplaceAll(c.Title, "\n", " "))
	}
	return w.Flush()
}

func dataCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	if len(argv) != 1 || argv[0] != "clear" {
		fmt.Fprintln(streams.err, "Usage: chatctl data clear")
		return errors.New("invalid data arguments")
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Workspace().ClearData(); err != nil {
		return err
	}
	fmt.Fprintln(streams.out, "cleared chats, templates, settings and tools")
	return nil
}
