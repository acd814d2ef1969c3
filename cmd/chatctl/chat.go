package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/cexll/chatstream-go/pkg/api"
)

func chatCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("chat", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		chatFlag     = set.String("chat", "", "Resume an existing chat.")
		templateFlag = set.String("template", "", "Template for chats started in this session.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: chatctl chat [flags]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nCommands inside the session:")
		fmt.Fprintln(streams.err, "  /new    start a new chat")
		fmt.Fprintln(streams.err, "  /regen  regenerate the last reply")
		fmt.Fprintln(streams.err, "  /tools  show enabled tools")
		fmt.Fprintln(streams.err, "  /quit   leave")
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

	r := &repl{rt: rt, chatID: *chatFlag, templateID: *templateFlag, out: streams.out}
	if r.chatID != "" {
		if _, err := rt.Workspace().Chat(r.chatID); err != nil {
			return err
		}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	fmt.Fprintln(streams.out, "chatctl chat - /quit to leave, Ctrl+C stops a reply")
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		turnCtx, stop := interruptContext(ctx)
		quit, err := r.handle(turnCtx, input)
		stop()
		if err != nil {
			fmt.Fprintln(streams.err, "error:", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// repl holds the state of one interactive session.
type repl struct {
	rt         *api.Runtime
	chatID     string
	templateID string
	out        io.Writer
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return false, nil
	case input == "/quit" || input == "/exit":
		return true, nil
	case input == "/new":
		r.chatID = ""
		fmt.Fprintln(r.out, "started a new chat")
		return false, nil
	case input == "/tools":
		enabled := r.rt.Workspace().EnabledTools()
		if len(enabled) == 0 {
			fmt.Fprintln(r.out, "no tools enabled")
			return false, nil
		}
		fmt.Fprintln(r.out, strings.Join(enabled, ", "))
		return false, nil
	case input == "/regen":
		if r.chatID == "" {
			return false, api.ErrNothingToRetry
		}
		turn, err := r.rt.Regenerate(ctx, r.chatID, "")
		if err != nil {
			return false, err
		}
		printTurn(turn, r.out)
		return false, nil
	case strings.HasPrefix(input, "/"):
		return false, fmt.Errorf("unknown command %s", input)
	}
	turn, err := r.rt.Submit(ctx, api.SubmitRequest{ChatID: r.chatID, Prompt: input, TemplateID: r.templateID})
	if err != nil {
		return false, err
	}
	r.chatID = turn.ChatID
	printTurn(turn, r.out)
	return false, nil
}
