package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/cexll/chatstream-go/pkg/api"
	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/message"
)

func runCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("run", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		chatFlag     = set.String("chat", "", "Continue an existing chat instead of creating one.")
		templateFlag = set.String("template", "", "Seed a new chat from a template id.")
		markdownFlag = set.Bool("markdown", false, "Render the final reply as markdown instead of streaming raw text.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: chatctl run [flags] \"prompt\"")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nExamples:")
		fmt.Fprintln(streams.err, "  chatctl run \"what time is it?\"")
		fmt.Fprintln(streams.err, "  chatctl run -template code_buddy \"explain goroutines\"")
		fmt.Fprintln(streams.err, "  chatctl run -chat <id> -markdown \"tell me more\"")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	prompt := strings.TrimSpace(strings.Join(set.Args(), " "))
	if prompt == "" {
		return errors.New("run requires a prompt")
	}
	rt, err := openRuntime(ctx, cfgPath, streams)
	if err != nil {
		return err
	}
	defer rt.Close()

	runCtx, stop := interruptContext(ctx)
	defer stop()
	turn, err := rt.Submit(runCtx, api.SubmitRequest{ChatID: *chatFlag, Prompt: prompt, TemplateID: *templateFlag})
	if err != nil {
		return err
	}
	if *markdownFlag {
		final := turn.Run()
		return renderReply(streams.out, final)
	}
	final := printTurn(turn, streams.out)
	fmt.Fprintf(streams.err, "chat %s\n", turn.ChatID)
	return turnError(final)
}

// printTurn writes the reply as it grows and returns the final snapshot.
func printTurn(turn *api.Turn, out io.Writer) chat.Snapshot {
	var (
		final   chat.Snapshot
		written int
	)
	for snap := range turn.Snapshots() {
		final = snap
		content := snap.Message.Content
		if len(content) > written {
			io.WriteString(out, content[written:])
			written = len(content)
		}
	}
	if written > 0 {
		fmt.Fprintln(out)
	}
	if final.Message.Aborted {
		fmt.Fprintln(out, "[aborted]")
	}
	for _, m := range trailingErrors(final) {
		fmt.Fprintln(out, m.Content)
	}
	return final
}

// trailingErrors returns the error messages appended after the reply.
func trailingErrors(snap chat.Snapshot) []message.Message {
	var out []message.Message
	for i := len(snap.History) - 1; i >= 0; i-- {
		m := snap.History[i]
		if !m.Error {
			break
		}
		out = append([]message.Message{m}, out...)
	}
	return out
}

func turnError(snap chat.Snapshot) error {
	if len(trailingErrors(snap)) > 0 {
		return errors.New("chat completion failed")
	}
	return nil
}

func newRenderer(out io.Writer) (*glamour.TermRenderer, error) {
	style := glamour.WithStandardStyle("notty")
	if isTerminal(out) {
		style = glamour.WithAutoStyle()
	}
	return glamour.NewTermRenderer(style, glamour.WithWordWrap(80))
}

func renderReply(out io.Writer, snap chat.Snapshot) error {
	r, err := newRenderer(out)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	var b strings.Builder
	b.WriteString(snap.Message.Content)
	for _, m := range trailingErrors(snap) {
		b.WriteString("\n\n")
		b.WriteString(m.Content)
	}
	rendered, err := r.Render(b.String())
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	io.WriteString(out, rendered)
	return turnError(snap)
}
