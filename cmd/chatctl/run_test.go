package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cexll/chatstream-go/pkg/api"
	"github.com/cexll/chatstream-go/pkg/model/demo"
)

func TestRunCommandStreamsDemoReply(t *testing.T) {
	cfgPath := newConfig(t)
	want := demo.Responses[1]

	var out bytes.Buffer
	if err := runCommand(context.Background(), []string{want.Prompt}, cfgPath, capture(&out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != strings.TrimSpace(want.Content) {
		t.Fatalf("unexpected reply:\n%s", out.String())
	}

	var list bytes.Buffer
	if err := chatsCommand(context.Background(), nil, cfgPath, capture(&list)); err != nil {
		t.Fatalf("chats list: %v", err)
	}
	if !strings.Contains(list.String(), want.Prompt) {
		t.Fatalf("chat not listed: %s", list.String())
	}
}

func TestRunCommandRendersMarkdown(t *testing.T) {
	cfgPath := newConfig(t)
	var out bytes.Buffer
	if err := runCommand(context.Background(), []string{"-markdown", demo.Responses[2].Prompt}, cfgPath, capture(&out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Louvre") {
		t.Fatalf("missing reply text: %s", out.String())
	}
}

func TestRunCommandRequiresPrompt(t *testing.T) {
	cfgPath := newConfig(t)
	if err := runCommand(context.Background(), []string{"   "}, cfgPath, quiet()); err == nil {
		t.Fatal("expected empty prompt to fail")
	}
	if err := runCommand(context.Background(), []string{"-chat", "missing", "hi"}, cfgPath, quiet()); err == nil {
		t.Fatal("expected unknown chat to fail")
	}
}

func TestReplHandle(t *testing.T) {
	cfgPath := newConfig(t)
	rt, err := openRuntime(context.Background(), cfgPath, quiet())
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	var out bytes.Buffer
	r := &repl{rt: rt, out: &out}
	ctx := context.Background()

	if _, err := r.handle(ctx, "/regen"); !errors.Is(err, api.ErrNothingToRetry) {
		t.Fatalf("expected nothing to retry, got %v", err)
	}
	if quit, err := r.handle(ctx, demo.Responses[0].Prompt); quit || err != nil {
		t.Fatalf("prompt: quit=%v err=%v", quit, err)
	}
	if r.chatID == "" {
		t.Fatal("expected chat to be created")
	}
	first := r.chatID
	if _, err := r.handle(ctx, "/regen"); err != nil {
		t.Fatalf("regen: %v", err)
	}
	c, err := rt.Workspace().Chat(first)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected user and assistant after regen, got %d", len(c.Messages))
	}
	if _, err := r.handle(ctx, "/new"); err != nil || r.chatID != "" {
		t.Fatalf("new: chat=%q err=%v", r.chatID, err)
	}
	if _, err := r.handle(ctx, "/bogus"); err == nil {
		t.Fatal("expected unknown command error")
	}
	if quit, _ := r.handle(ctx, "/quit"); !quit {
		t.Fatal("expected quit")
	}
	if !strings.Contains(out.String(), "C++") {
		t.Fatalf("reply not printed: %s", out.String())
	}
}

func TestRunCLIRejectsUnknownCommand(t *testing.T) {
	if err := runCLI(context.Background(), []string{"bogus"}, quiet()); err == nil {
		t.Fatal("expected error")
	}
	if err := runCLI(context.Background(), nil, quiet()); err == nil {
		t.Fatal("expected missing command error")
	}
	if err := runCLI(context.Background(), []string{"help"}, quiet()); err != nil {
		t.Fatalf("help: %v", err)
	}
}
