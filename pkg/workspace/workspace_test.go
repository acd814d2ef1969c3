package workspace

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	store, err := storage.NewStore(storage.NewMemoryBackend())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clock := &fakeClock{t: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)}
	n := 0
	return New(store, WithClock(clock.now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))
}

func TestTitle(t *testing.T) {
	require.Equal(t, "short", Title("short"))
	long := strings.Repeat("a", 70)
	require.Equal(t, strings.Repeat("a", 65)+" ...", Title(long))
	require.Equal(t, strings.Repeat("ü", 65), Title(strings.Repeat("ü", 65)))
}

func TestCreateChatWithTemplate(t *testing.T) {
	w := newWorkspace(t)
	c, err := w.CreateChat("How do I squash commits?", "git_assistant")
	require.NoError(t, err)
	require.Equal(t, "git_assistant", c.TemplateID)
	require.Len(t, c.Messages, 1)
	require.Equal(t, message.RoleSystem, c.Messages[0].Role)
	require.Contains(t, c.Messages[0].Content, "2024-03-09T08:00:01.000Z")
	require.NotContains(t, c.Messages[0].Content, "{date}")
	require.Equal(t, c.Created, c.Updated)

	got, err := w.Chat(c.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestCreateChatReplacesFirstDateOnly(t *testing.T) {
	w := newWorkspace(t)
	tpl, err := w.CreateTemplate("Dates", "", "{date} and {date}")
	require.NoError(t, err)
	c, err := w.CreateChat("hi", tpl.ID)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(c.Messages[0].Content, " and {date}"))
}

func TestCreateChatUnknownTemplate(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.CreateChat("hi", "nope")
	require.ErrorIs(t, err, ErrTemplateNotFound)
	require.Empty(t, w.Chats())
}

func TestChatsOrderAndUpdates(t *testing.T) {
	w := newWorkspace(t)
	first, err := w.CreateChat("first", "")
	require.NoError(t, err)
	require.Empty(t, first.Messages)
	second, err := w.CreateChat("second", "")
	require.NoError(t, err)

	ids := func() []string {
		var out []string
		for _, c := range w.Chats() {
			out = append(out, c.ID)
		}
		return out
	}
	require.Equal(t, []string{second.ID, first.ID}, ids())

	history := []message.Message{{ID: "m1", Role: message.RoleUser, Content: "hello"}}
	updated, err := w.SetChatMessages(first.ID, history)
	require.NoError(t, err)
	require.Greater(t, updated.Updated, first.Updated)
	require.Equal(t, []string{first.ID, second.ID}, ids())

	history[0].Content = "mutated"
	got, err := w.Chat(first.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Messages[0].Content)

	renamed, err := w.UpdateChat(second.ID, func(c Chat) Chat {
		c.ID = "hijack"
		c.Title = "renamed"
		return c
	})
	require.NoError(t, err)
	require.Equal(t, second.ID, renamed.ID)
	require.Equal(t, "renamed", renamed.Title)

	_, err = w.UpdateChat("missing", func(c Chat) Chat { return c })
	require.ErrorIs(t, err, ErrChatNotFound)

	require.NoError(t, w.DeleteChat(first.ID))
	require.NoError(t, w.DeleteChat(first.ID))
	require.Equal(t, []string{second.ID}, ids())
}

func TestTemplates(t *testing.T) {
	w := newWorkspace(t)
	require.Len(t, w.Templates(), 3)
	for _, p := range Presets() {
		require.True(t, p.Preset)
		require.Contains(t, p.System, "{date}")
	}

	_, err := w.CreateTemplate(" ", "", "x")
	require.ErrorIs(t, err, ErrEmptyName)

	tpl, err := w.CreateTemplate("Poet", "Writes verse", "Answer in rhyme.")
	require.NoError(t, err)
	require.False(t, tpl.Preset)
	require.Len(t, w.Templates(), 4)

	name := "Bard"
	edited, err := w.EditTemplate(tpl.ID, TemplateEdit{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Bard", edited.Name)
	require.Equal(t, "Answer in rhyme.", edited.System)

	_, err = w.EditTemplate("code_buddy", TemplateEdit{Name: &name})
	require.ErrorIs(t, err, ErrPresetTemplate)
	require.ErrorIs(t, w.DeleteTemplate("resume_builder"), ErrPresetTemplate)

	_, err = w.EditTemplate("missing", TemplateEdit{Name: &name})
	require.ErrorIs(t, err, ErrTemplateNotFound)

	require.NoError(t, w.DeleteTemplate(tpl.ID))
	require.ErrorIs(t, w.DeleteTemplate(tpl.ID), ErrTemplateNotFound)
	require.Len(t, w.Templates(), 3)
}

func TestSettingsAndTools(t *testing.T) {
	w := newWorkspace(t)
	require.Equal(t, chat.DefaultSettings(), w.Settings())
	require.Error(t, w.SetSettings(chat.Settings{Temperature: 1.5}))
	require.NoError(t, w.SetSettings(chat.Settings{Temperature: 0.9}))
	require.Equal(t, 0.9, w.Settings().Temperature)

	require.Empty(t, w.EnabledTools())
	require.NoError(t, w.SetEnabledTools([]string{"web_search", "", "web_search", "datetime"}))
	require.Equal(t, []string{"web_search", "datetime"}, w.EnabledTools())

	names, err := w.SetToolEnabled("web_search", false)
	require.NoError(t, err)
	require.Equal(t, []string{"datetime"}, names)
	names, err = w.SetToolEnabled("instant_search", true)
	require.NoError(t, err)
	require.Equal(t, []string{"datetime", "instant_search"}, names)
	_, err = w.SetToolEnabled("", true)
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestProviderStateAndClearData(t *testing.T) {
	w := newWorkspace(t)
	require.Equal(t, provider.DemoID, w.ProviderState().ProviderID)

	state, err := w.UpdateProvider(func(s provider.State) provider.State {
		return s.WithProvider(provider.GroqID).WithSavedKey(provider.GroqID, "work", "gsk", true, w.Now())
	})
	require.NoError(t, err)
	require.Equal(t, "gsk", state.APIKey)

	_, err = w.CreateChat("hello", "")
	require.NoError(t, err)
	_, err = w.CreateTemplate("Mine", "", "")
	require.NoError(t, err)
	require.NoError(t, w.SetSettings(chat.Settings{Temperature: 0.1}))
	require.NoError(t, w.SetEnabledTools([]string{"datetime"}))

	require.NoError(t, w.ClearData())
	require.Empty(t, w.Chats())
	require.Len(t, w.Templates(), 3)
	require.Equal(t, chat.DefaultSettings(), w.Settings())
	require.Empty(t, w.EnabledTools())
	require.Equal(t, "gsk", w.ProviderState().APIKey)
}

func TestWatch(t *testing.T) {
	w := newWorkspace(t)
	var changes []storage.Change
	stop := w.Watch(KeyChats, func(c storage.Change) { changes = append(changes, c) })
	_, err := w.CreateChat("hello", "")
	require.NoError(t, err)
	stop()
	_, err = w.CreateChat("again", "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, KeyChats, changes[0].Key)
}
