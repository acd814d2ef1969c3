package toolbuiltin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cexll/chatstream-go/pkg/tool"
)

func TestDateTimeListsZones(t *testing.T) {
	fixed := time.Date(2024, time.July, 4, 12, 30, 15, 0, time.UTC)
	d := NewDateTime(func() time.Time { return fixed })
	require.True(t, d.Validate("{}").OK)

	out, err := d.Execute(context.Background(), tool.Call{})
	require.NoError(t, err)
	text := out.(string)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 8)
	require.True(t, strings.HasPrefix(lines[0], "Local date is "))
	require.Equal(t, "UTC date is July 4, 2024 at 12:30:15", lines[1])
	require.Equal(t, "Western European Time (WET) is 4 July 2024 at 13:30:15", lines[2])
	require.Equal(t, "Central European Time (CET) is 4 July 2024 at 14:30:15", lines[3])
	require.Equal(t, "Eastern European Time (EET) is 4 July 2024 at 15:30:15", lines[4])
	require.Equal(t, "Eastern Standard Time (EST) is July 4, 2024 at 08:30:15", lines[5])
	require.Equal(t, "Central Standard Time (CST) is July 4, 2024 at 07:30:15", lines[6])
	require.Equal(t, "Pacific Standard Time (PST) is July 4, 2024 at 05:30:15", lines[7])
}

func newTestInstantSearch(t *testing.T, handler http.HandlerFunc) *tool.Descriptor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewInstantSearch(&InstantSearchOptions{
		Endpoint: srv.URL + "/",
		Client:   srv.Client(),
		Limiter:  rate.NewLimiter(rate.Inf, 1),
	})
}

func TestInstantSearchUsesFirstWord(t *testing.T) {
	d := newTestInstantSearch(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "golang" {
			t.Errorf("unexpected query %q", q.Get("q"))
		}
		for _, key := range []string{"no_html", "skip_disambig", "pretty"} {
			if q.Get(key) != "1" {
				t.Errorf("missing %s flag", key)
			}
		}
		if q.Get("format") != "json" {
			t.Errorf("unexpected format %q", q.Get("format"))
		}
		w.Header().Set("Content-Type", "application/x-javascript")
		_, _ = w.Write([]byte(`{"Heading":"Go","AbstractText":"A language"}`))
	})

	v := d.Validate(`{"keyword":"golang programming language"}`)
	require.True(t, v.OK, v.Reason)
	out, err := d.Execute(context.Background(), tool.Call{Input: v.Input})
	require.NoError(t, err)
	require.Equal(t, "{\n  \"AbstractText\": \"A language\",\n  \"Heading\": \"Go\"\n}", out)
}

func TestInstantSearchCancelledReturnsEmpty(t *testing.T) {
	called := false
	d := newTestInstantSearch(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := d.Execute(ctx, tool.Call{Input: map[string]any{"keyword": "go"}})
	require.NoError(t, err)
	require.Equal(t, "", out)
	require.False(t, called)
}

func TestInstantSearchErrors(t *testing.T) {
	d := newTestInstantSearch(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	_, err := d.Execute(context.Background(), tool.Call{Input: map[string]any{"keyword": "go"}})
	require.ErrorContains(t, err, "status 502")

	_, err = d.Execute(context.Background(), tool.Call{Input: map[string]any{"keyword": "  "}})
	require.ErrorContains(t, err, "keyword is empty")

	require.False(t, d.Validate(`{}`).OK)
}

func TestWebSearchIsNative(t *testing.T) {
	d := NewWebSearch()
	decl := d.Declaration()
	require.Equal(t, tool.NativeWebSearch, decl.Native)
	require.Nil(t, decl.Function)
	out, err := d.Execute(context.Background(), tool.Call{})
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestNewRegistryRegistersAll(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{DateTimeToolName, InstantSearchToolName, WebSearchToolName}, names)
}
