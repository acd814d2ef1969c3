// Package server exposes the chat runtime over HTTP, streaming turns and
// storage changes as Server-Sent Events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cexll/chatstream-go/pkg/api"
	"github.com/cexll/chatstream-go/pkg/event"
	"github.com/cexll/chatstream-go/pkg/storage"
	"github.com/cexll/chatstream-go/pkg/workspace"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

var watchedKeys = []string{
	workspace.KeyChats,
	workspace.KeyTemplates,
	workspace.KeySettings,
	workspace.KeyTools,
	workspace.KeyProvider,
}

// Option customises a Server.
type Option func(*Server)

// WithHeartbeat sets the /events heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.stream.SetHeartbeat(d) }
}

// Server routes HTTP requests to a Runtime.
type Server struct {
	rt     *api.Runtime
	stream *event.Stream
	mux    *http.ServeMux
	logger *slog.Logger

	unwatch   []func()
	closeOnce sync.Once
}

// New creates a Server with pre-wired routes and subscribes to workspace
// changes for /events.
func New(rt *api.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:     rt,
		stream: event.NewStream(),
		mux:    http.NewServeMux(),
		logger: rt.Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, key := range watchedKeys {
		s.unwatch = append(s.unwatch, rt.Workspace().Watch(key, s.forward))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /providers", s.handleProviders)
	s.mux.HandleFunc("GET /provider", s.handleGetProvider)
	s.mux.HandleFunc("PUT /provider", s.handlePutProvider)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("GET /tools", s.handleTools)
	s.mux.HandleFunc("GET /tools/enabled", s.handleGetEnabled)
	s.mux.HandleFunc("PUT /tools/enabled", s.handlePutEnabled)
	s.mux.HandleFunc("GET /settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /settings", s.handlePutSettings)
	s.mux.HandleFunc("GET /chats", s.handleListChats)
	s.mux.HandleFunc("POST /chats", s.handleCreateChat)
	s.mux.HandleFunc("GET /chats/{id}", s.handleGetChat)
	s.mux.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)
	s.mux.HandleFunc("POST /chats/{id}/messages", s.handleSubmit)
	s.mux.HandleFunc("POST /chats/{id}/regenerate", s.handleRegenerate)
	s.mux.HandleFunc("DELETE /chats/{id}/turn", s.handleCancel)
	s.mux.HandleFunc("GET /templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /templates", s.handleCreateTemplate)
	s.mux.HandleFunc("PATCH /templates/{id}", s.handleEditTemplate)
	s.mux.HandleFunc("DELETE /templates/{id}", s.handleDeleteTemplate)
	s.mux.Handle("GET /events", s.stream)
}

// ServeHTTP implements http.Handler and delegates to the internal mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

// Close detaches from the workspace and disconnects /events clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for _, stop := range s.unwatch {
			stop()
		}
		s.stream.Close()
	})
}

func (s *Server) forward(c storage.Change) {
	if err := s.stream.Broadcast(event.FromChange(c)); err != nil {
		s.logger.Warn("broadcast storage change", "key", c.Key, "error", err)
	}
}
