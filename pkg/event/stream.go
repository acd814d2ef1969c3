package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultBuffer    = 16
	endFrame         = "event: end\ndata: {}\n\n"
)

// ErrNoFlush is returned when the response cannot stream.
var ErrNoFlush = errors.New("event: response does not support streaming")

// Encode renders evt as one SSE frame.
func Encode(evt Event) ([]byte, error) {
	evt = normalize(evt)
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("event: marshal: %w", err)
	}
	return fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, body), nil
}

func prepare(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlush
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return flusher, nil
}

// Writer streams the events of a single response.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

// NewWriter switches w to SSE and writes the headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, err := prepare(w)
	if err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (sw *Writer) Send(evt Event) error {
	frame, err := Encode(evt)
	if err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return io.ErrClosedPipe
	}
	if _, err := sw.w.Write(frame); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Close writes the end frame. Further sends fail.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	sw.closed = true
	if _, err := io.WriteString(sw.w, endFrame); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Stream fans events out to every connected SSE client. Slow clients whose
// buffer fills are disconnected.
type Stream struct {
	heartbeat time.Duration
	buffer    int

	mu      sync.RWMutex
	clients map[string]*client
}

// NewStream builds an empty broadcast stream.
func NewStream() *Stream {
	return &Stream{heartbeat: defaultHeartbeat, buffer: defaultBuffer, clients: map[string]*client{}}
}

// SetHeartbeat sets the comment interval; <=0 disables heartbeats.
func (s *Stream) SetHeartbeat(d time.Duration) {
	s.heartbeat = max(d, 0)
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP streams broadcast events to the caller until it disconnects.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, err := prepare(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c := s.attach()
	defer s.detach(c)

	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-c.queue:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case now := <-tick:
			if _, err := fmt.Fprintf(w, ": ping %d\n\n", now.Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Broadcast sends evt to all clients.
func (s *Stream) Broadcast(evt Event) error {
	frame, err := Encode(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.queue <- frame:
		default:
			c.close()
			delete(s.clients, id)
		}
	}
	return nil
}

// Close disconnects every client.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
}

func (s *Stream) attach() *client {
	c := &client{id: uuid.NewString(), queue: make(chan []byte, max(s.buffer, 1))}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	return c
}

func (s *Stream) detach(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
}

type client struct {
	id    string
	queue chan []byte
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.queue) })
}
