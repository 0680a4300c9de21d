// Package observer serves a live WebSocket stream of loop events for
// debugging hung or flaky async tests.
//
// Clients open a WebSocket connection to:
//
//	GET /events
//
// and receive one JSON frame per loop event:
//
//	{"type":"fired","run_id":"<ULID>","at_ms":...,"tag":"...","fire_at_ms":...}
//
// The stream is best effort: a subscriber that cannot keep up has frames
// dropped rather than stalling the loop under test. Counter exposition is
// mounted at GET /metrics.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	gorillaws "github.com/gorilla/websocket"

	"github.com/asyncloop/asyncloop/pkg/loop"
)

// subBuffer is the per-subscriber frame buffer; frames beyond it are
// dropped for that subscriber.
const subBuffer = 64

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic).  Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Server fans loop events out to WebSocket subscribers.
type Server struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}

	srv *http.Server
	ln  net.Listener
}

// New builds an observer Server. metrics, when non-nil, is mounted at
// /metrics.
func New(logger *slog.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger: logger,
		subs:   make(map[chan []byte]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	s.srv = &http.Server{Handler: mux}
	return s
}

// Publish queues ev for every connected subscriber. It never blocks: loop
// code calls it with engine locks held.
func (s *Server) Publish(ev loop.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- data:
		default:
			// Slow subscriber; drop the frame for it.
		}
	}
}

// Start begins serving on addr. It returns once the listener is accepting;
// serve errors after that are logged, not returned.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observer listen on %s: %w", addr, err)
	}
	s.ln = ln
	go func() {
		if serveErr := s.srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("observer server stopped", "err", serveErr)
		}
	}()
	s.logger.Info("observer listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when Start was given ":0".
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server and disconnects all subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleEvents upgrades the connection and streams frames until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, subBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	// Reader goroutine: we send only, but reading is what detects a
	// client-side close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case data := <-ch:
			if writeErr := conn.WriteMessage(gorillaws.TextMessage, data); writeErr != nil {
				return
			}
		}
	}
}
