// Package gateway exposes dialogs over websocket. Clients subscribe
// to one root dialog's event stream, or to the process-wide firehose,
// and send prompts back as JSON frames.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/config"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/driver"
)

// Server is the websocket/http surface over the dialog registry.
type Server struct {
	cfg      *config.Config
	registry *dialog.Registry
	driver   *driver.Driver

	// global receives every dialog event in the process; clients
	// that name no dialog subscribe here.
	global *bus.PubChan

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway over the given registry and driver.
func NewServer(cfg *config.Config, reg *dialog.Registry, drv *driver.Driver) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		driver:   drv,
		global:   bus.NewPubChan(),
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Non-browser clients send no Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Broadcast returns the listener to install with
// bus.SetQ4HBroadcaster so every dialog event lands on the firehose.
func (s *Server) Broadcast() bus.Broadcaster { return s.global.Write }

// BuildMux creates and caches the HTTP mux with all routes
// registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/dialogs", s.handleDialogs)
	s.mux = mux
	return mux
}

// Start listens for websocket and HTTP connections until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.global.Close()
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// authorized checks the static token when one is configured. The
// token rides either the Authorization header or a token query param
// (browser websocket clients cannot set headers).
func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+token {
		return true
	}
	return r.URL.Query().Get("token") == token
}

// handleWebSocket upgrades the connection and pumps dialog events to
// the client. A "dialog" query param scopes the stream to one root;
// without it the client gets the firehose.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var root *dialog.RootDialog
	var sub *bus.SubChan
	if rootID := r.URL.Query().Get("dialog"); rootID != "" {
		var ok bool
		root, ok = s.registry.Get(rootID)
		if !ok {
			http.Error(w, "no such dialog", http.StatusNotFound)
			return
		}
		sub = root.Subscribe()
	} else {
		sub = s.global.Subscribe()
	}
	if sub == nil {
		http.Error(w, "dialog stream closed", http.StatusGone)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		sub.Cancel()
		return
	}

	client := newClient(conn, s, root, sub)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.close()
	}()

	client.run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// dialogInfo is one row of the /dialogs listing.
type dialogInfo struct {
	ID           string `json:"id"`
	AgentID      string `json:"agentId"`
	RunState     string `json:"runState"`
	BlockReason  string `json:"blockReason,omitempty"`
	Round        int    `json:"round"`
	PendingCount int    `json:"pendingCount"`
}

func (s *Server) handleDialogs(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	roots := s.registry.List()
	out := make([]dialogInfo, 0, len(roots))
	for _, root := range roots {
		st, reason := root.RunState()
		out = append(out, dialogInfo{
			ID:           root.ID().Key(),
			AgentID:      root.AgentID(),
			RunState:     string(st),
			BlockReason:  string(reason),
			Round:        root.Round(),
			PendingCount: root.PendingCount(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("client disconnected", "id", c.id)
}
