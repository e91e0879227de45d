// Package streamserver composes the listener, session registry and delivery
// loops into one server over the shared latest-frame slot.
//
// Delivery model: one pull loop per session. Every admitted client gets its
// own goroutine that waits on the frame slot with its own last-seen
// generation and writes with its protocol's framing. A failed or slow client
// only ever takes down its own session; delivery to everyone else continues.
package streamserver

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/herohan/thermal-stream-server/internal/frame"
	"github.com/herohan/thermal-stream-server/internal/logger"
	"github.com/herohan/thermal-stream-server/internal/metrics"
	"github.com/herohan/thermal-stream-server/internal/protocol"
	"github.com/herohan/thermal-stream-server/internal/session"
	"github.com/herohan/thermal-stream-server/internal/source"
)

// State is the server lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Server owns the full distribution pipeline: capture adapter, frame slot,
// registry, both protocol endpoints, and the lifecycle state machine. One
// Server instance runs against one listening address; multiple instances can
// coexist in a process.
type Server struct {
	cfg      Config
	cb       Callback
	m        *metrics.Metrics
	slot     *frame.Slot
	src      *source.Source
	registry *session.Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	state   State
	ln      net.Listener
	httpSrv *http.Server
	port    int
	wg      sync.WaitGroup
}

// New creates a stopped server. cb may be nil; m may be nil.
func New(cfg Config, cb Callback, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if cb == nil {
		cb = NopCallback{}
	}
	if m == nil {
		m = metrics.New()
	}

	slot := frame.NewSlot(cfg.Format.BytesPerFrame())
	s := &Server{
		cfg:      cfg,
		cb:       cb,
		m:        m,
		slot:     slot,
		src:      source.New(cfg.Format, slot, m),
		registry: session.NewRegistry(cfg.MaxClients),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: cfg.Format.BytesPerFrame(),
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	return s
}

// Source returns the capture boundary. The capture subsystem pushes raw
// sensor buffers into it from its own thread.
func (s *Server) Source() *source.Source {
	return s.src
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) running() bool {
	return s.State() == StateRunning
}

// Addr returns the bound listen address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Port returns the bound listen port, 0 when not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// ClientCount returns the number of registered sessions.
func (s *Server) ClientCount() int {
	return s.registry.Len()
}

// Start binds the listener and begins accepting clients. Calling Start on a
// server that is not stopped is a no-op. A bind failure is reported through
// OnServerError and leaves the server stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		logger.Warn("Server", "start ignored, state=%s", s.state)
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		logger.Error("Server", "bind %s: %v", s.cfg.Addr, err)
		s.cb.OnServerError(err.Error())
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}

	httpSrv := &http.Server{Handler: s.routes()}

	s.mu.Lock()
	s.ln = ln
	s.httpSrv = httpSrv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.state = StateRunning
	port := s.port
	s.mu.Unlock()

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Debug("Server", "serve exited: %v", err)
		}
	}()

	url := fmt.Sprintf("http://%s:%d%s", localIPv4(), port, s.cfg.StreamPath)
	logger.Info("Server", "started on %s (max clients %d)", url, s.cfg.MaxClients)
	s.cb.OnServerStarted(url)
	return nil
}

// Shutdown stops the server: broadcasts the shutdown notice to socket
// sessions, closes every session, closes the listener and waits for delivery
// loops to exit. Shutdown on a stopped server is a no-op; shutdown-time I/O
// errors are logged and swallowed, shutdown always completes.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	httpSrv := s.httpSrv
	s.mu.Unlock()

	logger.Info("Server", "shutting down, %d clients", s.registry.Len())

	notice := protocol.ShutdownMessage("Server shutting down")
	for _, sess := range s.registry.Snapshot() {
		if sess.Protocol() != session.Socket {
			continue
		}
		if err := sess.WriteText(notice, s.cfg.WriteTimeout); err != nil {
			logger.Debug("Server", "shutdown notice to %s: %v", sess.Remote(), err)
		}
	}

	for _, sess := range s.registry.Clear() {
		sess.Close()
	}
	s.m.ActiveClients.Store(0)

	// Close force-closes the listener and any remaining connections, which
	// unblocks handler reads and writes.
	if err := httpSrv.Close(); err != nil {
		logger.Debug("Server", "close: %v", err)
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.ln = nil
	s.httpSrv = nil
	s.port = 0
	s.mu.Unlock()
	logger.Info("Server", "stopped")
}

// Close shuts the server down and closes the frame slot. Use Shutdown when
// the server may be started again.
func (s *Server) Close() {
	s.Shutdown()
	s.slot.Close()
}

// track registers one delivery loop with the lifecycle. It refuses once the
// server is no longer running, so Shutdown's wait cannot race a late Add.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.StreamPath, s.handleStream)
	mux.HandleFunc(s.cfg.SocketPath, s.handleSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}
