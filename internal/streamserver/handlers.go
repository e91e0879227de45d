package streamserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/herohan/thermal-stream-server/internal/frame"
	"github.com/herohan/thermal-stream-server/internal/logger"
	"github.com/herohan/thermal-stream-server/internal/protocol"
	"github.com/herohan/thermal-stream-server/internal/session"
)

// rejectSilently closes the connection without writing any protocol bytes.
// Capacity is signalled to the outside world as "connection closed, no data".
func (s *Server) rejectSilently(w http.ResponseWriter, r *http.Request) {
	s.m.RejectedClients.Add(1)
	logger.Warn("Listener", "max clients reached, rejecting %s", r.RemoteAddr)
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	// Hijack unavailable; the closest we can get is an empty error response.
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusServiceUnavailable)
}

// register admits a session into the registry and fires the connect callback.
func (s *Server) register(sess *session.Session) error {
	if err := s.registry.Add(sess); err != nil {
		return err
	}
	n := s.registry.Len()
	s.m.ActiveClients.Store(uint64(n))
	s.m.TotalClients.Add(1)
	logger.Info("Listener", "client connected: %s (%s), clients=%d",
		sess.Remote(), sess.Protocol(), n)
	s.cb.OnClientConnected(n)
	return nil
}

// deregister removes a session after its loops exit. During shutdown the
// registry was already cleared in bulk; in that case no callback fires.
func (s *Server) deregister(sess *session.Session) {
	sess.Close()
	if !s.registry.Remove(sess.ID()) {
		return
	}
	n := s.registry.Len()
	s.m.ActiveClients.Store(uint64(n))
	logger.Info("Listener", "client disconnected: %s (%s), clients=%d",
		sess.Remote(), sess.Protocol(), n)
	s.cb.OnClientDisconnected(n)
}

// handleStream serves the multipart HTTP protocol: a persistent response
// whose parts each carry one raw frame. There is no client-to-server traffic
// on this protocol; the response stays open until the client disconnects or
// the server stops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.registry.Full() {
		s.rejectSilently(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := session.NewMultipart(r.RemoteAddr)
	if err := s.register(sess); err != nil {
		s.rejectSilently(w, r)
		return
	}
	defer s.deregister(sess)

	// Handshake: fixed multipart response header, flushed before framing.
	w.Header().Set("Content-Type", protocol.MultipartContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if !s.track() {
		return
	}
	defer s.wg.Done()

	var lastGen uint64
	for {
		select {
		case <-sess.Done():
			return
		default:
		}

		data, gen, err := s.slot.Next(lastGen, s.cfg.FrameWait)
		if err == frame.ErrNoFrame {
			if !s.running() {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		if err := protocol.WritePart(w, s.cfg.Format, data); err != nil {
			s.m.SendErrors.Add(1)
			logger.Debug("Stream", "client %s write: %v", sess.Remote(), err)
			return
		}
		flusher.Flush()
		lastGen = gen
		s.m.HTTPFramesSent.Add(1)
	}
}

// handleSocket serves the message-socket protocol: upgrade, welcome message,
// then a writer loop pushing binary frames while this handler reads text
// commands.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.Full() {
		s.rejectSilently(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Socket", "upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	sess := session.NewSocket(r.RemoteAddr, conn)
	if err := s.register(sess); err != nil {
		_ = conn.Close()
		s.m.RejectedClients.Add(1)
		return
	}
	defer s.deregister(sess)

	// Welcome carries the stream geometry so the client can configure its
	// decoder before the first binary frame.
	if err := sess.WriteText(protocol.WelcomeMessage(s.cfg.Format), s.cfg.WriteTimeout); err != nil {
		logger.Debug("Socket", "welcome to %s: %v", sess.Remote(), err)
		return
	}
	s.m.WSControlSent.Add(1)

	if s.track() {
		go s.socketFrameLoop(sess)
	}

	conn.SetReadLimit(512)
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("Socket", "client %s read: %v", sess.Remote(), err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleCommand(sess, string(msg))
	}
}

func (s *Server) handleCommand(sess *session.Session, text string) {
	var reply []byte
	switch protocol.ParseCommand(text) {
	case protocol.CmdPing:
		reply = protocol.PongMessage()
	case protocol.CmdGetInfo:
		reply = protocol.InfoMessage(s.cfg.Format, s.registry.Len(), s.Port())
	default:
		logger.Debug("Socket", "ignoring command %q from %s", text, sess.Remote())
		return
	}

	if err := sess.WriteText(reply, s.cfg.WriteTimeout); err != nil {
		s.m.SendErrors.Add(1)
		logger.Debug("Socket", "reply to %s: %v", sess.Remote(), err)
		sess.Close()
		return
	}
	s.m.WSControlSent.Add(1)
}

// socketFrameLoop is the per-session pull loop for socket sessions.
func (s *Server) socketFrameLoop(sess *session.Session) {
	defer s.wg.Done()
	defer sess.Close()

	var lastGen uint64
	for {
		select {
		case <-sess.Done():
			return
		default:
		}

		data, gen, err := s.slot.Next(lastGen, s.cfg.FrameWait)
		if err == frame.ErrNoFrame {
			if !s.running() {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		if err := sess.WriteBinary(data, s.cfg.WriteTimeout); err != nil {
			s.m.SendErrors.Add(1)
			logger.Debug("Socket", "client %s frame write: %v", sess.Remote(), err)
			return
		}
		lastGen = gen
		s.m.WSFramesSent.Add(1)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":          "ok",
		"running":         s.running(),
		"clients":         s.registry.Len(),
		"frames_received": s.m.FramesReceived.Load(),
	}, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, payload interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("HTTP", "encode response: %v", err)
	}
}
