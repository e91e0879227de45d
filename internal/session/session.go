// Package session tracks admitted client connections.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Protocol identifies the wire protocol a session speaks.
type Protocol int

const (
	Multipart Protocol = iota // persistent multipart HTTP response
	Socket                    // websocket with binary frames + JSON control
)

// String returns the protocol name for logging.
func (p Protocol) String() string {
	switch p {
	case Multipart:
		return "multipart"
	case Socket:
		return "websocket"
	}
	return "unknown"
}

// Session is one admitted client connection. It is created after a successful
// handshake and owned by the Registry until removed. The delivery loop holds
// only a non-owning reference.
type Session struct {
	id     uint64
	remote string
	proto  Protocol

	// ws is set for Socket sessions only. writeMu serializes writes because
	// the frame loop and control replies share the connection.
	ws      *websocket.Conn
	writeMu sync.Mutex

	active atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// NewMultipart creates a session for a multipart HTTP client.
func NewMultipart(remote string) *Session {
	return newSession(remote, Multipart, nil)
}

// NewSocket creates a session for an upgraded websocket client.
func NewSocket(remote string, conn *websocket.Conn) *Session {
	return newSession(remote, Socket, conn)
}

func newSession(remote string, proto Protocol, ws *websocket.Conn) *Session {
	s := &Session{
		remote: remote,
		proto:  proto,
		ws:     ws,
		done:   make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// ID returns the registry-assigned identifier (0 until registered).
func (s *Session) ID() uint64 { return s.id }

// Remote returns the remote endpoint string for logging and callbacks.
func (s *Session) Remote() string { return s.remote }

// Protocol returns the session's wire protocol.
func (s *Session) Protocol() Protocol { return s.proto }

// Active reports whether the session is still live.
func (s *Session) Active() bool { return s.active.Load() }

// Done is closed when the session is torn down. Delivery loops select on it
// to stop promptly instead of waiting out their frame timeout.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session dead, wakes its delivery loop and closes the
// underlying websocket transport if any. Idempotent; close errors on an
// already-dead transport are ignored.
func (s *Session) Close() {
	s.once.Do(func() {
		s.active.Store(false)
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
	})
}

// WriteBinary sends one raw frame as a websocket binary message, bounded by
// deadline so a stalled peer cannot pin the delivery loop.
func (s *Session) WriteBinary(data []byte, deadline time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(deadline))
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}

// WriteText sends one JSON control message as a websocket text message.
func (s *Session) WriteText(payload []byte, deadline time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(deadline))
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}
