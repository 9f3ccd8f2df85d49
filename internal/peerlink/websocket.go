package peerlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/robomesh/pkg/peerlink"
)

// TransportWebsocket names connections carried over a websocket
const TransportWebsocket = "websocket"

// WebsocketStream carries the byte stream over binary websocket messages.
// Each Write becomes one message; reads span message boundaries.
type WebsocketStream struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
}

// NewWebsocketStream adapts an established websocket connection
func NewWebsocketStream(conn *websocket.Conn) *WebsocketStream {
	return &WebsocketStream{conn: conn}
}

// Read reads from the current message, advancing to the next when drained
func (s *WebsocketStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				return 0, mapWebsocketErr(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, mapWebsocketErr(err)
	}
}

// Write sends p as one binary message
func (s *WebsocketStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, mapWebsocketErr(err)
	}
	return len(p), nil
}

// Close sends a close frame when possible and closes the connection
func (s *WebsocketStream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// SetDeadline sets both read and write deadlines
func (s *WebsocketStream) SetDeadline(t time.Time) error {
	if err := s.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return s.conn.SetWriteDeadline(t)
}

// SetWriteDeadline sets the write deadline
func (s *WebsocketStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func mapWebsocketErr(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}

// DialWebsocket opens a websocket to url and attaches the link under name
func (m *Manager) DialWebsocket(ctx context.Context, url, name string) (peerlink.PeerInfo, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return peerlink.PeerInfo{}, fmt.Errorf("dialing websocket %s: %w", url, err)
	}
	return m.attachOutbound(ctx, NewWebsocketStream(conn), TransportWebsocket, url, name)
}

// WebsocketHandler upgrades requests and serves each as an inbound link
func (m *Manager) WebsocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		_ = m.ServeStream(NewWebsocketStream(conn), TransportWebsocket, r.RemoteAddr)
	})
}

// Verify that WebsocketStream implements the Stream interface at compile time
var _ Stream = (*WebsocketStream)(nil)
