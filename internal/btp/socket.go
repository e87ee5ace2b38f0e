package btp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket carries BTP frames to and from the IUT.
type Socket interface {
	// ReadFrame blocks until a frame arrives or the socket is closed.
	ReadFrame() (Frame, error)
	// WriteFrame sends one frame.
	WriteFrame(f Frame) error
	// Close releases the socket and unblocks a pending ReadFrame.
	Close() error
}

// DialFunc opens a Socket to the BTP listener at host:port.
type DialFunc func(ctx context.Context, host string, port int) (Socket, error)

// WebSocket is a Socket over a WebSocket connection. Each binary message
// holds exactly one frame.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Compile-time check that WebSocket implements Socket.
var _ Socket = (*WebSocket)(nil)

// DialWebSocket connects to ws://host:port<path>.
func DialWebSocket(ctx context.Context, host string, port int, path string) (*WebSocket, error) {
	if host == "" {
		return nil, fmt.Errorf("btp: dial: empty host")
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("btp: dial %s: %w (HTTP %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("btp: dial %s: %w", u.String(), err)
	}
	return &WebSocket{conn: conn}, nil
}

// WebSocketDialer returns a DialFunc that connects to path on each host.
func WebSocketDialer(path string) DialFunc {
	return func(ctx context.Context, host string, port int) (Socket, error) {
		return DialWebSocket(ctx, host, port, path)
	}
}

// ReadFrame implements Socket. Text messages are skipped.
func (s *WebSocket) ReadFrame() (Frame, error) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("btp: read: %w", err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return UnmarshalFrame(data)
	}
}

// WriteFrame implements Socket. Safe for concurrent use.
func (s *WebSocket) WriteFrame(f Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("btp: write: %w", err)
	}
	return nil
}

// Close sends a close message (best effort) and closes the connection.
func (s *WebSocket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
