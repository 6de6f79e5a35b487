package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReadyState mirrors the lifecycle state of a Socket.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

// Socket is the capability set a SignalingChannel depends on. It abstracts
// over whatever host environment transport actually backs the connection
// (a raw net/websocket dial, an event-target-style browser socket, a test
// double) so the channel logic itself is transport-agnostic.
type Socket interface {
	OnOpen(fn func()) (detach func())
	OnMessage(fn func(data []byte)) (detach func())
	OnClose(fn func(code int, reason string)) (detach func())
	OnError(fn func(err error)) (detach func())
	Send(data []byte) error
	Close(code int, reason string) error
	ReadyState() ReadyState
}

// websocketSocket adapts a gorilla/websocket connection to the Socket
// capability set.
type websocketSocket struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state ReadyState

	onOpen    *emitter
	onMessage *emitter
	onClose   *emitter
	onError   *emitter

	closeOnce sync.Once
}

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// DialWebsocket opens a text-framed WebSocket connection and wraps it as a
// Socket. The returned socket begins its read pump immediately and already
// reports StateOpen from ReadyState.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	s := &websocketSocket{
		conn:      conn,
		state:     StateOpen,
		onOpen:    newEmitter(),
		onMessage: newEmitter(),
		onClose:   newEmitter(),
		onError:   newEmitter(),
	}

	go s.readPump()
	go s.pingPump()

	// The handshake already completed by the time DialContext returns, so
	// "open" is emitted here, before DialWebsocket returns. The emitter does
	// not replay it: a listener registered after construction does not
	// observe it and sees the open state only through ReadyState.
	s.onOpen.emit("open", nil)

	return s, nil
}

func (s *websocketSocket) readPump() {
	defer s.transitionClosed(websocket.CloseNormalClosure, "read loop ended")

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if isTerminalSocketError(err) {
				return
			}
			s.onError.emit("error", err)
			if ce, ok := err.(*websocket.CloseError); ok {
				s.transitionClosed(ce.Code, ce.Text)
			}
			return
		}
		s.onMessage.emit("message", data)
	}
}

func (s *websocketSocket) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

func (s *websocketSocket) transitionClosed(code int, reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.onClose.emit("close", closePayload{Code: code, Reason: reason})
}

type closePayload struct {
	Code   int
	Reason string
}

func (s *websocketSocket) OnOpen(fn func()) func() {
	return s.onOpen.on("open", func(interface{}) { fn() })
}

func (s *websocketSocket) OnMessage(fn func(data []byte)) func() {
	return s.onMessage.on("message", func(v interface{}) { fn(v.([]byte)) })
}

func (s *websocketSocket) OnClose(fn func(code int, reason string)) func() {
	return s.onClose.on("close", func(v interface{}) {
		p := v.(closePayload)
		fn(p.Code, p.Reason)
	})
}

func (s *websocketSocket) OnError(fn func(err error)) func() {
	return s.onError.on("error", func(v interface{}) { fn(v.(error)) })
}

func (s *websocketSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return websocket.ErrCloseSent
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		err = s.conn.Close()
		s.transitionClosed(code, reason)
	})
	return err
}

func (s *websocketSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// isTerminalSocketError classifies an error per the channel's terminal-error
// rule (§4.3): true iff its message, lower-cased, matches a known terminal
// substring. Terminal errors are handled by a close transition rather than
// surfaced on "error".
func isTerminalSocketError(err error) bool {
	return classifyTerminal(err.Error())
}
