package negotiate

import (
	"context"
	"crypto/cipher"
	"fmt"
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
)

// quicRelayFrame builds a raw inbound frame carrying a quic_relay event,
// matching the directory's wire shape.
func quicRelayFrame(sessionID signaling.SessionID, from signaling.AgentID) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "signaling",
		"payload": {
			"session_id": %q,
			"from": %q,
			"to": "self",
			"payload": {
				"kind": "quic_relay",
				"relay": {
					"sessionId": %q,
					"quicAddr": "127.0.0.1:5000",
					"serverFingerprintSha256": "deadbeef"
				}
			}
		}
	}`, sessionID, from, sessionID))
}

// quicOfferFrame builds a raw inbound frame carrying a quic_offer event.
func quicOfferFrame(from signaling.AgentID) []byte {
	return quicOfferFromSession(from, "")
}

// quicOfferFromSession builds a raw inbound quic_offer frame carrying the
// given session id, for scenarios that need the offer to match a session id
// already seen via a cached quic_relay event.
func quicOfferFromSession(from signaling.AgentID, sessionID signaling.SessionID) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "signaling",
		"payload": {
			"session_id": %q,
			"from": %q,
			"to": "self",
			"payload": {
				"kind": "quic_offer",
				"offer": {"candidates": ["10.0.0.9:4100"]}
			}
		}
	}`, sessionID, from))
}

// fakeConnection is a no-op transport.Connection double: these tests never
// exercise stream I/O, only which mode/session a negotiation settled on.
type fakeConnection struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConnection) OpenStream(ctx context.Context) (transport.Stream, error)   { return nil, nil }
func (c *fakeConnection) AcceptStream(ctx context.Context) (transport.Stream, error) { return nil, nil }
func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *fakeConnection) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakePeerServer's Accept blocks on a test-controlled gate before returning
// either a fakeConnection or acceptErr.
type fakePeerServer struct {
	offer     signaling.QuicOffer
	gate      chan struct{}
	acceptErr error
	conn      *fakeConnection
	closed    bool
}

func newFakePeerServer() *fakePeerServer {
	return &fakePeerServer{
		offer: signaling.QuicOffer{Candidates: []string{"10.0.0.5:4000"}, ALPN: "gann-session/1"},
		gate:  make(chan struct{}),
		conn:  &fakeConnection{},
	}
}

func (s *fakePeerServer) Offer(ctx context.Context, extra []string) (signaling.QuicOffer, error) {
	return s.offer, nil
}

func (s *fakePeerServer) Accept(ctx context.Context) (transport.Connection, error) {
	select {
	case <-s.gate:
		if s.acceptErr != nil {
			return nil, s.acceptErr
		}
		return s.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakePeerServer) Close() error {
	s.closed = true
	return nil
}

// release unblocks Accept with the configured outcome.
func (s *fakePeerServer) release() { close(s.gate) }

type fakePeerClient struct {
	connectErr error
	conn       *fakeConnection
}

func (c *fakePeerClient) Connect(ctx context.Context, offer signaling.QuicOffer) (transport.Connection, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	if c.conn == nil {
		c.conn = &fakeConnection{}
	}
	return c.conn, nil
}

func (c *fakePeerClient) Close() error { return nil }

// fakeRelayTransport always reports the peer as already bound.
type fakeRelayTransport struct {
	mu     sync.Mutex
	closed bool
}

func (t *fakeRelayTransport) RelayBind(ctx context.Context, token signaling.Token, sessionID signaling.SessionID) (bool, error) {
	return true, nil
}
func (t *fakeRelayTransport) RelaySend(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, payload []byte) error {
	return nil
}
func (t *fakeRelayTransport) RecvRelayData(ctx context.Context) (transport.RelayMessage, error) {
	return transport.RelayMessage{}, nil
}
func (t *fakeRelayTransport) RelaySendE2EE(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, plaintext []byte) error {
	return nil
}
func (t *fakeRelayTransport) RecvRelayDataE2EE(ctx context.Context) (transport.RelayMessage, error) {
	return transport.RelayMessage{}, nil
}
func (t *fakeRelayTransport) SetE2EESharedCipher(aead cipher.AEAD) {}
func (t *fakeRelayTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type fakeRelayClient struct {
	connectErr error
	transport  *fakeRelayTransport
}

func (c *fakeRelayClient) ConnectTransport(ctx context.Context, relay signaling.QuicRelay) (transport.RelayTransport, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	if c.transport == nil {
		c.transport = &fakeRelayTransport{}
	}
	return c.transport, nil
}

func (c *fakeRelayClient) Close() error { return nil }

// fakeSocket is a minimal signaling.Socket double: it starts "open" (these
// tests don't exercise the connecting state), records what is sent on it,
// and lets the test inject inbound frames directly.
type fakeSocket struct {
	mu    sync.Mutex
	state signaling.ReadyState
	sent  [][]byte

	onMessage []func([]byte)
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{state: signaling.StateOpen}
}

func (s *fakeSocket) OnOpen(fn func()) func() { fn(); return func() {} }
func (s *fakeSocket) OnMessage(fn func(data []byte)) func() {
	s.mu.Lock()
	s.onMessage = append(s.onMessage, fn)
	s.mu.Unlock()
	return func() {}
}
func (s *fakeSocket) OnClose(fn func(code int, reason string)) func() { return func() {} }
func (s *fakeSocket) OnError(fn func(err error)) func()                { return func() {} }

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	s.state = signaling.StateClosed
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) ReadyState() signaling.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// inject delivers raw to every registered message handler, simulating an
// inbound frame from the directory.
func (s *fakeSocket) inject(raw []byte) {
	s.mu.Lock()
	handlers := make([]func([]byte), len(s.onMessage))
	copy(handlers, s.onMessage)
	s.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (s *fakeSocket) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// newFakeChannel returns a SignalingChannel backed by a fakeSocket already
// open and ready, plus the socket so the test can inject inbound frames or
// inspect outbound ones.
func newFakeChannel(agentID signaling.AgentID) (*signaling.SignalingChannel, *fakeSocket) {
	socket := newFakeSocket()
	channel := signaling.Open(agentID, socket, signaling.Token{Value: "tok"})
	_ = channel.Ready()
	return channel, socket
}
