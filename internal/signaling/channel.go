package signaling

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
)

// terminalSubstrings classifies a socket error message (lower-cased) as
// terminal: the underlying transport is already gone, so the channel should
// recover locally (transition to closed) instead of surfacing the error.
var terminalSubstrings = []string{
	"connection closed",
	"websocket is not open",
	"already closed",
	"econnreset",
	"epipe",
	"ebadf",
}

func classifyTerminal(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range terminalSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// channelState is the SignalingChannel's lifecycle state machine:
// connecting → open → closed (terminal).
type channelState int

const (
	csConnecting channelState = iota
	csOpen
	csClosed
)

// ChannelTerminated is returned to waiters when the channel closes with a
// code/reason before they resolve.
type ChannelTerminated struct {
	Code   int
	Reason string
}

func (e *ChannelTerminated) Error() string {
	return fmt.Sprintf("signaling channel terminated (code=%d reason=%q)", e.Code, e.Reason)
}

// ClosePayload is delivered to "close" listeners.
type ClosePayload struct {
	Code   int
	Reason string
}

// readySignal is a one-shot promise: it resolves exactly once, either
// successfully (on socket open) or with an error (on first terminal error
// or close before open).
type readySignal struct {
	mu       sync.Mutex
	done     bool
	err      error
	waiters  []chan error
}

func newReadySignal() *readySignal { return &readySignal{} }

func (r *readySignal) resolve(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.err = err
	for _, w := range r.waiters {
		w <- err
		close(w)
	}
	r.waiters = nil
}

// wait blocks the caller until the signal resolves, returning its error (nil
// on success).
func (r *readySignal) wait() error {
	r.mu.Lock()
	if r.done {
		err := r.err
		r.mu.Unlock()
		return err
	}
	ch := make(chan error, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()
	return <-ch
}

// SignalingChannel owns one full-duplex text-framed socket to the directory
// and exposes a typed event surface plus a send API (§4.3). A channel
// exclusively owns its socket: closing the channel closes the socket and
// clears all listener sets. Channels are single-use.
type SignalingChannel struct {
	agentID AgentID
	socket  Socket
	token   Token

	mu    sync.Mutex
	state channelState
	queue [][]byte

	ready   *readySignal
	em      *emitter
	limiter *inboundRateLimiter

	detach []func()
}

// Open constructs a channel around an already-dialed socket and wires up its
// lifecycle. The socket may still be connecting; open/error/close are
// observed via the Socket capability set.
func Open(agentID AgentID, socket Socket, token Token) *SignalingChannel {
	c := &SignalingChannel{
		agentID: agentID,
		socket:  socket,
		token:   token,
		state:   csConnecting,
		ready:   newReadySignal(),
		em:      newEmitter(),
		limiter: newInboundRateLimiter(),
	}

	c.detach = append(c.detach,
		socket.OnOpen(c.handleOpen),
		socket.OnMessage(c.handleMessage),
		socket.OnClose(c.handleClose),
		socket.OnError(c.handleError),
	)

	if socket.ReadyState() == StateOpen {
		c.handleOpen()
	}

	return c
}

// Ready blocks until the channel's socket has opened, or returns the error
// that caused readiness to fail.
func (c *SignalingChannel) Ready() error { return c.ready.wait() }

func (c *SignalingChannel) handleOpen() {
	c.mu.Lock()
	if c.state != csConnecting {
		c.mu.Unlock()
		return
	}
	c.state = csOpen
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.ready.resolve(nil)
	c.em.emit("open", nil)

	for _, frame := range pending {
		c.writeFrame(frame)
	}
}

func (c *SignalingChannel) handleMessage(data []byte) {
	parsed, err := ParseFrame(data)
	if err != nil || parsed == nil {
		metrics.RecordEventDropped("malformed")
		return
	}

	key := rateLimitKeyFor(parsed)
	if !c.limiter.allow(key) {
		metrics.RecordEventOverLimit(string(key))
	}

	c.em.emit("raw", parsed)

	switch parsed.Family {
	case FamilySignaling:
		c.em.emit("signaling", parsed.Signaling)
	case FamilySession:
		c.em.emit("session", parsed.Session)
	case FamilyControl:
		c.em.emit("control", parsed.Control)
	case FamilyHeartbeat:
		c.em.emit("heartbeat", parsed.Heartbeat)
	}
}

func (c *SignalingChannel) handleClose(code int, reason string) {
	c.transitionClosed(code, reason)
}

func (c *SignalingChannel) handleError(err error) {
	if classifyTerminal(err.Error()) {
		if c.socket.ReadyState() != StateOpen {
			c.transitionClosed(0, err.Error())
		}
		return
	}

	c.mu.Lock()
	pending := c.state == csConnecting
	c.mu.Unlock()

	if pending {
		c.ready.resolve(err)
		return
	}

	c.em.emit("error", err)
}

// transitionClosed moves the channel into its terminal state exactly once:
// it detaches all socket listeners, fails the ready signal if still
// pending, emits "close" once, and clears the emitter.
func (c *SignalingChannel) transitionClosed(code int, reason string) {
	c.mu.Lock()
	if c.state == csClosed {
		c.mu.Unlock()
		return
	}
	c.state = csClosed
	c.mu.Unlock()

	for _, d := range c.detach {
		d()
	}

	c.ready.resolve(&ChannelTerminated{Code: code, Reason: reason})
	c.em.emit("close", ClosePayload{Code: code, Reason: reason})
	c.em.clear()
}

// On subscribes listener to one of: open, close, error, signaling, session,
// control, heartbeat, raw. It returns an unsubscribe function.
func (c *SignalingChannel) On(event string, listener func(interface{})) func() {
	return c.em.on(event, listener)
}

// Close idempotently tears down the channel and its socket.
func (c *SignalingChannel) Close(code int, reason string) {
	c.mu.Lock()
	alreadyClosed := c.state == csClosed
	c.mu.Unlock()
	if alreadyClosed {
		return
	}
	_ = c.socket.Close(code, reason)
	c.transitionClosed(code, reason)
}

// enqueueOrSend writes frame immediately if the channel is open, or appends
// it to the send queue (in submission order) if it is still connecting.
func (c *SignalingChannel) enqueueOrSend(frame []byte) error {
	c.mu.Lock()
	switch c.state {
	case csClosed:
		c.mu.Unlock()
		return newValidationError("channel", "cannot send on a closed channel")
	case csConnecting:
		c.queue = append(c.queue, frame)
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return c.writeFrame(frame)
	}
}

func (c *SignalingChannel) writeFrame(frame []byte) error {
	return c.socket.Send(frame)
}

// SendQuicOffer emits a signal command with no session id.
func (c *SignalingChannel) SendQuicOffer(to AgentID, offer QuicOffer) error {
	if to.Trimmed().Empty() {
		return newValidationError("to", "must be non-empty")
	}
	frame, err := EncodeQuicOffer(to, offer)
	if err != nil {
		return err
	}
	return c.enqueueOrSend(frame)
}

// SendQuicAnswer requires a non-empty session id and target.
func (c *SignalingChannel) SendQuicAnswer(sessionID SessionID, to AgentID, answer QuicAnswer) error {
	if sessionID.Trimmed().Empty() {
		return newValidationError("sessionId", "must be non-empty")
	}
	if to.Trimmed().Empty() {
		return newValidationError("to", "must be non-empty")
	}
	frame, err := EncodeQuicAnswer(sessionID, to, answer)
	if err != nil {
		return err
	}
	return c.enqueueOrSend(frame)
}

// SendQuicCandidate requires a non-empty session id and target.
func (c *SignalingChannel) SendQuicCandidate(sessionID SessionID, to AgentID, candidate string) error {
	if sessionID.Trimmed().Empty() {
		return newValidationError("sessionId", "must be non-empty")
	}
	if to.Trimmed().Empty() {
		return newValidationError("to", "must be non-empty")
	}
	frame, err := EncodeQuicCandidate(sessionID, to, candidate)
	if err != nil {
		return err
	}
	return c.enqueueOrSend(frame)
}

// DisconnectSession requires a non-empty session id and target.
func (c *SignalingChannel) DisconnectSession(sessionID SessionID, to AgentID, reason string) error {
	if sessionID.Trimmed().Empty() {
		return newValidationError("sessionId", "must be non-empty")
	}
	if to.Trimmed().Empty() {
		return newValidationError("to", "must be non-empty")
	}
	frame, err := EncodeDisconnect(sessionID, to, reason)
	if err != nil {
		return err
	}
	return c.enqueueOrSend(frame)
}

// AgentID returns the agent id this channel was opened for.
func (c *SignalingChannel) AgentID() AgentID { return c.agentID }

// Token returns the bearer token this channel was opened with.
func (c *SignalingChannel) Token() Token { return c.token }
