package signaling

import (
	"sync"
	"testing"
	"time"
)

// fakeSocket is an in-memory Socket double modeled on the connecting→open→
// closed lifecycle a SignalingChannel depends on, with no real network I/O.
type fakeSocket struct {
	mu    sync.Mutex
	state ReadyState
	sent  [][]byte

	onOpen    *emitter
	onMessage *emitter
	onClose   *emitter
	onError   *emitter
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		state:     StateConnecting,
		onOpen:    newEmitter(),
		onMessage: newEmitter(),
		onClose:   newEmitter(),
		onError:   newEmitter(),
	}
}

func (s *fakeSocket) OnOpen(fn func()) func()    { return s.onOpen.on("open", func(interface{}) { fn() }) }
func (s *fakeSocket) OnMessage(fn func(data []byte)) func() {
	return s.onMessage.on("message", func(v interface{}) { fn(v.([]byte)) })
}
func (s *fakeSocket) OnClose(fn func(code int, reason string)) func() {
	return s.onClose.on("close", func(v interface{}) {
		p := v.(ClosePayload)
		fn(p.Code, p.Reason)
	})
}
func (s *fakeSocket) OnError(fn func(err error)) func() {
	return s.onError.on("error", func(v interface{}) { fn(v.(error)) })
}

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
	s.state = StateClosed
	s.mu.Unlock()
	s.onClose.emit("close", ClosePayload{Code: code, Reason: reason})
	return nil
}

func (s *fakeSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) open() {
	s.mu.Lock()
	s.state = StateOpen
	s.mu.Unlock()
	s.onOpen.emit("open", nil)
}

func (s *fakeSocket) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestChannel_SendBeforeOpenIsQueuedThenFlushedInOrder(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})

	if err := channel.SendQuicOffer("agent-b", QuicOffer{Candidates: []string{"1.1.1.1:1"}}); err != nil {
		t.Fatalf("SendQuicOffer before open: %v", err)
	}
	if err := channel.SendQuicCandidate("sess-1", "agent-b", "2.2.2.2:2"); err != nil {
		t.Fatalf("SendQuicCandidate before open: %v", err)
	}

	if got := len(socket.sentFrames()); got != 0 {
		t.Fatalf("expected nothing written to the socket before open, got %d frames", got)
	}

	socket.open()

	if err := channel.Ready(); err != nil {
		t.Fatalf("Ready() after open: %v", err)
	}

	frames := socket.sentFrames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 queued frames flushed on open, got %d", len(frames))
	}

	wantOffer, _ := EncodeQuicOffer("agent-b", QuicOffer{Candidates: []string{"1.1.1.1:1"}})
	wantCandidate, _ := EncodeQuicCandidate("sess-1", "agent-b", "2.2.2.2:2")
	if string(frames[0]) != string(wantOffer) {
		t.Errorf("frame 0 = %s, want the queued offer %s", frames[0], wantOffer)
	}
	if string(frames[1]) != string(wantCandidate) {
		t.Errorf("frame 1 = %s, want the queued candidate %s", frames[1], wantCandidate)
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})
	socket.open()
	_ = channel.Ready()

	var closeEvents int
	channel.On("close", func(interface{}) { closeEvents++ })

	channel.Close(1000, "done")
	channel.Close(1000, "done again")

	if closeEvents != 1 {
		t.Fatalf("close fired %d times, want exactly 1", closeEvents)
	}
}

func TestChannel_SendAfterCloseIsRejected(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})
	socket.open()
	_ = channel.Ready()
	channel.Close(1000, "done")

	err := channel.SendQuicCandidate("sess-1", "agent-b", "1.1.1.1:1")
	if err == nil {
		t.Fatal("expected an error sending on a closed channel")
	}
}

func TestChannel_DispatchesSignalingEventToSubscriber(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})
	socket.open()
	_ = channel.Ready()

	received := make(chan *SignalingEvent, 1)
	channel.On("signaling", func(v interface{}) {
		received <- v.(*SignalingEvent)
	})

	frame := []byte(`{
		"event": "signaling",
		"payload": {
			"session_id": "",
			"from": "agent-b",
			"to": "agent-a",
			"payload": {"kind": "quic_offer", "offer": {"candidates": ["9.9.9.9:9"]}}
		}
	}`)
	socket.onMessage.emit("message", frame)

	select {
	case ev := <-received:
		if ev.From != "agent-b" {
			t.Errorf("from = %q, want agent-b", ev.From)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched signaling event")
	}
}

func TestChannel_BurstExceedingRateLimitStillDispatchesEveryFrame(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})
	socket.open()
	_ = channel.Ready()

	var mu sync.Mutex
	var received int
	channel.On("signaling", func(v interface{}) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	// quic_relay's bucket allows a burst of only 2 before refilling; send
	// well past that to exercise the over-limit path.
	const sent = 10
	for i := 0; i < sent; i++ {
		frame := []byte(`{
			"event": "signaling",
			"payload": {
				"session_id": "sess-1",
				"from": "agent-b",
				"to": "agent-a",
				"payload": {
					"kind": "quic_relay",
					"relay": {
						"sessionId": "sess-1",
						"quicAddr": "1.2.3.4:5",
						"serverFingerprintSha256": "deadbeef"
					}
				}
			}
		}`)
		socket.onMessage.emit("message", frame)
	}

	mu.Lock()
	got := received
	mu.Unlock()
	if got != sent {
		t.Fatalf("dispatched %d of %d well-formed frames, want all %d dispatched despite exceeding the rate limit", got, sent, sent)
	}
}

func TestChannel_SendQuicAnswerRequiresSessionID(t *testing.T) {
	socket := newFakeSocket()
	channel := Open("agent-a", socket, Token{Value: "tok"})
	socket.open()
	_ = channel.Ready()

	err := channel.SendQuicAnswer("", "agent-b", QuicAnswer{Accepted: true})
	if err == nil {
		t.Fatal("expected a validation error for an empty session id")
	}
}
