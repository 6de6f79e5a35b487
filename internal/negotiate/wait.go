package negotiate

import (
	"fmt"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// waitSignalingEvent subscribes to the channel's "signaling" events until
// predicate matches one, the channel closes/errors, or timeout elapses.
// label appears in the resulting NegotiationTimeout's message.
func waitSignalingEvent(channel *signaling.SignalingChannel, predicate func(*signaling.SignalingEvent) bool, timeout time.Duration, label string) (*signaling.SignalingEvent, error) {
	resultCh := make(chan *signaling.SignalingEvent, 1)
	errCh := make(chan error, 1)

	unsubSignal := channel.On("signaling", func(v interface{}) {
		ev, ok := v.(*signaling.SignalingEvent)
		if !ok || !predicate(ev) {
			return
		}
		select {
		case resultCh <- ev:
		default:
		}
	})
	defer unsubSignal()

	unsubClose := channel.On("close", func(v interface{}) {
		payload, _ := v.(signaling.ClosePayload)
		select {
		case errCh <- fmt.Errorf("negotiate: channel closed while waiting for %s (code=%d reason=%q)", label, payload.Code, payload.Reason):
		default:
		}
	})
	defer unsubClose()

	unsubErr := channel.On("error", func(v interface{}) {
		err, _ := v.(error)
		select {
		case errCh <- fmt.Errorf("negotiate: channel error while waiting for %s: %w", label, err):
		default:
		}
	})
	defer unsubErr()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-resultCh:
		return ev, nil
	case err := <-errCh:
		return nil, err
	case <-timer.C:
		return nil, &NegotiationTimeout{Label: label}
	}
}

func isQuicRelayFrom(peerAgentID signaling.AgentID) func(*signaling.SignalingEvent) bool {
	return func(ev *signaling.SignalingEvent) bool {
		return ev.From == peerAgentID && ev.Payload.Kind == signaling.KindQuicRelay && ev.Payload.QuicRelay != nil
	}
}

func isQuicRelayForSession(sessionID signaling.SessionID) func(*signaling.SignalingEvent) bool {
	return func(ev *signaling.SignalingEvent) bool {
		return ev.SessionID == sessionID && ev.Payload.Kind == signaling.KindQuicRelay && ev.Payload.QuicRelay != nil
	}
}
