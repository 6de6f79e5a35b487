package negotiate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// AwaitOffer implements §4.9: subscribe to every inbound signaling event
// until the first QuicOffer arrives, caching any QuicRelay events by
// session id along the way so a relay event that preceded its offer is not
// lost. Bounded by opts.OfferTimeoutMs. No subscription remains on the
// channel once this returns, by any path.
func AwaitOffer(ctx context.Context, channel *signaling.SignalingChannel, opts Options) (offer *signaling.SignalingEvent, relay *signaling.SignalingEvent, err error) {
	var mu sync.Mutex
	relayBySession := make(map[signaling.SessionID]*signaling.SignalingEvent)
	offerCh := make(chan *signaling.SignalingEvent, 1)

	unsubSignal := channel.On("signaling", func(v interface{}) {
		ev, ok := v.(*signaling.SignalingEvent)
		if !ok {
			return
		}
		if ev.Payload.Kind == signaling.KindQuicRelay && ev.Payload.QuicRelay != nil {
			mu.Lock()
			relayBySession[ev.SessionID] = ev
			mu.Unlock()
			return
		}
		if ev.Payload.Kind == signaling.KindQuicOffer && ev.Payload.QuicOffer != nil {
			select {
			case offerCh <- ev:
			default:
			}
		}
	})
	defer unsubSignal()

	errCh := make(chan error, 1)
	unsubClose := channel.On("close", func(v interface{}) {
		payload, _ := v.(signaling.ClosePayload)
		select {
		case errCh <- fmt.Errorf("negotiate: channel closed while waiting for quic_offer (code=%d reason=%q)", payload.Code, payload.Reason):
		default:
		}
	})
	defer unsubClose()

	unsubErr := channel.On("error", func(v interface{}) {
		e, _ := v.(error)
		select {
		case errCh <- fmt.Errorf("negotiate: channel error while waiting for quic_offer: %w", e):
		default:
		}
	})
	defer unsubErr()

	timer := time.NewTimer(opts.offerTimeout())
	defer timer.Stop()

	select {
	case ev := <-offerCh:
		mu.Lock()
		cached := relayBySession[ev.SessionID]
		mu.Unlock()
		return ev, cached, nil
	case err := <-errCh:
		return nil, nil, err
	case <-timer.C:
		return nil, nil, &NegotiationTimeout{Label: "quic_offer"}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
