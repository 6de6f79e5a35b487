package negotiate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// Respond implements C7: given an inbound QuicOffer event (and optionally a
// relay event already cached for the same session, per §4.9), attempts a
// direct connection before falling back to the relay.
func Respond(ctx context.Context, channel *signaling.SignalingChannel, offerEvent *signaling.SignalingEvent, cachedRelay *signaling.SignalingEvent, token signaling.Token, opts Options) (*SessionHandle, error) {
	start := time.Now()

	if offerEvent.Payload.Kind != signaling.KindQuicOffer || offerEvent.Payload.QuicOffer == nil {
		return nil, fmt.Errorf("negotiate: responder given a non-offer event")
	}
	sessionID := offerEvent.SessionID
	peerAgentID := offerEvent.From
	offer := *offerEvent.Payload.QuicOffer

	client := opts.peerClientFactory()(opts.directBindAddr())
	directTimeout := opts.directTimeout()

	connectCtx, cancel := context.WithTimeout(ctx, directTimeout)
	conn, err := client.Connect(connectCtx, offer)
	cancel()

	if err == nil {
		if sendErr := channel.SendQuicAnswer(sessionID, peerAgentID, signaling.QuicAnswer{Accepted: true, Mode: "direct"}); sendErr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("negotiate: sending direct answer: %w", sendErr)
		}
		metrics.RecordNegotiation("responder", "direct", time.Since(start).Seconds())
		return newDirectHandle(sessionID, peerAgentID, conn), nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = &NegotiationTimeout{Label: "direct QUIC connect"}
	}

	relayEvent := cachedRelay
	if relayEvent == nil {
		relayDeadline := relayResponderDeadline(directTimeout)
		relayEvent, err = waitSignalingEvent(channel, isQuicRelayForSession(sessionID), relayDeadline, "signaling event")
		if err != nil {
			metrics.RecordNegotiation("responder", "failed", time.Since(start).Seconds())
			return nil, fmt.Errorf("negotiate: direct connect failed and no relay info arrived: %w", err)
		}
	}

	relayClient := opts.relayClientFactory()(opts.relayBindAddr())
	rt, err := relayClient.ConnectTransport(ctx, *relayEvent.Payload.QuicRelay)
	if err != nil {
		metrics.RecordNegotiation("responder", "failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("negotiate: connecting relay transport: %w", err)
	}

	peerReady, err := bindRelayWithRetry(ctx, rt, token, sessionID, relayRetryDeadline(directTimeout))
	if err != nil {
		_ = rt.Close()
		metrics.RecordNegotiation("responder", "failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("negotiate: binding relay session: %w", err)
	}

	if sendErr := channel.SendQuicAnswer(sessionID, peerAgentID, signaling.QuicAnswer{Accepted: true, Mode: "relay"}); sendErr != nil {
		_ = rt.Close()
		metrics.RecordNegotiation("responder", "failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("negotiate: sending relay answer: %w", sendErr)
	}

	metrics.RecordNegotiation("responder", "relay", time.Since(start).Seconds())
	return newRelayHandle(sessionID, peerAgentID, rt, peerReady), nil
}

// relayResponderDeadline bounds the responder's relay-info wait at
// max(10s, 5×directTimeoutMs), a wider margin than the initiator's because
// the responder has no other signal that a relay path is even coming.
func relayResponderDeadline(directTimeout time.Duration) time.Duration {
	wide := 5 * directTimeout
	if wide < 10*time.Second {
		return 10 * time.Second
	}
	return wide
}
