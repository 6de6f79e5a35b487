package negotiate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
)

type acceptOutcome struct {
	conn transport.Connection
	err  error
}

type relayOutcome struct {
	event *signaling.SignalingEvent
	err   error
}

// Dial races a direct QUIC accept against relay-info delivery for
// peerAgentID (C6). channel must already be ready (open).
func Dial(ctx context.Context, channel *signaling.SignalingChannel, peerAgentID signaling.AgentID, token signaling.Token, opts Options) (*SessionHandle, error) {
	start := time.Now()
	directTimeout := opts.directTimeout()

	server, err := opts.peerServerFactory()(opts.directBindAddr(), opts.StunServers)
	if err != nil {
		return nil, fmt.Errorf("negotiate: starting peer server: %w", err)
	}

	offer, err := server.Offer(ctx, opts.AdvertisedCandidates)
	if err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("negotiate: generating offer: %w", err)
	}
	for i, c := range offer.Candidates {
		offer.Candidates[i] = transport.NormalizeCandidate(c)
	}

	if err := channel.SendQuicOffer(peerAgentID, offer); err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("negotiate: sending offer: %w", err)
	}

	acceptCh := make(chan acceptOutcome, 1)
	go func() {
		actx, cancel := context.WithTimeout(ctx, directTimeout)
		defer cancel()
		conn, err := server.Accept(actx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = &NegotiationTimeout{Label: "direct QUIC accept"}
		}
		acceptCh <- acceptOutcome{conn: conn, err: err}
	}()

	relayDeadline := relayRetryDeadline(directTimeout)
	relayCh := make(chan relayOutcome, 1)
	go func() {
		ev, err := waitSignalingEvent(channel, isQuicRelayFrom(peerAgentID), relayDeadline, "session id")
		relayCh <- relayOutcome{event: ev, err: err}
	}()

	handle, mode, err := initiatorRace(ctx, channel, server, peerAgentID, token, opts, acceptCh, relayCh)
	if err != nil {
		_ = server.Close()
		metrics.RecordNegotiation("initiator", "failed", time.Since(start).Seconds())
		return nil, err
	}
	if mode == ModeRelay {
		_ = server.Close()
	}
	metrics.RecordNegotiation("initiator", string(mode), time.Since(start).Seconds())
	return handle, nil
}

func initiatorRace(ctx context.Context, channel *signaling.SignalingChannel, server transport.PeerServer, peerAgentID signaling.AgentID, token signaling.Token, opts Options, acceptCh chan acceptOutcome, relayCh chan relayOutcome) (*SessionHandle, Mode, error) {
	select {
	case a := <-acceptCh:
		if a.err == nil {
			return initiatorDirectSucceeded(ctx, channel, peerAgentID, token, opts, a.conn, relayCh)
		}
		// Direct failed: relay info is already in flight on its own deadline.
		b := <-relayCh
		if b.err != nil {
			return nil, "", fmt.Errorf("negotiate: direct connect failed (%v) and no relay info arrived: %w", a.err, b.err)
		}
		h, err := initiatorRelayFallback(ctx, channel, peerAgentID, token, opts, b.event)
		return h, ModeRelay, err

	case b := <-relayCh:
		// Relay info arrived first; direct accept is still racing.
		a := <-acceptCh
		if a.err == nil {
			if b.err != nil {
				// Direct succeeded but we never learned a session id for it.
				a.conn.Close()
				return nil, "", fmt.Errorf("negotiate: direct accept succeeded without a session id: %w", b.err)
			}
			return newDirectHandle(b.event.SessionID, peerAgentID, a.conn), ModeDirect, nil
		}
		if b.err != nil {
			return nil, "", fmt.Errorf("negotiate: direct connect failed (%v) and relay info wait failed: %w", a.err, b.err)
		}
		h, err := initiatorRelayFallback(ctx, channel, peerAgentID, token, opts, b.event)
		return h, ModeRelay, err
	}
}

// initiatorDirectSucceeded implements step 4: direct resolved first, so wait
// a short grace period to learn the canonical session id via relay info
// before committing to the direct handle.
func initiatorDirectSucceeded(ctx context.Context, channel *signaling.SignalingChannel, peerAgentID signaling.AgentID, token signaling.Token, opts Options, conn transport.Connection, relayCh chan relayOutcome) (*SessionHandle, Mode, error) {
	// consumed tracks whether relayCh was already drained below, so the
	// fallback path never reads from it a second time (it is only ever
	// written to once, by Dial's relay-info goroutine).
	var consumed *relayOutcome

	select {
	case b := <-relayCh:
		if b.err == nil {
			return newDirectHandle(b.event.SessionID, peerAgentID, conn), ModeDirect, nil
		}
		// Relay-info wait itself failed before the grace window — undetermined session id.
		consumed = &b
	case <-time.After(relayGraceWindow):
		// Grace elapsed with no relay info yet.
	}

	// Session id undetermined. opts.UseDirectWithoutSessionID decides
	// whether to keep the accepted direct connection under a locally
	// minted session id or discard it and fall through to relay.
	if opts.UseDirectWithoutSessionID {
		return newDirectHandle(signaling.SessionID(uuid.NewString()), peerAgentID, conn), ModeDirect, nil
	}

	conn.Close()
	b := consumed
	if b == nil {
		outcome := <-relayCh
		b = &outcome
	}
	if b.err != nil {
		return nil, "", fmt.Errorf("negotiate: direct accept resolved without a session id: %w", b.err)
	}
	h, err := initiatorRelayFallback(ctx, channel, peerAgentID, token, opts, b.event)
	return h, ModeRelay, err
}

func initiatorRelayFallback(ctx context.Context, channel *signaling.SignalingChannel, peerAgentID signaling.AgentID, token signaling.Token, opts Options, relayEvent *signaling.SignalingEvent) (*SessionHandle, error) {
	relayClient := opts.relayClientFactory()(opts.relayBindAddr())
	rt, err := relayClient.ConnectTransport(ctx, *relayEvent.Payload.QuicRelay)
	if err != nil {
		return nil, fmt.Errorf("negotiate: connecting relay transport: %w", err)
	}

	peerReady, err := bindRelayWithRetry(ctx, rt, token, relayEvent.SessionID, relayRetryDeadline(opts.directTimeout()))
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("negotiate: binding relay session: %w", err)
	}

	return newRelayHandle(relayEvent.SessionID, peerAgentID, rt, peerReady), nil
}
