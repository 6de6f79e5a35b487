package negotiate

import (
	"context"
	"testing"
	"time"
)

func TestAwaitOffer_OfferArrivesDirectly(t *testing.T) {
	channel, socket := newFakeChannel("agent-a")
	defer channel.Close(1000, "test done")

	type result struct {
		offerFrom string
		relayNil  bool
		err       error
	}
	resCh := make(chan result, 1)
	go func() {
		offer, relay, err := AwaitOffer(context.Background(), channel, Options{OfferTimeoutMs: 2000})
		r := result{err: err, relayNil: relay == nil}
		if offer != nil {
			r.offerFrom = string(offer.From)
		}
		resCh <- r
	}()

	settle()
	socket.inject(quicOfferFrame("agent-b"))

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatalf("AwaitOffer returned error: %v", r.err)
		}
		if r.offerFrom != "agent-b" {
			t.Fatalf("offer.From = %q, want agent-b", r.offerFrom)
		}
		if !r.relayNil {
			t.Fatal("expected no cached relay event")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for AwaitOffer")
	}
}

func TestAwaitOffer_RelayEventCachedBeforeOffer(t *testing.T) {
	channel, socket := newFakeChannel("agent-a")
	defer channel.Close(1000, "test done")

	type result struct {
		sessionID string
		relaySID  string
		err       error
	}
	resCh := make(chan result, 1)
	go func() {
		offer, relay, err := AwaitOffer(context.Background(), channel, Options{OfferTimeoutMs: 2000})
		r := result{err: err}
		if offer != nil {
			r.sessionID = string(offer.SessionID)
		}
		if relay != nil {
			r.relaySID = string(relay.SessionID)
		}
		resCh <- r
	}()

	settle()
	socket.inject(quicRelayFrame("sess-789", "agent-b"))
	socket.inject(quicOfferFromSession("agent-b", "sess-789"))

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatalf("AwaitOffer returned error: %v", r.err)
		}
		if r.relaySID != "sess-789" {
			t.Fatalf("cached relay session id = %q, want sess-789", r.relaySID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for AwaitOffer")
	}
}

func TestAwaitOffer_TimesOutWithNoOffer(t *testing.T) {
	channel, _ := newFakeChannel("agent-a")
	defer channel.Close(1000, "test done")

	_, _, err := AwaitOffer(context.Background(), channel, Options{OfferTimeoutMs: 100})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*NegotiationTimeout); !ok {
		t.Fatalf("err = %T, want *NegotiationTimeout", err)
	}
}

func TestAwaitOffer_ChannelClosedWhileWaiting(t *testing.T) {
	channel, _ := newFakeChannel("agent-a")

	resCh := make(chan error, 1)
	go func() {
		_, _, err := AwaitOffer(context.Background(), channel, Options{OfferTimeoutMs: 5000})
		resCh <- err
	}()

	settle()
	channel.Close(1000, "shutting down")

	select {
	case err := <-resCh:
		if err == nil {
			t.Fatal("expected an error when the channel closes mid-wait")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitOffer did not return after the channel closed")
	}
}
