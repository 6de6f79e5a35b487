package negotiate

import (
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
)

const (
	defaultDirectTimeoutMs = 5000
	defaultOfferTimeoutMs  = 30000
	relayBindPollInterval  = 100 * time.Millisecond
	relayGraceWindow       = 2 * time.Second
)

// PeerServerFactory, PeerClientFactory and RelayClientFactory let callers
// (and tests) substitute the transport adapter's concrete quic-go
// implementation with a fake; the negotiation protocol itself only ever
// depends on the transport.PeerServer/PeerClient/RelayClient interfaces.
type PeerServerFactory func(bindAddr string, stunServers []string) (transport.PeerServer, error)
type PeerClientFactory func(bindAddr string) transport.PeerClient
type RelayClientFactory func(bindAddr string) transport.RelayClient

// Options configures one negotiation attempt (initiator or responder).
type Options struct {
	DirectTimeoutMs      int
	DirectBindAddr       string
	RelayBindAddr        string
	StunServers          []string
	AdvertisedCandidates []string
	OfferTimeoutMs       int

	NewPeerServer  PeerServerFactory
	NewPeerClient  PeerClientFactory
	NewRelayClient RelayClientFactory

	// UseDirectWithoutSessionID resolves the Open Question on a direct
	// accept that wins the race without a relay event arriving in the
	// grace window: false (the default) discards the direct connection
	// and falls through to relay; true keeps it under a locally minted
	// session id instead.
	UseDirectWithoutSessionID bool
}

func (o Options) directTimeout() time.Duration {
	ms := o.DirectTimeoutMs
	if ms <= 0 {
		ms = defaultDirectTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (o Options) offerTimeout() time.Duration {
	ms := o.OfferTimeoutMs
	if ms <= 0 {
		ms = defaultOfferTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (o Options) directBindAddr() string {
	if o.DirectBindAddr == "" {
		return "0.0.0.0:0"
	}
	return o.DirectBindAddr
}

func (o Options) relayBindAddr() string {
	if o.RelayBindAddr == "" {
		return "0.0.0.0:0"
	}
	return o.RelayBindAddr
}

func (o Options) peerServerFactory() PeerServerFactory {
	if o.NewPeerServer != nil {
		return o.NewPeerServer
	}
	return transport.NewQuicPeerServer
}

func (o Options) peerClientFactory() PeerClientFactory {
	if o.NewPeerClient != nil {
		return o.NewPeerClient
	}
	return transport.NewQuicPeerClient
}

func (o Options) relayClientFactory() RelayClientFactory {
	if o.NewRelayClient != nil {
		return o.NewRelayClient
	}
	return transport.NewQuicRelayClient
}

// relayRetryDeadline is the bound on the relayBind poll loop: the larger of
// 2 seconds and the configured direct timeout.
func relayRetryDeadline(directTimeout time.Duration) time.Duration {
	if directTimeout > relayGraceWindow {
		return directTimeout
	}
	return relayGraceWindow
}
