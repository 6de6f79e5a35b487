// Package transport defines the capability set the negotiation core treats
// as an opaque native QUIC/relay collaborator (transport adapter, C5), plus
// concrete implementations backed by quic-go, for both the direct path and
// the relay path (a QUIC control stream to the relay server).
package transport

import (
	"context"
	"crypto/cipher"
	"strconv"
	"strings"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// PeerServer is the listening side of a direct QUIC attempt.
type PeerServer interface {
	// Offer gathers candidates (merging extra into the discovered set) and
	// returns a QuicOffer ready to be sent over the signaling channel.
	Offer(ctx context.Context, extra []string) (signaling.QuicOffer, error)
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (Connection, error)
	Close() error
}

// PeerClient is the dialing side of a direct QUIC attempt.
type PeerClient interface {
	Connect(ctx context.Context, offer signaling.QuicOffer) (Connection, error)
	Close() error
}

// Connection is one established QUIC connection, direct or not.
type Connection interface {
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	Close() error
}

// Stream is one bidirectional QUIC stream.
type Stream interface {
	Write(p []byte) (int, error)
	Finish() error
	Read(maxBytes int) ([]byte, error)
}

// RelayClient opens a RelayTransport against a relay server described by a
// QuicRelay signaling payload.
type RelayClient interface {
	ConnectTransport(ctx context.Context, relay signaling.QuicRelay) (RelayTransport, error)
	Close() error
}

// RelayMessage is one frame of server-mediated data.
type RelayMessage struct {
	SessionID signaling.SessionID
	From      signaling.AgentID
	To        signaling.AgentID
	Payload   []byte
}

// RelayTransport is the server-mediated fallback data path. relayBind
// registers this side as ready for a session; it is polled by the caller
// because a peer may not have bound yet.
type RelayTransport interface {
	RelayBind(ctx context.Context, token signaling.Token, sessionID signaling.SessionID) (bool, error)
	RelaySend(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, payload []byte) error
	RecvRelayData(ctx context.Context) (RelayMessage, error)
	// RelaySendE2EE and RecvRelayDataE2EE are the end-to-end-encrypted
	// variants: payloads are sealed/opened with the session's negotiated
	// key before/after traversing the relay. Only available once an
	// E2EEPubKeyBase64 was exchanged in the offer.
	RelaySendE2EE(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, plaintext []byte) error
	RecvRelayDataE2EE(ctx context.Context) (RelayMessage, error)
	// SetE2EESharedCipher installs the AEAD derived from an E2EEKeyPair
	// exchange; until called, the E2EE variants above reject with an error.
	SetE2EESharedCipher(aead cipher.AEAD)
	Close() error
}

// NormalizeCandidate rewrites an "any address" candidate — 0.0.0.0:P or
// [::]:P — into a reachable loopback equivalent, per the offer-generation
// invariant: a remote peer can never dial back an any-address literally.
func NormalizeCandidate(candidate string) string {
	host, port, err := splitHostPortLoose(candidate)
	if err != nil {
		return candidate
	}
	switch host {
	case "0.0.0.0":
		return "127.0.0.1:" + port
	case "::", "[::]":
		return "[::1]:" + port
	default:
		return candidate
	}
}

// splitHostPortLoose handles both "host:port" and "[ipv6]:port" without
// requiring the host to be a valid resolvable address (candidates may carry
// any-address placeholders that net.SplitHostPort still parses fine).
func splitHostPortLoose(addr string) (host, port string, err error) {
	if strings.HasPrefix(addr, "[") {
		idx := strings.LastIndex(addr, "]:")
		if idx < 0 {
			return "", "", errBadAddr
		}
		return addr[:idx+1], addr[idx+2:], nil
	}
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", errBadAddr
	}
	host = addr[:idx]
	port = addr[idx+1:]
	if _, convErr := strconv.Atoi(port); convErr != nil {
		return "", "", errBadAddr
	}
	return host, port, nil
}

var errBadAddr = errBadAddrType{}

type errBadAddrType struct{}

func (errBadAddrType) Error() string { return "transport: malformed candidate address" }
