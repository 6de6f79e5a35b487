package transport

import (
	"bufio"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// relayFrame is the control-stream wire shape between an agent and the
// relay server: bind requests, bind acks, and forwarded data frames all
// share one envelope, discriminated by Type.
type relayFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
}

// quicRelayClient dials a relay server's QUIC endpoint and opens one
// control stream per ConnectTransport call.
type quicRelayClient struct {
	bindAddr string
}

// NewQuicRelayClient constructs a RelayClient (matching PeerClient's
// constructor shape). bindAddr is stored but not applied: ConnectTransport
// dials with quic.DialAddr, which binds its own ephemeral local UDP socket.
func NewQuicRelayClient(bindAddr string) RelayClient {
	return &quicRelayClient{bindAddr: bindAddr}
}

func (c *quicRelayClient) ConnectTransport(ctx context.Context, relay signaling.QuicRelay) (RelayTransport, error) {
	wantFingerprint := relay.ServerFingerprintSHA256

	tlsConf := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // verified below against the relay's pinned fingerprint
		NextProtos:         []string{alpnProtoOr(relay.ALPN)},
		ServerName:         serverNameOr(relay.ServerName),
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyFingerprint(rawCerts, wantFingerprint)
		},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}

	conn, err := quic.DialAddr(ctx, relay.QuicAddr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing relay %s: %w", relay.QuicAddr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "control stream open failed")
		return nil, fmt.Errorf("transport: opening relay control stream: %w", err)
	}

	return &quicRelayTransport{
		conn:   conn,
		stream: stream,
		enc:    json.NewEncoder(stream),
		dec:    json.NewDecoder(bufio.NewReader(stream)),
	}, nil
}

func (c *quicRelayClient) Close() error { return nil }

// quicRelayTransport implements RelayTransport over one QUIC control
// stream, framed as newline-delimited JSON (json.Encoder/Decoder already
// frame on value boundaries, so no explicit length prefix is needed).
type quicRelayTransport struct {
	conn   *quic.Conn
	stream *quic.Stream
	enc    *json.Encoder
	dec    *json.Decoder

	aead  cipher.AEAD
	seqNo uint64
}

// SetE2EESharedCipher installs the AEAD used by RelaySendE2EE /
// RecvRelayDataE2EE, once the caller has derived it (see e2ee.go). It is
// optional: transports that never call this reject the E2EE variants.
func (t *quicRelayTransport) SetE2EESharedCipher(aead cipher.AEAD) {
	t.aead = aead
}

func (t *quicRelayTransport) RelayBind(ctx context.Context, token signaling.Token, sessionID signaling.SessionID) (bool, error) {
	if err := t.enc.Encode(relayFrame{Type: "bind", Token: token.Value, SessionID: string(sessionID)}); err != nil {
		return false, fmt.Errorf("transport: sending relay bind: %w", err)
	}
	var resp relayFrame
	if err := t.decodeWithContext(ctx, &resp); err != nil {
		return false, fmt.Errorf("transport: reading relay bind ack: %w", err)
	}
	return resp.Ready, nil
}

func (t *quicRelayTransport) RelaySend(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, payload []byte) error {
	frame := relayFrame{Type: "data", Token: token.Value, SessionID: string(sessionID), Payload: payload}
	if err := t.enc.Encode(frame); err != nil {
		return fmt.Errorf("transport: sending relay data: %w", err)
	}
	return nil
}

func (t *quicRelayTransport) RecvRelayData(ctx context.Context) (RelayMessage, error) {
	var frame relayFrame
	if err := t.decodeWithContext(ctx, &frame); err != nil {
		return RelayMessage{}, fmt.Errorf("transport: reading relay data: %w", err)
	}
	return RelayMessage{
		SessionID: signaling.SessionID(frame.SessionID),
		From:      signaling.AgentID(frame.From),
		To:        signaling.AgentID(frame.To),
		Payload:   frame.Payload,
	}, nil
}

func (t *quicRelayTransport) RelaySendE2EE(ctx context.Context, token signaling.Token, sessionID signaling.SessionID, plaintext []byte) error {
	if t.aead == nil {
		return fmt.Errorf("transport: no e2ee key established for this relay transport")
	}
	nonce := make([]byte, t.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("transport: generating e2ee nonce: %w", err)
	}
	sealed := t.aead.Seal(nonce, nonce, plaintext, nil)
	return t.RelaySend(ctx, token, sessionID, []byte(base64.StdEncoding.EncodeToString(sealed)))
}

func (t *quicRelayTransport) RecvRelayDataE2EE(ctx context.Context) (RelayMessage, error) {
	if t.aead == nil {
		return RelayMessage{}, fmt.Errorf("transport: no e2ee key established for this relay transport")
	}
	msg, err := t.RecvRelayData(ctx)
	if err != nil {
		return RelayMessage{}, err
	}
	sealed, err := base64.StdEncoding.DecodeString(string(msg.Payload))
	if err != nil {
		return RelayMessage{}, fmt.Errorf("transport: decoding e2ee payload: %w", err)
	}
	nonceSize := t.aead.NonceSize()
	if len(sealed) < nonceSize {
		return RelayMessage{}, fmt.Errorf("transport: e2ee payload too short")
	}
	nonce, cipherText := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := t.aead.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return RelayMessage{}, fmt.Errorf("transport: opening e2ee payload: %w", err)
	}
	msg.Payload = plaintext
	return msg, nil
}

func (t *quicRelayTransport) Close() error {
	return t.conn.CloseWithError(0, "relay transport closed")
}

// decodeWithContext decodes one JSON value. If ctx has a deadline it is set
// as the stream's read deadline, so Decode fails with the stream's timeout
// error once it passes; cancelling a ctx that has no deadline does not
// interrupt the Decode.
func (t *quicRelayTransport) decodeWithContext(ctx context.Context, v interface{}) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.stream.SetReadDeadline(deadline)
	}
	return t.dec.Decode(v)
}
