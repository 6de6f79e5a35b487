package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

const (
	alpnProto          = "gann-session/1"
	idleTimeout        = 30 * time.Second
	keepAlivePeriod    = 10 * time.Second
	certValidityWindow = 24 * time.Hour
)

// quicPeerServer is a direct-QUIC PeerServer bound to one local UDP address.
// It generates its own self-signed certificate per listener, matching the
// offer's embedded cert_der_b64/fingerprint_sha256 fields, which replace a
// CA chain for a connection that is only ever verified by fingerprint.
type quicPeerServer struct {
	bindAddr    string
	stunServers []string
	listener    *quic.Listener
	certDER     []byte
	fpSHA256    string
}

// NewQuicPeerServer binds a QUIC listener on bindAddr ("0.0.0.0:0" for an
// ephemeral any-address port). stunServers, if non-empty, are probed by
// Offer to add server-reflexive candidates.
func NewQuicPeerServer(bindAddr string, stunServers []string) (PeerServer, error) {
	cert, certDER, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("transport: generating server cert: %w", err)
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}

	ln, err := quic.ListenAddr(bindAddr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", bindAddr, err)
	}

	sum := sha256.Sum256(certDER)
	return &quicPeerServer{
		bindAddr:    bindAddr,
		stunServers: stunServers,
		listener:    ln,
		certDER:     certDER,
		fpSHA256:    base64.StdEncoding.EncodeToString(sum[:]),
	}, nil
}

func (s *quicPeerServer) Offer(ctx context.Context, extra []string) (signaling.QuicOffer, error) {
	gathered, err := GatherCandidates(ctx, s.stunServers)
	if err != nil && len(extra) == 0 {
		return signaling.QuicOffer{}, fmt.Errorf("transport: gathering candidates: %w", err)
	}

	candidates := make([]string, 0, len(gathered)+len(extra))
	candidates = append(candidates, extra...)
	for _, c := range gathered {
		candidates = append(candidates, rewriteCandidatePort(c, s.listener.Addr()))
	}
	for i, c := range candidates {
		candidates[i] = NormalizeCandidate(c)
	}

	return signaling.QuicOffer{
		Candidates:        candidates,
		CertDERBase64:     base64.StdEncoding.EncodeToString(s.certDER),
		FingerprintSHA256: s.fpSHA256,
		ALPN:              alpnProto,
		ServerName:        "gann-peer",
	}, nil
}

func (s *quicPeerServer) Accept(ctx context.Context) (Connection, error) {
	conn, err := s.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return &quicConnection{conn: conn}, nil
}

func (s *quicPeerServer) Close() error {
	return s.listener.Close()
}

// rewriteCandidatePort replaces a gathered host candidate's port with the
// listener's actual ephemeral port, since the candidate gatherer probes a
// throwaway socket rather than the listener itself.
func rewriteCandidatePort(candidate string, listenAddr net.Addr) string {
	host, _, err := splitHostPortLoose(candidate)
	if err != nil {
		return candidate
	}
	udpAddr, ok := listenAddr.(*net.UDPAddr)
	if !ok {
		return candidate
	}
	return fmt.Sprintf("%s:%d", host, udpAddr.Port)
}

// quicPeerClient is a direct-QUIC PeerClient: it verifies the remote
// fingerprint itself (InsecureSkipVerify plus a manual certificate check),
// since offers are exchanged out of band from any CA.
type quicPeerClient struct {
	bindAddr string
}

// NewQuicPeerClient constructs a PeerClient. bindAddr is stored but not
// applied: Connect dials with quic.DialAddr, which creates and binds its own
// ephemeral local UDP socket, so the local address is not bindAddr.
func NewQuicPeerClient(bindAddr string) PeerClient {
	return &quicPeerClient{bindAddr: bindAddr}
}

func (c *quicPeerClient) Connect(ctx context.Context, offer signaling.QuicOffer) (Connection, error) {
	wantFingerprint := offer.FingerprintSHA256

	tlsConf := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // verified below via VerifyPeerCertificate against the offer's pinned fingerprint
		NextProtos:         []string{alpnProtoOr(offer.ALPN)},
		ServerName:         serverNameOr(offer.ServerName),
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyFingerprint(rawCerts, wantFingerprint)
		},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}

	var lastErr error
	for _, candidate := range offer.Candidates {
		conn, err := quic.DialAddr(ctx, candidate, tlsConf, quicConf)
		if err == nil {
			return &quicConnection{conn: conn}, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidates in offer")
	}
	return nil, fmt.Errorf("transport: direct connect: %w", lastErr)
}

func (c *quicPeerClient) Close() error { return nil }

func alpnProtoOr(v string) string {
	if v == "" {
		return alpnProto
	}
	return v
}

func serverNameOr(v string) string {
	if v == "" {
		return "gann-peer"
	}
	return v
}

func verifyFingerprint(rawCerts [][]byte, wantBase64 string) error {
	if wantBase64 == "" || len(rawCerts) == 0 {
		return fmt.Errorf("transport: missing certificate or fingerprint")
	}
	sum := sha256.Sum256(rawCerts[0])
	got := base64.StdEncoding.EncodeToString(sum[:])
	if got != wantBase64 {
		return fmt.Errorf("transport: certificate fingerprint mismatch")
	}
	return nil
}

// quicConnection adapts a *quic.Conn to the Connection interface.
type quicConnection struct {
	conn *quic.Conn
}

func (c *quicConnection) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept stream: %w", err)
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConnection) Close() error {
	return c.conn.CloseWithError(0, "session closed")
}

// quicStream adapts a *quic.Stream to the Stream interface.
type quicStream struct {
	stream *quic.Stream
}

func (s *quicStream) Write(p []byte) (int, error) { return s.stream.Write(p) }

func (s *quicStream) Finish() error { return s.stream.Close() }

func (s *quicStream) Read(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	buf := make([]byte, maxBytes)
	n, err := s.stream.Read(buf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, nil
		}
		if err != io.EOF {
			return nil, err
		}
	}
	return buf[:n], nil
}

// generateSelfSignedCert creates a short-lived ECDSA P-256 self-signed
// certificate for one listener lifetime. Sessions are authenticated by
// fingerprint pinning (exchanged via the signaling channel), not by chain
// of trust, so a throwaway cert per listener is sufficient.
func generateSelfSignedCert() (tls.Certificate, []byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(certValidityWindow),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}
