package negotiate

import (
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
)

// Mode is the transport a negotiation settled on.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// SessionHandle is the uniform façade C8 hands back to the caller,
// regardless of which transport the negotiation settled on.
type SessionHandle struct {
	Mode        Mode
	SessionID   signaling.SessionID
	PeerAgentID signaling.AgentID

	// Connection is set iff Mode == ModeDirect.
	Connection transport.Connection
	// RelayTransport and PeerReady are set iff Mode == ModeRelay.
	RelayTransport transport.RelayTransport
	PeerReady      bool

	closeOnce sync.Once
	closeErr  error
}

func newDirectHandle(sessionID signaling.SessionID, peer signaling.AgentID, conn transport.Connection) *SessionHandle {
	return &SessionHandle{Mode: ModeDirect, SessionID: sessionID, PeerAgentID: peer, Connection: conn}
}

func newRelayHandle(sessionID signaling.SessionID, peer signaling.AgentID, rt transport.RelayTransport, peerReady bool) *SessionHandle {
	return &SessionHandle{Mode: ModeRelay, SessionID: sessionID, PeerAgentID: peer, RelayTransport: rt, PeerReady: peerReady}
}

// Close releases the underlying resource. It is idempotent: subsequent
// calls are no-ops returning the first call's result.
func (h *SessionHandle) Close() error {
	h.closeOnce.Do(func() {
		metrics.RecordSessionClosed(string(h.Mode))
		switch h.Mode {
		case ModeDirect:
			if h.Connection != nil {
				h.closeErr = h.Connection.Close()
			}
		case ModeRelay:
			if h.RelayTransport != nil {
				h.closeErr = h.RelayTransport.Close()
			}
		}
	})
	return h.closeErr
}
