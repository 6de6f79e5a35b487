package signaling

import (
	"fmt"
	"strings"
	"time"
)

// AgentID is an opaque, non-empty agent identifier. Equality is
// byte-identical after trimming surrounding whitespace.
type AgentID string

// SessionID is an opaque, non-empty session identifier assigned by the
// directory. Equality is byte-identical after trimming surrounding
// whitespace.
type SessionID string

// Trimmed returns the value with surrounding whitespace removed.
func (a AgentID) Trimmed() AgentID { return AgentID(strings.TrimSpace(string(a))) }

// Trimmed returns the value with surrounding whitespace removed.
func (s SessionID) Trimmed() SessionID { return SessionID(strings.TrimSpace(string(s))) }

// Empty reports whether the agent id is empty or whitespace-only.
func (a AgentID) Empty() bool { return strings.TrimSpace(string(a)) == "" }

// Empty reports whether the session id is empty or whitespace-only.
func (s SessionID) Empty() bool { return strings.TrimSpace(string(s)) == "" }

// ValidationError is returned for malformed input at an API boundary, e.g.
// an empty agent or session id, or a send attempted on a closed channel.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Token is a short-lived signaling bearer token. Tokens are immutable plain
// values; any copy may be used interchangeably.
type Token struct {
	Value        string
	ExpiresAt    time.Time
	RawExpiresAt string
}

// PayloadKind identifies the variant carried by a SignalingPayload.
type PayloadKind string

const (
	KindQuicOffer     PayloadKind = "quic_offer"
	KindQuicAnswer    PayloadKind = "quic_answer"
	KindQuicCandidate PayloadKind = "quic_candidate"
	KindQuicRelay     PayloadKind = "quic_relay"
	KindDisconnect    PayloadKind = "disconnect"
	KindReject        PayloadKind = "reject"
)

// QuicOffer carries the initiator-advertised QUIC parameters used to attempt
// a direct connection.
type QuicOffer struct {
	Candidates        []string `json:"candidates"`
	CertDERBase64     string   `json:"cert_der_b64"`
	FingerprintSHA256 string   `json:"fingerprint_sha256"`
	ALPN              string   `json:"alpn"`
	ServerName        string   `json:"server_name"`
	E2EEPubKeyBase64  string   `json:"e2ee_pubkey_b64,omitempty"`
}

// QuicAnswer is the opaque accept/reject reply carrying the chosen mode.
type QuicAnswer struct {
	Accepted bool   `json:"accepted"`
	Mode     string `json:"mode,omitempty"` // "direct" | "relay"
	Reason   string `json:"reason,omitempty"`
}

// QuicCandidate is a reserved additional-candidate hint; it is decoded and
// passed through but not otherwise interpreted by the negotiation core.
type QuicCandidate struct {
	Candidate string `json:"candidate"`
}

// QuicRelay carries server-provided relay coordinates for a session.
type QuicRelay struct {
	SessionID               SessionID `json:"sessionId"`
	QuicAddr                string    `json:"quicAddr"`
	ServerFingerprintSHA256 string    `json:"serverFingerprintSha256"`
	ALPN                    string    `json:"alpn,omitempty"`
	ServerName              string    `json:"serverName,omitempty"`
}

// Disconnect signals peer-initiated teardown.
type Disconnect struct {
	Reason string `json:"reason,omitempty"`
}

// Reject signals server-initiated refusal.
type Reject struct {
	Reason string `json:"reason"`
}

// SignalingPayload is the tagged sum of all signaling message variants. Only
// the field matching Kind is populated.
type SignalingPayload struct {
	Kind          PayloadKind
	QuicOffer     *QuicOffer
	QuicAnswer    *QuicAnswer
	QuicCandidate *QuicCandidate
	QuicRelay     *QuicRelay
	Disconnect    *Disconnect
	Reject        *Reject
}

// SignalingEvent is an inbound signaling frame dispatched to listeners.
type SignalingEvent struct {
	SessionID SessionID
	From      AgentID
	To        AgentID
	ExpiresAt time.Time
	Payload   SignalingPayload
}

// validate enforces the payload-kind-specific invariants from the data model:
// QuicAnswer/Candidate/Relay/Disconnect require a non-empty session id;
// QuicOffer allows an empty one (the server assigns it before delivery).
func (e *SignalingEvent) validate() error {
	switch e.Payload.Kind {
	case KindQuicOffer, KindReject:
		return nil
	default:
		if e.SessionID.Trimmed().Empty() {
			return newValidationError("sessionId", "must be non-empty for "+string(e.Payload.Kind))
		}
		return nil
	}
}

// LifecycleState is the state of a session's lifecycle as reported by the
// directory over the "session" event family.
type LifecycleState string

const (
	LifecyclePending    LifecycleState = "pending"
	LifecycleActive     LifecycleState = "active"
	LifecycleTerminated LifecycleState = "terminated"
)

// SessionLifecycleEvent reports a change in a session's directory-tracked state.
type SessionLifecycleEvent struct {
	SessionID   SessionID
	TargetAgent AgentID
	PeerAgent   AgentID
	State       LifecycleState
	ExpiresAt   time.Time
	Reason      string
}

// ControlAction identifies a directive issued by the directory over the
// "control" event family.
type ControlAction string

const (
	ActionReject     ControlAction = "reject"
	ActionDisconnect ControlAction = "disconnect"
	ActionTimeout    ControlAction = "timeout"
	ActionKillSwitch ControlAction = "kill_switch"
)

// ControlDirective is a server-initiated instruction targeting one agent.
type ControlDirective struct {
	TargetAgent AgentID
	Action      ControlAction
	Reason      string
	SessionID   SessionID
}

// HeartbeatBroadcast reports a peer agent's liveness and load, received over
// the "heartbeat" event family.
type HeartbeatBroadcast struct {
	AgentID   AgentID
	Timestamp time.Time
	Load      float64
	Status    string
}
