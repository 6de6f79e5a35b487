package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventFamily identifies which of the four event families an inbound frame
// belongs to.
type EventFamily string

const (
	FamilySignaling EventFamily = "signaling"
	FamilySession   EventFamily = "session"
	FamilyControl   EventFamily = "control"
	FamilyHeartbeat EventFamily = "heartbeat"
)

// ParsedEvent is the decoded form of one inbound frame, tagged by family.
// Exactly one of the typed fields is populated, matching Family.
type ParsedEvent struct {
	Family    EventFamily
	Signaling *SignalingEvent
	Session   *SessionLifecycleEvent
	Control   *ControlDirective
	Heartbeat *HeartbeatBroadcast
}

// rawFrame is the wire shape of every inbound frame: { "event": ..., "payload": ... }.
type rawFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ParseFrame decodes one inbound UTF-8 JSON frame. It returns (nil, nil) for
// any frame that is not a well-formed JSON object with a recognised "event"
// and a non-null "payload" — such frames are silently dropped per the wire
// codec's leniency contract, not treated as errors.
func ParseFrame(raw []byte) (*ParsedEvent, error) {
	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, nil
	}
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		return nil, nil
	}

	switch EventFamily(frame.Event) {
	case FamilySignaling:
		ev, err := decodeSignalingEvent(frame.Payload)
		if err != nil {
			return nil, nil
		}
		return &ParsedEvent{Family: FamilySignaling, Signaling: ev}, nil
	case FamilySession:
		ev, err := decodeSessionEvent(frame.Payload)
		if err != nil {
			return nil, nil
		}
		return &ParsedEvent{Family: FamilySession, Session: ev}, nil
	case FamilyControl:
		ev, err := decodeControlDirective(frame.Payload)
		if err != nil {
			return nil, nil
		}
		return &ParsedEvent{Family: FamilyControl, Control: ev}, nil
	case FamilyHeartbeat:
		ev, err := decodeHeartbeat(frame.Payload)
		if err != nil {
			return nil, nil
		}
		return &ParsedEvent{Family: FamilyHeartbeat, Heartbeat: ev}, nil
	default:
		return nil, nil
	}
}

// wireSignalingEvent mirrors the server's signaling payload shape (§6).
type wireSignalingEvent struct {
	SessionID string          `json:"session_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	ExpiresAt json.RawMessage `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

func decodeSignalingEvent(raw json.RawMessage) (*SignalingEvent, error) {
	var w wireSignalingEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	payload, err := decodeSignalingPayload(w.Payload)
	if err != nil {
		return nil, err
	}

	ev := &SignalingEvent{
		SessionID: SessionID(w.SessionID),
		From:      AgentID(w.From),
		To:        AgentID(w.To),
		ExpiresAt: decodeTimestamp(w.ExpiresAt),
		Payload:   *payload,
	}

	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeSignalingPayload keys off payload.kind (or .type), case-insensitive.
// Unknown kinds map to Reject{reason: reason ?? "unknown"}.
func decodeSignalingPayload(raw json.RawMessage) (*SignalingPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty signaling payload")
	}

	var probe struct {
		Kind   string          `json:"kind"`
		Type   string          `json:"type"`
		Reason string          `json:"reason"`
		Fields map[string]json.RawMessage
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	var whole map[string]json.RawMessage
	_ = json.Unmarshal(raw, &whole)

	kind := strings.ToLower(strings.TrimSpace(probe.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(probe.Type))
	}

	switch PayloadKind(kind) {
	case KindQuicOffer:
		var offer QuicOffer
		if err := unmarshalNested(whole, "offer", &offer); err != nil {
			return nil, err
		}
		return &SignalingPayload{Kind: KindQuicOffer, QuicOffer: &offer}, nil

	case KindQuicAnswer:
		var answer QuicAnswer
		if err := unmarshalNested(whole, "answer", &answer); err != nil {
			return nil, err
		}
		return &SignalingPayload{Kind: KindQuicAnswer, QuicAnswer: &answer}, nil

	case KindQuicCandidate:
		var candidate QuicCandidate
		if err := unmarshalNested(whole, "candidate", &candidate); err != nil {
			return nil, err
		}
		return &SignalingPayload{Kind: KindQuicCandidate, QuicCandidate: &candidate}, nil

	case KindQuicRelay:
		var relay QuicRelay
		if err := unmarshalNested(whole, "relay", &relay); err != nil {
			return nil, err
		}
		return &SignalingPayload{Kind: KindQuicRelay, QuicRelay: &relay}, nil

	case KindDisconnect:
		return &SignalingPayload{Kind: KindDisconnect, Disconnect: &Disconnect{Reason: probe.Reason}}, nil

	default:
		reason := probe.Reason
		if reason == "" {
			reason = "unknown"
		}
		return &SignalingPayload{Kind: KindReject, Reject: &Reject{Reason: reason}}, nil
	}
}

// unmarshalNested tries the kind-named key, then "payload", then the whole
// object, in that priority, so that server variations do not lose
// information.
func unmarshalNested(whole map[string]json.RawMessage, key string, out interface{}) error {
	if raw, ok := whole[key]; ok && len(raw) > 0 && string(raw) != "null" {
		return json.Unmarshal(raw, out)
	}
	if raw, ok := whole["payload"]; ok && len(raw) > 0 && string(raw) != "null" {
		return json.Unmarshal(raw, out)
	}
	buf, err := json.Marshal(whole)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

type wireSessionEvent struct {
	SessionID   string          `json:"session_id"`
	TargetAgent string          `json:"target_agent"`
	PeerAgent   string          `json:"peer_agent"`
	State       string          `json:"state"`
	ExpiresAt   json.RawMessage `json:"expires_at"`
	Reason      string          `json:"reason"`
}

func decodeSessionEvent(raw json.RawMessage) (*SessionLifecycleEvent, error) {
	var w wireSessionEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &SessionLifecycleEvent{
		SessionID:   SessionID(w.SessionID),
		TargetAgent: AgentID(w.TargetAgent),
		PeerAgent:   AgentID(w.PeerAgent),
		State:       LifecycleState(w.State),
		ExpiresAt:   decodeTimestamp(w.ExpiresAt),
		Reason:      w.Reason,
	}, nil
}

type wireControlDirective struct {
	TargetAgent string `json:"target_agent"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	SessionID   string `json:"session_id"`
}

func decodeControlDirective(raw json.RawMessage) (*ControlDirective, error) {
	var w wireControlDirective
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &ControlDirective{
		TargetAgent: AgentID(w.TargetAgent),
		Action:      ControlAction(w.Action),
		Reason:      w.Reason,
		SessionID:   SessionID(w.SessionID),
	}, nil
}

type wireHeartbeat struct {
	AgentID   string          `json:"agent_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Load      float64         `json:"load"`
	Status    string          `json:"status"`
}

func decodeHeartbeat(raw json.RawMessage) (*HeartbeatBroadcast, error) {
	var w wireHeartbeat
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &HeartbeatBroadcast{
		AgentID:   AgentID(w.AgentID),
		Timestamp: decodeTimestamp(w.Timestamp),
		Load:      w.Load,
		Status:    w.Status,
	}, nil
}

// decodeTimestamp accepts an ISO-8601 string, a numeric epoch (seconds or
// milliseconds), or defaults to "now" on anything unparseable.
func decodeTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Now()
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		// Heuristic: values beyond ~year-2100-in-seconds are milliseconds.
		if f > 4102444800 {
			return time.UnixMilli(int64(f))
		}
		return time.Unix(int64(f), 0)
	}

	return time.Now()
}

// outboundCommand is the wire shape emitted by the channel's send API (§6).
type outboundCommand struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	To        string      `json:"to"`
	Payload   interface{} `json:"payload"`
}

type outboundPayload struct {
	Kind      PayloadKind `json:"kind"`
	Offer     *QuicOffer  `json:"offer,omitempty"`
	Answer    *QuicAnswer `json:"answer,omitempty"`
	Candidate string      `json:"candidate,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// EncodeQuicOffer serialises a "signal" command carrying a quic_offer. The
// session id MUST be omitted for quic_offer — the server assigns one.
func EncodeQuicOffer(to AgentID, offer QuicOffer) ([]byte, error) {
	cmd := outboundCommand{
		Type: "signal",
		To:   string(to),
		Payload: outboundPayload{
			Kind:  KindQuicOffer,
			Offer: &offer,
		},
	}
	return json.Marshal(cmd)
}

// EncodeQuicAnswer serialises a "signal" command carrying a quic_answer.
func EncodeQuicAnswer(sessionID SessionID, to AgentID, answer QuicAnswer) ([]byte, error) {
	cmd := outboundCommand{
		Type:      "signal",
		SessionID: string(sessionID),
		To:        string(to),
		Payload: outboundPayload{
			Kind:   KindQuicAnswer,
			Answer: &answer,
		},
	}
	return json.Marshal(cmd)
}

// EncodeQuicCandidate serialises a "signal" command carrying a quic_candidate.
func EncodeQuicCandidate(sessionID SessionID, to AgentID, candidate string) ([]byte, error) {
	cmd := outboundCommand{
		Type:      "signal",
		SessionID: string(sessionID),
		To:        string(to),
		Payload: outboundPayload{
			Kind:      KindQuicCandidate,
			Candidate: candidate,
		},
	}
	return json.Marshal(cmd)
}

// EncodeDisconnect serialises a "signal" command carrying a disconnect notice.
func EncodeDisconnect(sessionID SessionID, to AgentID, reason string) ([]byte, error) {
	cmd := outboundCommand{
		Type:      "signal",
		SessionID: string(sessionID),
		To:        string(to),
		Payload: outboundPayload{
			Kind:   KindDisconnect,
			Reason: reason,
		},
	}
	return json.Marshal(cmd)
}
