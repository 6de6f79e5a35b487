package signaling

import (
	"encoding/json"
	"testing"
)

func TestParseFrame_QuicOffer(t *testing.T) {
	raw := []byte(`{
		"event": "signaling",
		"payload": {
			"session_id": "",
			"from": "agent-a",
			"to": "agent-b",
			"payload": {
				"kind": "quic_offer",
				"offer": {
					"candidates": ["10.0.0.5:4000"],
					"cert_der_b64": "abc",
					"fingerprint_sha256": "deadbeef",
					"alpn": "gann-session/1",
					"server_name": "gann-peer"
				}
			}
		}
	}`)

	parsed, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if parsed == nil {
		t.Fatal("expected a parsed event, got nil")
	}
	if parsed.Family != FamilySignaling {
		t.Fatalf("family = %v, want %v", parsed.Family, FamilySignaling)
	}
	ev := parsed.Signaling
	if ev.From != "agent-a" || ev.To != "agent-b" {
		t.Errorf("from/to = %q/%q, want agent-a/agent-b", ev.From, ev.To)
	}
	if ev.Payload.Kind != KindQuicOffer {
		t.Fatalf("kind = %v, want %v", ev.Payload.Kind, KindQuicOffer)
	}
	if ev.Payload.QuicOffer == nil || len(ev.Payload.QuicOffer.Candidates) != 1 {
		t.Fatalf("unexpected offer: %+v", ev.Payload.QuicOffer)
	}
	if ev.Payload.QuicOffer.Candidates[0] != "10.0.0.5:4000" {
		t.Errorf("candidate = %q, want 10.0.0.5:4000", ev.Payload.QuicOffer.Candidates[0])
	}
}

func TestParseFrame_QuicAnswerRequiresSessionID(t *testing.T) {
	raw := []byte(`{
		"event": "signaling",
		"payload": {
			"session_id": "",
			"from": "agent-a",
			"to": "agent-b",
			"payload": {"kind": "quic_answer", "answer": {"accepted": true, "mode": "direct"}}
		}
	}`)

	parsed, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if parsed != nil {
		t.Fatalf("expected nil (invalid: quic_answer without session id), got %+v", parsed)
	}
}

func TestParseFrame_UnknownKindMapsToReject(t *testing.T) {
	raw := []byte(`{
		"event": "signaling",
		"payload": {
			"session_id": "sess-1",
			"from": "agent-a",
			"to": "agent-b",
			"payload": {"kind": "something_new", "reason": "server upgraded"}
		}
	}`)

	parsed, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if parsed == nil || parsed.Signaling.Payload.Kind != KindReject {
		t.Fatalf("expected a reject payload, got %+v", parsed)
	}
	if parsed.Signaling.Payload.Reject.Reason != "server upgraded" {
		t.Errorf("reason = %q, want %q", parsed.Signaling.Payload.Reject.Reason, "server upgraded")
	}
}

func TestParseFrame_MalformedJSONReturnsNilNil(t *testing.T) {
	parsed, err := ParseFrame([]byte(`not json`))
	if err != nil {
		t.Fatalf("expected nil error for malformed input, got %v", err)
	}
	if parsed != nil {
		t.Fatalf("expected nil parsed event, got %+v", parsed)
	}
}

func TestParseFrame_UnrecognisedEventIsSilentlyDropped(t *testing.T) {
	parsed, err := ParseFrame([]byte(`{"event":"unknown_family","payload":{"x":1}}`))
	if err != nil || parsed != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", parsed, err)
	}
}

func TestEncodeQuicOffer_OmitsSessionID(t *testing.T) {
	frame, err := EncodeQuicOffer("agent-b", QuicOffer{Candidates: []string{"1.2.3.4:9"}, ALPN: "gann-session/1"})
	if err != nil {
		t.Fatalf("EncodeQuicOffer: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal encoded frame: %v", err)
	}
	if decoded["type"] != "signal" {
		t.Errorf("type = %v, want signal", decoded["type"])
	}
	if _, present := decoded["session_id"]; present {
		t.Errorf("session_id should be omitted for quic_offer, got %v", decoded["session_id"])
	}
	payload, _ := decoded["payload"].(map[string]interface{})
	if payload["kind"] != string(KindQuicOffer) {
		t.Errorf("payload.kind = %v, want %v", payload["kind"], KindQuicOffer)
	}
}

func TestEncodeQuicAnswer_RoundTripsThroughJSON(t *testing.T) {
	frame, err := EncodeQuicAnswer("sess-1", "agent-a", QuicAnswer{Accepted: true, Mode: "relay"})
	if err != nil {
		t.Fatalf("EncodeQuicAnswer: %v", err)
	}

	var decoded outboundCommand
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SessionID != "sess-1" || decoded.To != "agent-a" {
		t.Errorf("sessionId/to = %q/%q, want sess-1/agent-a", decoded.SessionID, decoded.To)
	}
}
