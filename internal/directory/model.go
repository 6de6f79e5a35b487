// Package directory is the HTTP collaborator the negotiation core treats as
// an ambient surface: agent registration, search, heartbeats, schema
// fetch, and signaling token issuance (C4) against the central directory
// service.
package directory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// RegisterRequest is the payload sent to the directory on first startup.
type RegisterRequest struct {
	BootstrapToken string   `json:"bootstrap_token"`
	AgentName      string   `json:"agent_name"`
	AgentKind      string   `json:"agent_kind"`
	Capabilities   []string `json:"capabilities,omitempty"`
	OS             string   `json:"os"`
	Arch           string   `json:"arch"`
}

// RegisterResponse is persisted to disk and reused on subsequent starts.
type RegisterResponse struct {
	AgentID      string `json:"agent_id"`
	APIToken     string `json:"api_token"`
	RegisteredAt string `json:"registered_at"`
}

// SearchQuery filters the directory's agent listing.
type SearchQuery struct {
	Kind       string `json:"kind,omitempty"`
	Capability string `json:"capability,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AgentSummary describes one directory-listed agent.
type AgentSummary struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities,omitempty"`
	LastSeen     string   `json:"last_seen"`
}

// SearchResult is the directory's response to Search.
type SearchResult struct {
	Agents []AgentSummary `json:"agents"`
}

// HeartbeatReport is the wire shape of a heartbeat this agent sends about
// itself. It mirrors, but is distinct from, signaling.HeartbeatBroadcast —
// the inbound event this agent receives about peers over the socket.
type HeartbeatReport struct {
	AgentID      string    `json:"agent_id"`
	Status       string    `json:"status"`
	Load         float64   `json:"load"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SchemaDescriptor is an opaque payload-shape descriptor fetched once at
// startup and handed to an (external, not implemented here) JSON-Schema
// validation collaborator.
type SchemaDescriptor struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Raw     json.RawMessage `json:"schema"`
}

// Parse decodes Raw into a *jsonschema.Schema for a caller that wants to
// inspect or hand it to a validator, rather than treat it as opaque bytes.
func (d SchemaDescriptor) Parse() (*jsonschema.Schema, error) {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(d.Raw, schema); err != nil {
		return nil, fmt.Errorf("directory: parsing schema %q: %w", d.Name, err)
	}
	return schema, nil
}

// tokenResponse is the wire shape of the signaling token endpoint (C4).
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (t tokenResponse) toToken() signaling.Token {
	tok := signaling.Token{Value: t.Token, RawExpiresAt: t.ExpiresAt}
	if parsed, err := time.Parse(time.RFC3339, t.ExpiresAt); err == nil {
		tok.ExpiresAt = parsed
	}
	return tok
}
