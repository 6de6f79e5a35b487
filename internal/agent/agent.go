// Package agent wires the negotiation core together into a runnable
// program: config, directory registration, the signaling channel, the
// heartbeat loop, and a Dial/Accept surface over the negotiation protocol
// (C10).
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/config"
	"github.com/Soika-Labs/gann-sdk-go/internal/directory"
	"github.com/Soika-Labs/gann-sdk-go/internal/negotiate"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

// Agent owns one directory registration and one signaling channel for the
// lifetime of the process.
type Agent struct {
	cfg       *config.Config
	directory *directory.Client

	agentID  signaling.AgentID
	apiToken string

	channel *signaling.SignalingChannel
}

// New constructs an Agent from a loaded configuration. Call Start to bring
// it up before using Dial/Accept.
func New(cfg *config.Config) *Agent {
	return &Agent{
		cfg:       cfg,
		directory: directory.New(cfg.ControlPlaneURL),
	}
}

// Start registers (or loads a persisted registration), opens the signaling
// channel, and begins the periodic heartbeat loop. It blocks until the
// channel reports ready or ctx is done.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.establishRegistration(ctx); err != nil {
		return fmt.Errorf("agent: registration: %w", err)
	}

	token, err := a.directory.IssueSignalingToken(ctx, a.agentID, a.apiToken)
	if err != nil {
		return fmt.Errorf("agent: issuing signaling token: %w", err)
	}

	socketURL := directory.SignalingSocketURL(a.cfg.ControlPlaneURL, token)
	socket, err := signaling.DialWebsocket(ctx, socketURL, http.Header{})
	if err != nil {
		return fmt.Errorf("agent: dialing signaling socket: %w", err)
	}

	a.channel = signaling.Open(a.agentID, socket, token)
	if err := a.channel.Ready(); err != nil {
		return fmt.Errorf("agent: signaling channel failed to open: %w", err)
	}

	a.checkOfferSchema(ctx)

	go a.runHeartbeatLoop(ctx)

	slog.Info("agent started", "agentId", a.agentID)
	return nil
}

func (a *Agent) establishRegistration(ctx context.Context) error {
	if reg, err := directory.LoadRegistration(a.cfg.DataDir); err == nil {
		a.agentID = signaling.AgentID(reg.AgentID)
		a.apiToken = reg.APIToken
		slog.Info("loaded existing registration", "agentId", reg.AgentID)
		return nil
	}

	slog.Info("no existing registration found, registering with directory")
	resp, err := a.directory.Register(ctx, directory.RegisterRequest{
		BootstrapToken: a.cfg.BootstrapToken,
		AgentName:      a.cfg.AgentName,
		AgentKind:      a.cfg.AgentKind,
		Capabilities:   a.cfg.Capabilities,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
	})
	if err != nil {
		return err
	}

	if err := directory.SaveRegistration(a.cfg.DataDir, resp); err != nil {
		slog.Warn("could not persist registration", "error", err)
	}

	a.agentID = signaling.AgentID(resp.AgentID)
	a.apiToken = resp.APIToken
	slog.Info("registration successful", "agentId", resp.AgentID)
	return nil
}

func (a *Agent) runHeartbeatLoop(ctx context.Context) {
	interval := a.cfg.HeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

// checkOfferSchema fetches the directory's declared quic_offer payload
// shape and parses it, purely as a startup sanity check that the
// directory's schema surface is reachable and well-formed. Failure here
// is non-fatal: schema validation of individual payloads is left to an
// external collaborator, not performed by this package.
func (a *Agent) checkOfferSchema(ctx context.Context) {
	descriptor, err := a.directory.FetchSchema(ctx, a.apiToken, "quic_offer")
	if err != nil {
		slog.Debug("quic_offer schema not available from directory", "error", err)
		return
	}
	schema, err := descriptor.Parse()
	if err != nil {
		slog.Warn("quic_offer schema from directory did not parse", "error", err)
		return
	}
	slog.Debug("quic_offer schema loaded", "version", descriptor.Version, "type", schema.Type)
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	report := directory.HeartbeatReport{
		AgentID:      string(a.agentID),
		Status:       "ready",
		Capabilities: a.cfg.Capabilities,
		Timestamp:    time.Now().UTC(),
	}
	if err := a.directory.Heartbeat(ctx, a.apiToken, report); err != nil {
		slog.Warn("heartbeat failed", "error", err)
	}
}

// defaultNegotiateOptions builds negotiate.Options from the agent's
// configuration, leaving the transport factories at their quic-go
// defaults.
func (a *Agent) defaultNegotiateOptions() negotiate.Options {
	return negotiate.Options{
		DirectTimeoutMs:           a.cfg.DirectTimeoutMs,
		DirectBindAddr:            a.cfg.DirectBindAddr,
		RelayBindAddr:             a.cfg.RelayBindAddr,
		StunServers:               a.cfg.StunServers,
		OfferTimeoutMs:            a.cfg.OfferTimeoutMs,
		UseDirectWithoutSessionID: a.cfg.UseDirectWithoutSessionID,
	}
}

// Dial initiates a session against peerAgentID (wraps C6).
func (a *Agent) Dial(ctx context.Context, peerAgentID signaling.AgentID) (*negotiate.SessionHandle, error) {
	token, err := a.directory.IssueSignalingToken(ctx, a.agentID, a.apiToken)
	if err != nil {
		return nil, fmt.Errorf("agent: issuing signaling token for dial: %w", err)
	}
	return negotiate.Dial(ctx, a.channel, peerAgentID, token, a.defaultNegotiateOptions())
}

// Accept waits for and responds to the next incoming offer (wraps §4.9 +
// C7).
func (a *Agent) Accept(ctx context.Context) (*negotiate.SessionHandle, error) {
	opts := a.defaultNegotiateOptions()
	offerEvent, cachedRelay, err := negotiate.AwaitOffer(ctx, a.channel, opts)
	if err != nil {
		return nil, err
	}

	token, err := a.directory.IssueSignalingToken(ctx, a.agentID, a.apiToken)
	if err != nil {
		return nil, fmt.Errorf("agent: issuing signaling token for accept: %w", err)
	}
	return negotiate.Respond(ctx, a.channel, offerEvent, cachedRelay, token, opts)
}

// Shutdown closes the signaling channel. Any open SessionHandle returned by
// Dial/Accept is the caller's own responsibility to close.
func (a *Agent) Shutdown() {
	if a.channel != nil {
		a.channel.Close(1000, "agent shutdown")
	}
}

// AgentID returns the directory-assigned agent id, valid after Start.
func (a *Agent) AgentID() signaling.AgentID { return a.agentID }
