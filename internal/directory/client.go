package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
)

const httpTimeout = 10 * time.Second

// Client is the directory's HTTP collaborator surface: one *http.Client and
// a base URL, mirroring the teacher's registration/heartbeat pattern of
// constructing a short-lived request per call rather than holding any
// connection state of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a directory Client against baseURL (e.g.
// "https://directory.example.com").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// Register sends a bootstrap registration request and returns the
// directory-issued agent id and API token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/.gann/agents/register", req.BootstrapToken, req, &resp)
	metrics.RecordDirectoryRequest("register", outcomeLabel(err))
	return resp, err
}

// Search queries the directory's agent listing.
func (c *Client) Search(ctx context.Context, apiToken string, query SearchQuery) (SearchResult, error) {
	values := url.Values{}
	if query.Kind != "" {
		values.Set("kind", query.Kind)
	}
	if query.Capability != "" {
		values.Set("capability", query.Capability)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}

	var resp SearchResult
	path := "/.gann/agents/search"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	err := c.doJSON(ctx, http.MethodGet, path, apiToken, nil, &resp)
	metrics.RecordDirectoryRequest("search", outcomeLabel(err))
	return resp, err
}

// Heartbeat reports this agent's current status to the directory.
func (c *Client) Heartbeat(ctx context.Context, apiToken string, report HeartbeatReport) error {
	path := fmt.Sprintf("/.gann/agents/%s/heartbeat", url.PathEscape(report.AgentID))
	err := c.doJSON(ctx, http.MethodPost, path, apiToken, report, nil)
	metrics.RecordDirectoryRequest("heartbeat", outcomeLabel(err))
	metrics.RecordHeartbeat(outcomeLabel(err))
	return err
}

// FetchSchema retrieves a named payload-shape descriptor.
func (c *Client) FetchSchema(ctx context.Context, apiToken, name string) (SchemaDescriptor, error) {
	var resp SchemaDescriptor
	path := fmt.Sprintf("/.gann/schemas/%s", url.PathEscape(name))
	err := c.doJSON(ctx, http.MethodGet, path, apiToken, nil, &resp)
	metrics.RecordDirectoryRequest("fetch_schema", outcomeLabel(err))
	return resp, err
}

// IssueSignalingToken is C4's one operation: exchange the agent's API
// credentials for a short-lived signaling-socket bearer token.
func (c *Client) IssueSignalingToken(ctx context.Context, agentID signaling.AgentID, apiToken string) (signaling.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/.gann/ws/token", nil)
	if err != nil {
		return signaling.Token{}, fmt.Errorf("directory: building token request: %w", err)
	}
	req.Header.Set("GANN-API-KEY", apiToken)
	req.Header.Set("GANN-AGENT-ID", string(agentID))

	var resp tokenResponse
	if err := c.doRequest(req, &resp); err != nil {
		metrics.RecordDirectoryRequest("issue_signaling_token", outcomeLabel(err))
		return signaling.Token{}, err
	}
	tok := resp.toToken()
	tok.Value = strings.TrimSpace(tok.Value)
	if tok.Value == "" {
		metrics.RecordDirectoryRequest("issue_signaling_token", "error")
		return signaling.Token{}, fmt.Errorf("directory: signaling token response is missing a token")
	}
	if tok.ExpiresAt.IsZero() {
		metrics.RecordDirectoryRequest("issue_signaling_token", "error")
		return signaling.Token{}, fmt.Errorf("directory: signaling token response has an invalid expires_at %q", resp.ExpiresAt)
	}
	metrics.RecordDirectoryRequest("issue_signaling_token", "ok")
	return tok, nil
}

// SignalingSocketURL derives the signaling socket URL from the directory's
// base URL, switching https→wss / http→ws and appending the token.
func SignalingSocketURL(baseURL string, token signaling.Token) string {
	wsURL := baseURL
	switch {
	case len(wsURL) >= 8 && wsURL[:8] == "https://":
		wsURL = "wss://" + wsURL[8:]
	case len(wsURL) >= 7 && wsURL[:7] == "http://":
		wsURL = "ws://" + wsURL[7:]
	}
	for len(wsURL) > 0 && wsURL[len(wsURL)-1] == '/' {
		wsURL = wsURL[:len(wsURL)-1]
	}
	return wsURL + "/.gann/ws?token=" + url.QueryEscape(token.Value)
}

func (c *Client) doJSON(ctx context.Context, method, path, apiToken string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory: marshalling request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("directory: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	return c.doRequest(req, out)
}

func (c *Client) doRequest(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("directory: reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("directory: %s returned status %d: %s", req.URL.Path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("directory: decoding response: %w", err)
	}
	return nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
