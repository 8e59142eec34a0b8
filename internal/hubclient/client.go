// Package hubclient is the Daemon's thin signed wrapper around the
// Hub's /api/* surface (spec.md §4.7), grounded on the teacher's
// registration/auth request shape in
// internal/handlers/agent_handlers.go (registerRequest/authRequest
// structs, bearer-session issuance) reworked to the Hub's HMAC envelope
// instead of bearer sessions.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"intercom/internal/apperror"
	"intercom/internal/auth"
	"intercom/internal/router"
)

// Client is a signed HTTP client bound to one machine identity and a
// fixed Hub base URL.
type Client struct {
	hubURL    string
	machineID string
	token     string
	http      *http.Client
}

// New builds a Client. token may be empty before the join flow
// completes; Discover and the first Join call are unauthenticated.
func New(hubURL, machineID, token string) *Client {
	return &Client{
		hubURL:    hubURL,
		machineID: machineID,
		token:     token,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken updates the token used to sign subsequent requests, called
// once the join flow returns an approved token.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, path string, body interface{}, signed bool) ([]byte, int, error) {
	var raw []byte
	var err error
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.hubURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		// Sign against the query-free path: auth.Verify computes its
		// canonical string from r.URL.Path, which never includes the
		// query string.
		auth.Sign(method, req.URL.Path, raw, c.token, c.machineID).Apply(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// DiscoverResponse is the body of GET /api/discover.
type DiscoverResponse struct {
	Hub       bool   `json:"hub"`
	Version   string `json:"version"`
	MachineID string `json:"machine_id"`
}

func (c *Client) Discover(ctx context.Context) (DiscoverResponse, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/api/discover", nil, false)
	if err != nil {
		return DiscoverResponse{}, err
	}
	var out DiscoverResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return DiscoverResponse{}, fmt.Errorf("decode discover response: %w", err)
	}
	return out, nil
}

// JoinRequest is the body of POST /api/join.
type JoinRequest struct {
	MachineID   string `json:"machine_id"`
	DisplayName string `json:"display_name"`
	OverlayIP   string `json:"overlay_ip"`
}

// JoinResponse is the response of POST /api/join and GET /api/join/status/{id}.
type JoinResponse struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

func (c *Client) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	body, _, err := c.do(ctx, http.MethodPost, "/api/join", req, false)
	if err != nil {
		return JoinResponse{}, err
	}
	var out JoinResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return JoinResponse{}, fmt.Errorf("decode join response: %w", err)
	}
	return out, nil
}

func (c *Client) JoinStatus(ctx context.Context, machineID string) (JoinResponse, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/api/join/status/"+machineID, nil, false)
	if err != nil {
		return JoinResponse{}, err
	}
	var out JoinResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return JoinResponse{}, fmt.Errorf("decode join status response: %w", err)
	}
	return out, nil
}

// HeartbeatSession is one entry of the heartbeat's active_sessions list.
type HeartbeatSession struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
}

// HeartbeatRequest is the body of POST /api/heartbeat.
type HeartbeatRequest struct {
	MachineID      string             `json:"machine_id"`
	OverlayIP      string             `json:"overlay_ip"`
	DaemonURL      string             `json:"daemon_url"`
	ActiveSessions []HeartbeatSession `json:"active_sessions"`
}

func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, status, err := c.do(hctx, http.MethodPost, "/api/heartbeat", req, true)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("heartbeat rejected: status %d", status)
	}
	return nil
}

// RouteRequest is the body of POST /api/route.
type RouteRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Type      string `json:"type"`
	Payload   interface{} `json:"payload"`
	MissionID string `json:"mission_id,omitempty"`
}

// RouteResponse is the response of POST /api/route.
type RouteResponse struct {
	Status    string `json:"status"`
	MissionID string `json:"mission_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

func (c *Client) Route(ctx context.Context, req RouteRequest) (RouteResponse, error) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	body, _, err := c.do(rctx, http.MethodPost, "/api/route", req, true)
	if err != nil {
		return RouteResponse{}, err
	}
	var out RouteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return RouteResponse{}, fmt.Errorf("decode route response: %w", err)
	}
	return out, nil
}

// FeedbackRequest is the body of POST /api/feedback, used by the
// per-agent tool server's report_feedback verb.
type FeedbackRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	FromAgent   string `json:"from_agent"`
}

func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) error {
	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, status, err := c.do(fctx, http.MethodPost, "/api/feedback", req, true)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("feedback rejected: status %d", status)
	}
	return nil
}

// ListAgentsResponse is the response of GET /api/agents.
type ListAgentsResponse struct {
	Agents []interface{} `json:"agents"`
}

func (c *Client) ListAgents(ctx context.Context, filter string) (ListAgentsResponse, error) {
	path := "/api/agents"
	if filter != "" {
		path += "?filter=" + filter
	}
	body, _, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return ListAgentsResponse{}, err
	}
	var out ListAgentsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ListAgentsResponse{}, fmt.Errorf("decode agents response: %w", err)
	}
	return out, nil
}

// DaemonDispatcher implementation — the Hub's Router uses this same
// Client type (constructed per target daemon) to call into a Daemon's
// own HTTP surface.

func (c *Client) StartMission(ctx context.Context, daemonURL string, req router.MissionStartRequest) (string, error) {
	target := New(daemonURL, c.machineID, c.token)
	body, status, err := target.do(ctx, http.MethodPost, "/mission/start", req, true)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", remoteError(body, status, "mission/start")
	}
	var out struct {
		MissionID string `json:"mission_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode mission/start response: %w", err)
	}
	return out.MissionID, nil
}

// remoteError decodes the {"error", "label"} envelope a daemon/hub
// handler's jsonError writes back, preserving the typed code (e.g.
// path_not_allowed) instead of collapsing every rejection into a bare
// HTTP status.
func remoteError(body []byte, status int, op string) error {
	var out struct {
		Error string `json:"error"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Error == "" {
		return fmt.Errorf("%s rejected: status %d", op, status)
	}
	return apperror.New(apperror.Code(out.Error), out.Label, nil)
}

func (c *Client) DeliverChat(ctx context.Context, daemonURL string, req router.ChatDeliverRequest) (string, error) {
	target := New(daemonURL, c.machineID, c.token)
	body, status, err := target.do(ctx, http.MethodPost, "/session/deliver", req, true)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "no_active_session", nil
	}
	if status >= 300 {
		return "", fmt.Errorf("session/deliver rejected: status %d", status)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode session/deliver response: %w", err)
	}
	if out.Status == "" {
		out.Status = "delivered"
	}
	return out.Status, nil
}

// Pool holds one signing identity (machine id and token) that the Hub
// reuses across many outbound calls; each call builds a fresh Client for
// the target daemon URL, and no Clients are cached. It serves as the
// router's DaemonDispatcher.
type Pool struct {
	machineID string
	token     string
}

func NewPool(machineID, token string) *Pool {
	return &Pool{machineID: machineID, token: token}
}

func (p *Pool) StartMission(ctx context.Context, daemonURL string, req router.MissionStartRequest) (string, error) {
	return New(daemonURL, p.machineID, p.token).StartMission(ctx, daemonURL, req)
}

func (p *Pool) DeliverChat(ctx context.Context, daemonURL string, req router.ChatDeliverRequest) (string, error) {
	return New(daemonURL, p.machineID, p.token).DeliverChat(ctx, daemonURL, req)
}
