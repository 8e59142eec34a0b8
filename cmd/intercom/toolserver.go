// toolserver.go implements the agent-facing tool surface (spec.md §1):
// a small loopback HTTP server, one per running agent session, that
// vends the public verbs (list_agents, send, ask, chat, reply,
// check_inbox, register, status, history, start_agent,
// report_feedback) by translating each into a call against the local
// Daemon or, for Hub-routed verbs (including history, which is just
// another model.MessageType the router already understands), straight
// to the Hub.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"intercom/internal/auth"
	"intercom/internal/config"
	"intercom/internal/hubclient"
	"intercom/internal/inbox"
)

var (
	toolConfigPath string
	toolListenAddr string
	toolSessionID  string
	toolProjectID  string
	toolPID        int
)

func newToolServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool-server",
		Short: "Run the per-agent tool adapter vending list_agents/send/ask/chat/reply/... over local HTTP",
		RunE:  runToolServer,
	}
	cmd.Flags().StringVarP(&toolConfigPath, "config", "c", "intercom.yaml", "path to intercom.yaml")
	cmd.Flags().StringVar(&toolListenAddr, "listen", "127.0.0.1:0", "loopback address to serve the tool surface on")
	cmd.Flags().StringVar(&toolSessionID, "session-id", "", "session id to register as (generated if empty)")
	cmd.Flags().StringVar(&toolProjectID, "project-id", "", "project id this session belongs to")
	cmd.Flags().IntVar(&toolPID, "pid", 0, "pid of the agent process this session represents")
	return cmd
}

func runToolServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(toolConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = "."
	}
	sessionID := toolSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	daemonClient := newLoopbackDaemonClient(cfg)
	ctx := context.Background()

	if _, _, err := daemonClient.do(ctx, http.MethodPost, "/session/register", map[string]interface{}{
		"session_id": sessionID,
		"project_id": toolProjectID,
		"pid":        toolPID,
	}); err != nil {
		return fmt.Errorf("registering session with daemon: %w", err)
	}
	defer daemonClient.do(context.Background(), http.MethodPost, "/session/unregister", map[string]string{"session_id": sessionID}) //nolint:errcheck

	hub := hubclient.New(cfg.Hub.URL, cfg.Machine.ID, cfg.Auth.Token)
	ts := newToolServer(sessionID, toolProjectID, stateDir, daemonClient, hub)

	srv := &http.Server{Addr: toolListenAddr, Handler: ts.handler()}
	log.Printf("tool-server for session %s listening on %s", sessionID, toolListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loopbackDaemonClient signs requests against the shared secret with a
// fixed local identity, since a colocated tool server is a trusted
// caller and not a machine the daemon's registry tracks.
type loopbackDaemonClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newLoopbackDaemonClient(cfg *config.Config) *loopbackDaemonClient {
	return &loopbackDaemonClient{
		baseURL: "http://" + cfg.Machine.DaemonAddr,
		token:   cfg.Auth.SharedToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *loopbackDaemonClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth.Sign(method, req.URL.Path, raw, c.token, "tool-server").Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out []byte
	dec := json.NewDecoder(resp.Body)
	var raw2 json.RawMessage
	if dec.Decode(&raw2) == nil {
		out = raw2
	}
	return out, resp.StatusCode, nil
}

type toolServer struct {
	sessionID string
	projectID string
	stateDir  string
	daemon    *loopbackDaemonClient
	hub       *hubclient.Client
}

func newToolServer(sessionID, projectID, stateDir string, daemon *loopbackDaemonClient, hub *hubclient.Client) *toolServer {
	return &toolServer{sessionID: sessionID, projectID: projectID, stateDir: stateDir, daemon: daemon, hub: hub}
}

func (t *toolServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tool/list_agents", t.handleListAgents)
	mux.HandleFunc("POST /tool/send", t.routeVerb("send"))
	mux.HandleFunc("POST /tool/ask", t.routeVerb("ask"))
	mux.HandleFunc("POST /tool/chat", t.routeVerb("chat"))
	mux.HandleFunc("POST /tool/reply", t.routeVerb("reply"))
	mux.HandleFunc("POST /tool/start_agent", t.routeVerb("start_agent"))
	mux.HandleFunc("POST /tool/history", t.routeVerb("history"))
	mux.HandleFunc("POST /tool/check_inbox", t.handleCheckInbox)
	mux.HandleFunc("POST /tool/register", t.handleRegister)
	mux.HandleFunc("POST /tool/status", t.handleStatus)
	mux.HandleFunc("POST /tool/report_feedback", t.handleReportFeedback)
	return mux
}

func (t *toolServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	resp, err := t.hub.ListAgents(r.Context(), req.Filter)
	if err != nil {
		httpError(w, err)
		return
	}
	jsonOK(w, resp)
}

// routeVerb builds a handler for the message types the Hub routes
// (send/ask/chat/reply/start_agent/history), forwarding the request payload
// through hubclient.Client.Route with from_agent fixed to this session.
func (t *toolServer) routeVerb(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, err)
			return
		}
		toAgent, _ := payload["to_agent"].(string)
		delete(payload, "to_agent")

		resp, err := t.hub.Route(r.Context(), hubclient.RouteRequest{
			FromAgent: t.projectID + "/" + t.sessionID,
			ToAgent:   toAgent,
			Type:      verb,
			Payload:   payload,
		})
		if err != nil {
			httpError(w, err)
			return
		}
		jsonOK(w, resp)
	}
}

func (t *toolServer) handleCheckInbox(w http.ResponseWriter, r *http.Request) {
	messages, err := inbox.Drain(t.inboxPath())
	if err != nil {
		httpError(w, err)
		return
	}
	jsonOK(w, map[string]interface{}{"messages": messages})
}

// handleRegister lets the running agent update its own registration
// (e.g. a new summary line) without restarting the tool-server, by
// re-issuing /session/register against this session's fixed id.
func (t *toolServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, err)
		return
	}
	body, status, err := t.daemon.do(r.Context(), http.MethodPost, "/session/register", map[string]interface{}{
		"session_id": t.sessionID,
		"project_id": t.projectID,
		"pid":        toolPID,
		"summary":    req.Summary,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (t *toolServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, status, err := t.daemon.do(r.Context(), http.MethodGet, "/session/"+t.sessionID+"/status", nil)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (t *toolServer) handleReportFeedback(w http.ResponseWriter, r *http.Request) {
	var req hubclient.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, err)
		return
	}
	req.FromAgent = t.projectID + "/" + t.sessionID
	if err := t.hub.Feedback(r.Context(), req); err != nil {
		httpError(w, err)
		return
	}
	jsonOK(w, map[string]bool{"ok": true})
}

func (t *toolServer) inboxPath() string {
	return t.stateDir + "/inbox/" + t.sessionID + ".jsonl"
}

func jsonOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadGateway)
}
