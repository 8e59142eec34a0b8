// Package daemonserver is the Daemon's HTTP surface (spec.md §4.5),
// grounded on internal/hubserver's ServeMux/auth.Middleware wiring and
// on internal/addons/websocket.go's in-process connection-registry
// pattern for the active-sessions map.
package daemonserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"intercom/internal/apperror"
	"intercom/internal/auth"
	"intercom/internal/config"
	"intercom/internal/events"
	"intercom/internal/inbox"
	"intercom/internal/middleware"
	"intercom/internal/model"
	"intercom/internal/supervisor"
	"intercom/internal/version"
)

// Server is the Daemon's collaborators: a subprocess launcher, the
// active-sessions table, the local mission bookkeeping, and the shared
// secret used to verify Hub-originated signed requests.
type Server struct {
	machineID   string
	sharedToken string
	stateDir    string
	launcher    config.LauncherConfig

	sup      *supervisor.Supervisor
	sessions *SessionTable
	missions *MissionTable
	bus      *events.Bus
}

// New builds a Daemon server rooted at stateDir (inbox files live under
// stateDir/inbox).
func New(machineID, sharedToken, stateDir string, launcher config.LauncherConfig, bus *events.Bus) *Server {
	return &Server{
		machineID:   machineID,
		sharedToken: sharedToken,
		stateDir:    stateDir,
		launcher:    launcher,
		sup:         supervisor.New(launcher.SpawnInterval),
		sessions:    NewSessionTable(),
		missions:    NewMissionTable(),
		bus:         bus,
	}
}

// Handler builds the routed surface, exactly the endpoints of spec.md
// §4.5, with everything but /discover and /health behind the shared
// signed envelope.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /discover", s.handleDiscover)
	mux.HandleFunc("GET /health", s.handleHealth)

	signed := http.NewServeMux()
	signed.HandleFunc("POST /mission/start", s.handleMissionStart)
	signed.HandleFunc("GET /missions/{id}", s.handleMissionStatus)
	signed.HandleFunc("POST /session/register", s.handleSessionRegister)
	signed.HandleFunc("POST /session/unregister", s.handleSessionUnregister)
	signed.HandleFunc("GET /sessions", s.handleListSessions)
	signed.HandleFunc("POST /session/deliver", s.handleSessionDeliver)
	signed.HandleFunc("GET /session/{id}/status", s.handleSessionStatus)

	mux.Handle("/", auth.Middleware(s.lookupToken, skipNone, signed))
	return middleware.Logging(mux)
}

// lookupToken treats every signed request as coming from the one Hub
// this daemon is paired with, verified against the pre-shared secret
// (spec.md §6 auth.token / shared token), not a per-machine registry
// the Daemon does not keep.
func (s *Server) lookupToken(machineID string) (string, bool) {
	if s.sharedToken == "" {
		return "", false
	}
	return s.sharedToken, true
}

func skipNone(r *http.Request) bool { return false }

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"hub":        false,
		"version":    version.Version,
		"machine_id": s.machineID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{"ok": true})
}

type missionStartRequest struct {
	MissionID    string   `json:"mission_id"`
	Prompt       string   `json:"prompt"`
	CWD          string   `json:"cwd"`
	AllowedPaths []string `json:"allowed_paths"`
	Project      string   `json:"project"`
}

// handleMissionStart launches the configured agent command under
// supervisor.Supervisor and starts a background drain of its feedback
// into the local mission table.
func (s *Server) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	var req missionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}

	allowed := req.AllowedPaths
	if len(allowed) == 0 {
		allowed = s.launcher.AllowedPaths
	}

	timeout := s.launcher.MissionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)

	handle, err := s.sup.Launch(runCtx, supervisor.Options{
		Command:          s.launcher.Command,
		Prompt:           req.Prompt,
		CWD:              req.CWD,
		AllowedPaths:     allowed,
		MissionTimeout:   timeout,
		FeedbackCapacity: s.launcher.FeedbackCapacity,
	})
	if err != nil {
		cancel()
		if appErr, ok := apperror.As(err); ok {
			jsonError(w, appErr)
			return
		}
		jsonError(w, apperror.Internal(err))
		return
	}

	s.missions.Start(req.MissionID, cancel)
	go s.missions.Drain(req.MissionID, handle.Feedback, handle.Done, s.bus)
	go s.watchTimeout(runCtx, req.MissionID)

	jsonResponse(w, map[string]interface{}{"mission_id": req.MissionID})
}

// watchTimeout marks the mission failed(timeout) the moment runCtx
// expires, preserving whatever feedback was already drained.
func (s *Server) watchTimeout(runCtx context.Context, missionID string) {
	<-runCtx.Done()
	if runCtx.Err() == context.DeadlineExceeded {
		s.missions.MarkTimeout(missionID)
		s.bus.Publish(events.Event{Type: events.MissionFailed, MissionID: missionID, Message: "timeout"})
	}
}

func (s *Server) handleMissionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	since := 0
	if raw := r.URL.Query().Get("feedback_since"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			since = n
		}
	}
	status, failReason, feedback, ok := s.missions.Snapshot(id, since)
	if !ok {
		jsonError(w, apperror.NotFound("mission", id))
		return
	}
	jsonResponse(w, map[string]interface{}{
		"status":   status,
		"output":   failReason,
		"feedback": feedback,
	})
}

type sessionRegisterRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	PID       int    `json:"pid"`
	Summary   string `json:"summary,omitempty"`
}

func (s *Server) handleSessionRegister(w http.ResponseWriter, r *http.Request) {
	var req sessionRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	s.sessions.Register(model.Session{
		SessionID:    req.SessionID,
		ProjectID:    req.ProjectID,
		PID:          req.PID,
		InboxPath:    s.inboxPath(req.SessionID),
		RegisteredAt: time.Now().UTC(),
		Status:       model.SessionActive,
		Summary:      req.Summary,
	})
	jsonResponse(w, map[string]interface{}{"session_id": req.SessionID})
}

type sessionUnregisterRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSessionUnregister(w http.ResponseWriter, r *http.Request) {
	var req sessionUnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	s.sessions.Unregister(req.SessionID)
	jsonResponse(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{"sessions": s.sessions.List()})
}

// Sessions returns every currently registered session, used by the
// daemon's heartbeat loop to report active_sessions to the Hub.
func (s *Server) Sessions() []model.Session {
	return s.sessions.List()
}

type sessionDeliverRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Project   string    `json:"project"`
	ThreadID  string    `json:"thread_id"`
	FromAgent string    `json:"from_agent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleSessionDeliver resolves the live target session (by id, else
// first match on project), liveness-checks its pid, and appends one
// line to its inbox file (spec.md §4.5 steps 1-3).
func (s *Server) handleSessionDeliver(w http.ResponseWriter, r *http.Request) {
	var req sessionDeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}

	sess, ok := s.sessions.ResolveLive(req.SessionID, req.Project)
	if !ok {
		s.bus.Publish(events.Event{Type: events.NoActiveSession, ToAgent: req.Project, Message: req.Message})
		jsonError(w, apperror.NoActiveSession(req.Project))
		return
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	msg := model.InboxMessage{
		ThreadID:  req.ThreadID,
		FromAgent: req.FromAgent,
		Timestamp: req.Timestamp,
		Message:   req.Message,
	}
	if err := inbox.Append(sess.InboxPath, msg); err != nil {
		log.Printf("daemonserver: append inbox %s: %v", sess.InboxPath, err)
		jsonError(w, apperror.Internal(err))
		return
	}

	jsonResponse(w, map[string]interface{}{"status": "delivered"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		jsonError(w, apperror.NotFound("session", id))
		return
	}
	pending, err := inbox.Peek(sess.InboxPath)
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}

	jsonResponse(w, map[string]interface{}{
		"session":       sess,
		"inbox_pending": pending,
	})
}

func (s *Server) inboxPath(sessionID string) string {
	return filepath.Join(s.stateDir, "inbox", sessionID+".jsonl")
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("daemonserver: failed to encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, err *apperror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]string{"error": string(err.Code()), "label": err.Label()})
}
