// Package hubserver is the Hub's HTTP surface (spec.md §6), grounded on
// the teacher's internal/handlers package for the JSONResponse/JSONError
// helper shape and net/http.ServeMux method+path routing.
package hubserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"intercom/internal/apperror"
	"intercom/internal/auth"
	"intercom/internal/console"
	"intercom/internal/events"
	"intercom/internal/middleware"
	"intercom/internal/model"
	"intercom/internal/registry"
	"intercom/internal/router"
	"intercom/internal/version"
)

// Server holds the Hub's collaborators and exposes an http.Handler.
type Server struct {
	reg     *registry.Registry
	rt      *router.Router
	console console.Adapter
	bus     *events.Bus
	ws      *StreamHub
	joinRL  *middleware.RateLimiter
}

// New builds the Hub's routed handler. Incoming machine requests are
// authenticated against the per-machine token the registry issued at
// join time, not a shared secret.
func New(reg *registry.Registry, rt *router.Router, c console.Adapter, bus *events.Bus) *Server {
	return &Server{
		reg:     reg,
		rt:      rt,
		console: c,
		bus:     bus,
		ws:      NewStreamHub(bus),
		joinRL:  middleware.NewRateLimiter(20, time.Minute),
	}
}

// Handler builds the ServeMux, wrapping every route except the
// unauthenticated ones behind auth.Middleware. The unauthenticated
// join/discover routes sit behind a per-IP rate limiter since they are
// reachable before a machine holds a token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/discover", s.joinRL.Limit(s.handleDiscover))
	mux.HandleFunc("POST /api/join", s.joinRL.Limit(s.handleJoin))
	mux.HandleFunc("GET /api/join/status/{machine_id}", s.joinRL.Limit(s.handleJoinStatus))

	signed := http.NewServeMux()
	signed.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	signed.HandleFunc("POST /api/register", s.handleRegister)
	signed.HandleFunc("GET /api/agents", s.handleListAgents)
	signed.HandleFunc("POST /api/route", s.handleRoute)
	signed.HandleFunc("GET /api/missions/{id}", s.handleMission)
	signed.HandleFunc("POST /api/feedback", s.handleFeedback)
	signed.HandleFunc("GET /api/missions/{id}/stream", s.ws.HandleConnection)
	signed.HandleFunc("GET /api/notifications/providers", s.handleListProviders)
	signed.HandleFunc("GET /api/notifications/services", s.handleListNotificationServices)
	signed.HandleFunc("POST /api/notifications/services", s.handleCreateNotificationService)
	signed.HandleFunc("DELETE /api/notifications/services/{id}", s.handleDeleteNotificationService)
	signed.HandleFunc("GET /api/notifications/history", s.handleNotificationHistory)

	mux.Handle("/api/", auth.Middleware(s.reg.TokenForMachine, skipList, signed))

	return middleware.Logging(mux)
}

func skipList(r *http.Request) bool {
	return false // everything under signed already excludes the unauthenticated routes
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"hub":     true,
		"version": version.Version,
	})
}

type joinRequest struct {
	MachineID   string `json:"machine_id"`
	DisplayName string `json:"display_name"`
	OverlayIP   string `json:"overlay_ip"`
}

// handleJoin registers a pending machine and blocks (bounded by the
// console adapter's timeout) waiting for the operator's decision,
// mirroring the teacher's registerRequest handling but gated by human
// approval instead of a pre-issued token.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if req.MachineID == "" {
		jsonError(w, apperror.BadEnvelope(nil))
		return
	}

	if _, err := s.reg.RegisterMachine(req.MachineID, req.DisplayName, req.OverlayIP, ""); err != nil {
		log.Printf("hubserver: register machine %s: %v", req.MachineID, err)
		jsonError(w, apperror.Internal(err))
		return
	}

	s.bus.Publish(events.Event{Type: events.JoinRequested, FromAgent: req.MachineID, Message: req.DisplayName})

	approved := s.console.AnnounceJoin(req.MachineID, req.DisplayName, req.OverlayIP)
	if !approved {
		jsonResponse(w, map[string]interface{}{"status": "pending_approval"})
		return
	}

	token, err := s.reg.ApproveJoin(req.MachineID)
	if err != nil {
		log.Printf("hubserver: approve join %s: %v", req.MachineID, err)
		jsonError(w, apperror.Internal(err))
		return
	}
	s.bus.Publish(events.Event{Type: events.JoinApproved, FromAgent: req.MachineID})
	jsonResponse(w, map[string]interface{}{"status": "approved", "token": token})
}

func (s *Server) handleJoinStatus(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	m, err := s.reg.GetMachine(machineID)
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	if m == nil {
		jsonError(w, apperror.NotFound("machine", machineID))
		return
	}
	if m.Status == model.MachineStatusApproved {
		jsonResponse(w, map[string]interface{}{"status": "approved", "token": m.Token})
		return
	}
	jsonResponse(w, map[string]interface{}{"status": "pending"})
}

type heartbeatRequest struct {
	MachineID string `json:"machine_id"`
	OverlayIP string `json:"overlay_ip"`
	DaemonURL string `json:"daemon_url"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if err := s.reg.UpdateHeartbeat(req.MachineID, req.OverlayIP, req.DaemonURL); err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"ok": true})
}

type registerRequest struct {
	MachineID   string   `json:"machine_id"`
	ProjectID   string   `json:"project_id"`
	Description string   `json:"description"`
	Caps        []string `json:"caps"`
	Path        string   `json:"path"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if err := s.reg.RegisterProject(req.MachineID, req.ProjectID, req.Description, req.Caps, req.Path); err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	projects, err := s.reg.ListAgents(filter)
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"agents": projects})
}

type routeRequest struct {
	FromAgent string          `json:"from_agent"`
	ToAgent   string          `json:"to_agent"`
	Type      model.MessageType `json:"type"`
	Payload   model.Payload   `json:"payload"`
	MissionID string          `json:"mission_id,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}

	msg := model.Message{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		Type:      req.Type,
		Payload:   req.Payload,
		MissionID: req.MissionID,
	}

	res, err := s.rt.Route(r.Context(), msg)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"status":     res.Status,
		"mission_id": res.MissionID,
		"thread_id":  res.ThreadID,
	})
}

func (s *Server) handleMission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mission := s.rt.Missions().Get(id)
	if mission == nil {
		jsonError(w, apperror.NotFound("mission", id))
		return
	}

	since := 0
	if raw := r.URL.Query().Get("feedback_since"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			since = n
		}
	}
	feedback := s.rt.Missions().FeedbackSince(id, since)

	jsonResponse(w, map[string]interface{}{
		"status":   mission.Status,
		"output":   mission.FailReason,
		"feedback": feedback,
	})
}

type feedbackRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	FromAgent   string `json:"from_agent"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	s.console.NotifyFeedback(req.Kind, req.FromAgent+": "+req.Description)
	jsonResponse(w, map[string]interface{}{"ok": true})
}

func writeRouteError(w http.ResponseWriter, err error) {
	if appErr, ok := apperror.As(err); ok {
		jsonError(w, appErr)
		return
	}
	jsonError(w, apperror.Internal(err))
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("hubserver: failed to encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, err *apperror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]string{"error": string(err.Code()), "label": err.Label()})
}
