// Package router implements the Hub's routing plane (spec.md §4.4): the
// heart of the system. Router holds named collaborators — Registry,
// policy Engine, MissionStore, ThreadMap, console.Adapter, and a
// DaemonDispatcher — threaded explicitly into every call, per DESIGN
// NOTES §9 ("explicit context threaded into every handler... avoids
// hidden singletons"). Grounded on the teacher's events.Bus publish/
// subscribe for the approval events it publishes (the per-mission
// traversal line goes straight to console.Adapter.PostToMission), and on
// notify/dispatcher.go's cooldown/rule evaluation shape for grant scopes.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intercom/internal/apperror"
	"intercom/internal/console"
	"intercom/internal/events"
	"intercom/internal/model"
	"intercom/internal/policy"
	"intercom/internal/registry"
)

// DaemonDispatcher is the signed-HTTP-call surface the Router needs
// from a target Daemon. The production implementation is
// internal/hubclient.Client; tests substitute an httptest.Server-backed
// fake or an in-memory stub.
type DaemonDispatcher interface {
	StartMission(ctx context.Context, daemonURL string, req MissionStartRequest) (daemonMissionID string, err error)
	DeliverChat(ctx context.Context, daemonURL string, req ChatDeliverRequest) (status string, err error)
}

// MissionStartRequest is the body of POST <daemon>/mission/start.
type MissionStartRequest struct {
	MissionID    string   `json:"mission_id"`
	Prompt       string   `json:"prompt"`
	CWD          string   `json:"cwd"`
	AllowedPaths []string `json:"allowed_paths"`
	Project      string   `json:"project"`
}

// ChatDeliverRequest is the body of POST <daemon>/session/deliver.
type ChatDeliverRequest struct {
	Project   string    `json:"project"`
	ThreadID  string    `json:"thread_id"`
	FromAgent string    `json:"from_agent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Router is the message dispatcher at the center of the Hub.
type Router struct {
	registry  *registry.Registry
	policy    *policy.Engine
	missions  *MissionStore
	threads   *ThreadMap
	console   console.Adapter
	daemons   DaemonDispatcher
	bus       *events.Bus
	approvals *ApprovalWaiter

	// routingTimeout bounds outbound daemon calls (10s default).
	routingTimeout time.Duration
}

// New builds a Router with its collaborators.
func New(reg *registry.Registry, eng *policy.Engine, c console.Adapter, daemons DaemonDispatcher, bus *events.Bus) *Router {
	return &Router{
		registry:       reg,
		policy:         eng,
		missions:       NewMissionStore(),
		threads:        NewThreadMap(),
		console:        c,
		daemons:        daemons,
		bus:            bus,
		approvals:      NewApprovalWaiter(),
		routingTimeout: 10 * time.Second,
	}
}

// Missions exposes the in-memory mission store for the Hub's
// /api/missions/{id} and /api/feedback handlers.
func (r *Router) Missions() *MissionStore { return r.missions }

// Result is returned to the caller of Route.
type Result struct {
	Status    string
	MissionID string
	ThreadID  string
}

// Status values per spec.md §6.
const (
	StatusDelivered      = "delivered"
	StatusQueued         = "queued"
	StatusDenied         = "denied"
	StatusNoActiveSess   = "no_active_session"
	StatusUnreachable    = "unreachable"
	StatusError          = "error"
)

// Route is the single entry point: validate, classify, ask policy, park
// on approval if needed, and dispatch.
func (r *Router) Route(ctx context.Context, msg model.Message) (Result, error) {
	if err := validate(msg); err != nil {
		return Result{}, apperror.BadEnvelope(err)
	}

	missionID, threadID, err := r.resolveMission(msg)
	if err != nil {
		return Result{}, err
	}
	msg.MissionID = missionID

	unlock := r.missions.LockMission(missionID)

	decision := r.policy.Decide(msg)
	r.publish(events.ApprovalRequested, msg, decision.Label)

	switch decision.Outcome {
	case policy.AutoDeny:
		r.missions.SetStatus(missionID, model.MissionDenied, "denied by policy")
		unlock()
		r.postTraversal(missionID, fmt.Sprintf("%s -> %s (%s): denied by policy (%s)", msg.FromAgent, msg.ToAgent, msg.Type, decision.Label))
		return Result{Status: StatusDenied, MissionID: missionID, ThreadID: threadID}, nil

	case policy.AskOperator:
		// Release the per-mission lock while waiting on the operator so
		// unrelated routes for other missions are never blocked, and so
		// this mission's own re-entrant follow-ups after the grant is
		// recorded can proceed (spec.md §5 "does not hold any global
		// lock... only a per-mission wait primitive").
		unlock()

		scopes := []model.ApprovalScope{model.ApprovalOnce, model.ApprovalMission, model.ApprovalSession, model.ApprovalAlwaysAllow}
		d := r.approvals.Await(missionID, func() console.Decision {
			return r.console.AskApproval(msg.FromAgent, msg.ToAgent, string(msg.Type), preview(msg), scopes)
		})

		unlock = r.missions.LockMission(missionID)

		if !d.Approved {
			r.missions.SetStatus(missionID, model.MissionDenied, "denied by operator")
			unlock()
			r.postTraversal(missionID, fmt.Sprintf("%s -> %s (%s): denied by operator", msg.FromAgent, msg.ToAgent, msg.Type))
			return Result{Status: StatusDenied, MissionID: missionID, ThreadID: threadID}, nil
		}
		if d.Scope != "" && d.Scope != model.ApprovalOnce {
			r.policy.Record(d.Scope, msg.FromAgent, msg.ToAgent, missionID, true)
		}
		r.publish(events.ApprovalGranted, msg, "operator approved: "+string(d.Scope))
	}

	// Exactly one lock is held here: the initial acquisition fell through
	// (AutoAllow), or the AskOperator branch's post-approval re-acquisition
	// did. Held across dispatch to serialize this mission's traversal.
	defer unlock()
	return r.dispatch(ctx, msg, missionID, threadID)
}

func (r *Router) dispatch(ctx context.Context, msg model.Message, missionID, threadID string) (Result, error) {
	dctx, cancel := context.WithTimeout(ctx, r.routingTimeout)
	defer cancel()

	switch msg.Type {
	case model.MessageAsk, model.MessageSend, model.MessageStartAgent:
		return r.dispatchMission(dctx, msg, missionID, threadID)
	case model.MessageChat, model.MessageReply:
		return r.dispatchChat(dctx, msg, missionID, threadID)
	case model.MessageStatus, model.MessageResponse, model.MessageHistory:
		return r.dispatchQuery(msg, missionID, threadID)
	default:
		return Result{}, apperror.BadEnvelope(fmt.Errorf("unhandled message type %q", msg.Type))
	}
}

func (r *Router) dispatchMission(ctx context.Context, msg model.Message, missionID, threadID string) (Result, error) {
	daemonURL, err := r.daemonURLFor(msg.ToAgent)
	if err != nil {
		r.missions.SetStatus(missionID, model.MissionFailed, "target machine unreachable")
		return Result{Status: StatusError, MissionID: missionID}, err
	}

	project := projectOf(msg.ToAgent)
	req := MissionStartRequest{
		MissionID:    missionID,
		Prompt:       firstNonEmpty(msg.Payload.Prompt, msg.Payload.Message),
		CWD:          msg.Payload.CWD,
		AllowedPaths: msg.Payload.AllowedPaths,
		Project:      project,
	}

	r.missions.SetStatus(missionID, model.MissionRunning, "")
	r.postTraversal(missionID, fmt.Sprintf("%s -> %s (%s): dispatched", msg.FromAgent, msg.ToAgent, msg.Type))

	if _, err := r.daemons.StartMission(ctx, daemonURL, req); err != nil {
		reason := "unreachable"
		if appErr, ok := apperror.As(err); ok {
			reason = string(appErr.Code())
		}
		r.missions.SetStatus(missionID, model.MissionFailed, reason)
		return Result{Status: StatusUnreachable, MissionID: missionID}, apperror.Unreachable(daemonURL, err)
	}
	return Result{Status: StatusQueued, MissionID: missionID, ThreadID: threadID}, nil
}

func (r *Router) dispatchChat(ctx context.Context, msg model.Message, missionID, threadID string) (Result, error) {
	daemonURL, err := r.daemonURLFor(msg.ToAgent)
	if err != nil {
		return Result{Status: StatusError, MissionID: missionID}, err
	}

	req := ChatDeliverRequest{
		Project:   projectOf(msg.ToAgent),
		ThreadID:  threadID,
		FromAgent: msg.FromAgent,
		Message:   msg.Payload.Message,
		Timestamp: time.Now().UTC(),
	}

	status, err := r.daemons.DeliverChat(ctx, daemonURL, req)
	if err != nil {
		// spec.md §4.4: one retry with 1s backoff permitted only for
		// idempotent chat delivery.
		time.Sleep(1 * time.Second)
		status, err = r.daemons.DeliverChat(ctx, daemonURL, req)
	}
	if err != nil {
		r.missions.SetStatus(missionID, model.MissionFailed, "unreachable")
		return Result{Status: StatusUnreachable, MissionID: missionID, ThreadID: threadID}, apperror.Unreachable(daemonURL, err)
	}

	r.missions.AppendMessage(missionID, model.MessageLogEntry{From: msg.FromAgent, To: msg.ToAgent, Text: msg.Payload.Message, Timestamp: req.Timestamp})

	if status == StatusNoActiveSess {
		r.postTraversal(missionID, fmt.Sprintf("%s -> %s: no active session, chat not delivered", msg.FromAgent, msg.ToAgent))
		return Result{Status: StatusNoActiveSess, MissionID: missionID, ThreadID: threadID}, nil
	}

	r.missions.SetStatus(missionID, model.MissionCompleted, "")
	r.postTraversal(missionID, fmt.Sprintf("%s -> %s (%s): delivered", msg.FromAgent, msg.ToAgent, msg.Type))
	return Result{Status: StatusDelivered, MissionID: missionID, ThreadID: threadID}, nil
}

func (r *Router) dispatchQuery(msg model.Message, missionID, threadID string) (Result, error) {
	m := r.missions.Get(missionID)
	if m == nil {
		return Result{}, apperror.NotFound("mission", missionID)
	}
	return Result{Status: string(m.Status), MissionID: missionID, ThreadID: threadID}, nil
}

// resolveMission attaches / creates a mission_id per spec.md §4.4 step 2.
func (r *Router) resolveMission(msg model.Message) (missionID, threadID string, err error) {
	switch msg.Type {
	case model.MessageAsk, model.MessageSend, model.MessageStartAgent:
		id := "ask-" + shortUUID()
		r.missions.Create(id, msg)
		return id, "", nil

	case model.MessageReply:
		m := r.missions.FindByThread(msg.Payload.ThreadID)
		if m == nil {
			return "", "", apperror.NotFound("thread", msg.Payload.ThreadID)
		}
		return m.MissionID, msg.Payload.ThreadID, nil

	case model.MessageChat:
		threadID := msg.Payload.ThreadID
		if threadID == "" || !r.threads.Exists(threadID) {
			threadID = r.threads.Create(msg.FromAgent, msg.ToAgent)
			id := "chat-" + shortUUID()
			r.missions.Create(id, msg)
			r.missions.SetThread(id, threadID)
			return id, threadID, nil
		}
		m := r.missions.FindByThread(threadID)
		if m == nil {
			id := "chat-" + shortUUID()
			r.missions.Create(id, msg)
			r.missions.SetThread(id, threadID)
			return id, threadID, nil
		}
		return m.MissionID, threadID, nil

	default:
		if msg.MissionID != "" {
			return msg.MissionID, "", nil
		}
		return "", "", apperror.NotFound("mission", "")
	}
}

func (r *Router) daemonURLFor(agentAddress string) (string, error) {
	machineID := machineOf(agentAddress)
	m, err := r.registry.GetMachine(machineID)
	if err != nil {
		return "", apperror.Internal(err)
	}
	if m == nil || m.Status != model.MachineStatusApproved {
		return "", apperror.AuthUnknownMachine(machineID)
	}
	return m.DaemonURL, nil
}

func (r *Router) postTraversal(missionID, text string) {
	r.console.PostToMission(missionID, text)
}

func (r *Router) publish(t events.EventType, msg model.Message, text string) {
	r.bus.Publish(events.Event{
		Type:      t,
		Severity:  events.SeverityInfo,
		MissionID: msg.MissionID,
		FromAgent: msg.FromAgent,
		ToAgent:   msg.ToAgent,
		Message:   text,
	})
}

func validate(msg model.Message) error {
	if msg.FromAgent == "" || msg.ToAgent == "" {
		return fmt.Errorf("from_agent and to_agent are required")
	}
	switch msg.Type {
	case model.MessageAsk, model.MessageSend, model.MessageResponse, model.MessageStartAgent,
		model.MessageStatus, model.MessageChat, model.MessageReply, model.MessageHistory:
	default:
		return fmt.Errorf("unrecognised message type %q", msg.Type)
	}
	return nil
}

func preview(msg model.Message) string {
	if msg.Payload.Prompt != "" {
		return msg.Payload.Prompt
	}
	return msg.Payload.Message
}

func machineOf(address string) string {
	for i, c := range address {
		if c == '/' {
			return address[:i]
		}
	}
	return address
}

func projectOf(address string) string {
	for i, c := range address {
		if c == '/' {
			return address[i+1:]
		}
	}
	return model.HomeProjectID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortUUID() string {
	full := uuid.New().String()
	return full[:8]
}
