// Package model holds the plain data structures shared by the Hub, the
// Daemon, and the auth/registry/policy/router packages: machines,
// projects, sessions, threads, missions, feedback, and the routed
// message envelope. Struct shape and JSON tagging follow the teacher's
// internal/models/models.go and internal/agents/types.go conventions.
package model

import "time"

// MachineStatus is the lifecycle state of a registered machine.
type MachineStatus string

const (
	MachineStatusPending  MachineStatus = "pending"
	MachineStatusApproved MachineStatus = "approved"
	MachineStatusDenied   MachineStatus = "denied"
	MachineStatusRevoked  MachineStatus = "revoked"
)

// Machine is a node on the overlay network that has requested or been
// granted membership in the mesh.
type Machine struct {
	MachineID     string        `json:"machine_id"`
	DisplayName   string        `json:"display_name"`
	OverlayIP     string        `json:"overlay_ip"`
	DaemonURL     string        `json:"daemon_url"`
	Token         string        `json:"token,omitempty"`
	Status        MachineStatus `json:"status"`
	LastHeartbeat time.Time     `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Online reports whether the machine has been heard from recently enough
// to be considered reachable (spec.md §4.2: now − last_seen ≤ 90s).
func (m Machine) Online(now time.Time) bool {
	if m.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(m.LastHeartbeat) <= 90*time.Second
}

// HomeProjectID is the synthetic project every machine always carries.
const HomeProjectID = "home"

// Project is an addressable unit of work on a machine, a.k.a. an agent.
type Project struct {
	MachineID   string   `json:"machine_id"`
	ProjectID   string   `json:"project_id"`
	Description string   `json:"description,omitempty"`
	Caps        []string `json:"caps,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// Address returns the network-wide "<machine>/<project>" name.
func (p Project) Address() string {
	return p.MachineID + "/" + p.ProjectID
}

// SessionStatus is the presence state of a session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionWorking SessionStatus = "working"
	SessionIdle    SessionStatus = "idle"
)

// Session is a live agent process announced by a Daemon's tool server.
type Session struct {
	SessionID    string        `json:"session_id"`
	ProjectID    string        `json:"project_id"`
	PID          int           `json:"pid"`
	InboxPath    string        `json:"inbox_path"`
	RegisteredAt time.Time     `json:"registered_at"`
	Status       SessionStatus `json:"status"`
	Summary      string        `json:"summary,omitempty"`
	Recent       []string      `json:"recent,omitempty"`
}

// Thread groups chat messages between exactly two agent addresses.
type Thread struct {
	ThreadID string `json:"thread_id"`
	A        string `json:"a"`
	B        string `json:"b"`
}

// MissionStatus is the terminal-or-in-flight state of a mission.
type MissionStatus string

const (
	MissionPendingApproval MissionStatus = "pending_approval"
	MissionApproved        MissionStatus = "approved"
	MissionDenied          MissionStatus = "denied"
	MissionRunning         MissionStatus = "running"
	MissionCompleted       MissionStatus = "completed"
	MissionFailed          MissionStatus = "failed"
)

// MessageLogEntry is one line of a mission's chat transcript.
type MessageLogEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackKind distinguishes the shapes of structured activity a child
// agent can stream.
type FeedbackKind string

const (
	FeedbackText    FeedbackKind = "text"
	FeedbackToolUse FeedbackKind = "tool_use"
	FeedbackTurn    FeedbackKind = "turn"
)

// FeedbackItem is one entry in a mission's feedback log. Cursor is
// monotonically increasing and local to the mission, starting at 1.
type FeedbackItem struct {
	Cursor    int          `json:"cursor"`
	Kind      FeedbackKind `json:"kind"`
	Text      string       `json:"text,omitempty"`
	Tool      string       `json:"tool,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Mission is the Hub's bookkeeping record for one routed ask/send/chat/
// start_agent interaction.
type Mission struct {
	MissionID  string            `json:"mission_id"`
	ThreadID   string            `json:"thread_id,omitempty"`
	FromAgent  string            `json:"from_agent"`
	ToAgent    string            `json:"to_agent"`
	Type       MessageType       `json:"type"`
	Payload    string            `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Status     MissionStatus     `json:"status"`
	FailReason string            `json:"fail_reason,omitempty"`
	Messages   []MessageLogEntry `json:"messages,omitempty"`
	Feedback   []FeedbackItem    `json:"feedback,omitempty"`
}

// MessageType is the tagged variant discriminator for a routed Message.
// Router dispatch switches exhaustively over these values rather than
// treating a message as an open dictionary (see DESIGN NOTES §9 of the
// specification this module implements).
type MessageType string

const (
	MessageAsk        MessageType = "ask"
	MessageSend       MessageType = "send"
	MessageResponse   MessageType = "response"
	MessageStartAgent MessageType = "start_agent"
	MessageStatus     MessageType = "status"
	MessageChat       MessageType = "chat"
	MessageReply      MessageType = "reply"
	MessageHistory    MessageType = "history"
)

// Message is the envelope routed by the Hub's /api/route endpoint.
type Message struct {
	FromAgent string      `json:"from_agent"`
	ToAgent   string      `json:"to_agent"`
	Type      MessageType `json:"type"`
	Payload   Payload     `json:"payload"`
	MissionID string      `json:"mission_id,omitempty"`
}

// Payload carries the fields relevant to a Message's Type. Only the
// fields matching Type are expected to be populated; this is still a
// closed struct, not an open map, per DESIGN NOTES §9.
type Payload struct {
	Message         string   `json:"message,omitempty"`
	ThreadID        string   `json:"thread_id,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
	CWD             string   `json:"cwd,omitempty"`
	AllowedPaths    []string `json:"allowed_paths,omitempty"`
	FeedbackSince   int      `json:"feedback_since,omitempty"`
	Kind            string   `json:"kind,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// ApprovalScope is how far a policy grant extends once recorded.
type ApprovalScope string

const (
	ApprovalNever       ApprovalScope = "never"
	ApprovalAlwaysAllow ApprovalScope = "always_allow"
	ApprovalOnce        ApprovalScope = "once"
	ApprovalMission     ApprovalScope = "mission"
	ApprovalSession     ApprovalScope = "session"
)

// PolicyRule is one ordered entry of an approval policy document.
type PolicyRule struct {
	From            string        `yaml:"from" json:"from"`
	To              string        `yaml:"to" json:"to"`
	Type            string        `yaml:"type,omitempty" json:"type,omitempty"`
	MessagePattern  string        `yaml:"message_pattern,omitempty" json:"message_pattern,omitempty"`
	Approval        ApprovalScope `yaml:"approval" json:"approval"`
	Label           string        `yaml:"label,omitempty" json:"label,omitempty"`
}

// ApprovalPolicy is the full ordered rule set plus its default scope.
type ApprovalPolicy struct {
	DefaultApproval ApprovalScope `yaml:"require_approval" json:"require_approval"`
	Rules           []PolicyRule  `yaml:"rules" json:"rules"`
}

// RuntimeGrant is a recorded approval decision, scoped as described by
// ApprovalScope, keyed by (scope, from, to, mission_id?).
type RuntimeGrant struct {
	Scope     ApprovalScope `json:"scope"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	MissionID string        `json:"mission_id,omitempty"`
	Denied    bool          `json:"denied,omitempty"`
	GrantedAt time.Time     `json:"granted_at"`
}

// InboxMessage is one line of a session's append-only inbox file.
type InboxMessage struct {
	ThreadID  string    `json:"thread_id"`
	FromAgent string    `json:"from_agent"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
}
