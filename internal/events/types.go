package events

import "time"

// EventType identifies the kind of event being published on the bus.
type EventType string

const (
	// Routing / mission lifecycle events, published by the router as a
	// message traverses the system.
	JoinRequested    EventType = "join_requested"
	JoinApproved     EventType = "join_approved"
	JoinDenied       EventType = "join_denied"
	MissionStarted   EventType = "mission_started"
	MissionCompleted EventType = "mission_completed"
	MissionFailed    EventType = "mission_failed"
	MissionDenied    EventType = "mission_denied"
	ChatDelivered    EventType = "chat_delivered"
	NoActiveSession  EventType = "no_active_session"

	// Approval events, published when the policy engine parks a message.
	ApprovalRequested EventType = "approval_requested"
	ApprovalGranted   EventType = "approval_granted"

	// Feedback events, published as a mission's child agent streams activity.
	FeedbackAppended EventType = "feedback_appended"
)

// Severity indicates the urgency of an event, used by the notify
// Dispatcher to decide whether a configured notification service should
// fire.
type Severity int

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is the payload published through the bus. MissionID/FromAgent/ToAgent
// are empty for events that aren't mission-scoped (e.g. join requests).
type Event struct {
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	MissionID string            `json:"mission_id,omitempty"`
	FromAgent string            `json:"from_agent,omitempty"`
	ToAgent   string            `json:"to_agent,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
