// Package console implements the operator-console adapter of spec.md
// §4.6: the only place the core depends on the external chat-based
// console. The production ShoutrrrAdapter wraps the teacher's
// notify.ShoutrrrSender (Send(url, message string) error), extended
// with a small in-memory pending-approval table so AskApproval/
// AnnounceJoin can block on a channel the way spec.md §4.4 step 4
// requires, since Shoutrrr itself is fire-and-forget.
package console

import (
	"fmt"
	"sync"
	"time"

	"intercom/internal/model"
	"intercom/internal/notify"
)

// Decision is an operator's answer to an approval prompt.
type Decision struct {
	Approved bool
	Scope    model.ApprovalScope // once/mission/session/always_allow when Approved
}

// Adapter is the abstract outbound interface to the operator console.
type Adapter interface {
	// AnnounceJoin blocks until the operator approves or denies a join
	// request, or the implementation-defined timeout elapses leaving
	// the join pending.
	AnnounceJoin(machineID, displayName, overlayIP string) (approved bool)
	// AskApproval blocks until the operator answers or the request
	// times out (spec.md §5: implementation-chosen, default 10 min).
	AskApproval(from, to, msgType, preview string, scopes []model.ApprovalScope) Decision
	// PostToMission is non-blocking; the console adapter creates a
	// per-mission thread/topic on first call.
	PostToMission(missionID, text string)
	// NotifyFeedback is a one-shot notification not tied to a mission.
	NotifyFeedback(kind, text string)
}

// pendingApproval is a parked approval or join prompt awaiting an
// out-of-band ResolveJoin or ResolveApproval call from the real operator
// console.
type pendingApproval struct {
	decisionCh chan Decision
	joinCh     chan bool
}

// ShoutrrrAdapter dispatches outbound text via github.com/nicholas-fedor/shoutrrr
// and parks approval/join requests in an in-memory table until
// ResolveApproval or ResolveJoin is called by the external console
// integration (out of scope per
// spec.md §1).
type ShoutrrrAdapter struct {
	sender      notify.Sender
	url         string
	timeout     time.Duration
	mu          sync.Mutex
	pending     map[string]*pendingApproval
	missionSeen map[string]bool
}

// NewShoutrrrAdapter builds an adapter posting to the given Shoutrrr URL
// (e.g. a telegram:// destination configured from the telegram.* config
// section) with the given approval timeout.
func NewShoutrrrAdapter(sender notify.Sender, url string, timeout time.Duration) *ShoutrrrAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ShoutrrrAdapter{
		sender:      sender,
		url:         url,
		timeout:     timeout,
		pending:     make(map[string]*pendingApproval),
		missionSeen: make(map[string]bool),
	}
}

func (a *ShoutrrrAdapter) send(text string) {
	if err := a.sender.Send(a.url, text); err != nil {
		// Console delivery failure is non-fatal: the router still
		// completes the underlying routing decision.
		return
	}
}

func (a *ShoutrrrAdapter) AnnounceJoin(machineID, displayName, overlayIP string) bool {
	key := "join:" + machineID
	pa := &pendingApproval{joinCh: make(chan bool, 1)}

	a.mu.Lock()
	a.pending[key] = pa
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	a.send(fmt.Sprintf("[join request] %s (%s) at %s — approve or deny", machineID, displayName, overlayIP))

	select {
	case approved := <-pa.joinCh:
		return approved
	case <-time.After(a.timeout):
		return false
	}
}

func (a *ShoutrrrAdapter) AskApproval(from, to, msgType, preview string, scopes []model.ApprovalScope) Decision {
	key := fmt.Sprintf("approval:%s:%s:%d", from, to, time.Now().UnixNano())
	pa := &pendingApproval{decisionCh: make(chan Decision, 1)}

	a.mu.Lock()
	a.pending[key] = pa
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	a.send(fmt.Sprintf("[approval] %s -> %s (%s): %s\nchoices: %v", from, to, msgType, preview, scopes))

	select {
	case d := <-pa.decisionCh:
		return d
	case <-time.After(a.timeout):
		return Decision{Approved: false}
	}
}

func (a *ShoutrrrAdapter) PostToMission(missionID, text string) {
	a.mu.Lock()
	first := !a.missionSeen[missionID]
	a.missionSeen[missionID] = true
	a.mu.Unlock()

	if first {
		a.send(fmt.Sprintf("[mission %s]\n%s", missionID, text))
		return
	}
	a.send(fmt.Sprintf("[mission %s] %s", missionID, text))
}

func (a *ShoutrrrAdapter) NotifyFeedback(kind, text string) {
	a.send(fmt.Sprintf("[%s] %s", kind, text))
}

// ResolveJoin answers a pending join prompt, called by the external
// operator-console integration out of band.
func (a *ShoutrrrAdapter) ResolveJoin(machineID string, approved bool) bool {
	a.mu.Lock()
	pa, ok := a.pending["join:"+machineID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case pa.joinCh <- approved:
		return true
	default:
		return false
	}
}

// ResolveApproval answers a pending approval prompt by its key.
func (a *ShoutrrrAdapter) ResolveApproval(key string, decision Decision) bool {
	a.mu.Lock()
	pa, ok := a.pending[key]
	a.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case pa.decisionCh <- decision:
		return true
	default:
		return false
	}
}

// NoopAdapter auto-resolves every prompt with a configurable canned
// decision, mirroring notify.Dispatcher's test Sender fake. Used in
// router tests and the standalone CLI mode.
type NoopAdapter struct {
	AutoApproveJoin bool
	AutoDecision    Decision

	mu       sync.Mutex
	Posted   []string
	Notified []string
}

func NewNoopAdapter(autoApprove bool) *NoopAdapter {
	scope := model.ApprovalOnce
	if autoApprove {
		scope = model.ApprovalOnce
	}
	return &NoopAdapter{
		AutoApproveJoin: autoApprove,
		AutoDecision:    Decision{Approved: autoApprove, Scope: scope},
	}
}

func (n *NoopAdapter) AnnounceJoin(machineID, displayName, overlayIP string) bool {
	return n.AutoApproveJoin
}

func (n *NoopAdapter) AskApproval(from, to, msgType, preview string, scopes []model.ApprovalScope) Decision {
	return n.AutoDecision
}

func (n *NoopAdapter) PostToMission(missionID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Posted = append(n.Posted, missionID+": "+text)
}

func (n *NoopAdapter) NotifyFeedback(kind, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notified = append(n.Notified, kind+": "+text)
}
