package router

import (
	"sync"

	"intercom/internal/console"
)

// ApprovalWaiter parks a routing goroutine on a per-mission one-shot
// wait primitive while the operator decides, per DESIGN NOTES §9:
// "a per-mission wait primitive (condition variable / one-shot channel)
// that the router awaits, released by the operator-console callback.
// No polling loop." A single mission may have at most one outstanding
// approval (spec.md §5).
type ApprovalWaiter struct {
	mu      sync.Mutex
	inFlight map[string]struct{}
}

func NewApprovalWaiter() *ApprovalWaiter {
	return &ApprovalWaiter{inFlight: make(map[string]struct{})}
}

// Await runs ask (which itself blocks on the console adapter's channel)
// for missionID, guaranteeing at most one outstanding approval per
// mission. It holds no lock while ask blocks.
func (w *ApprovalWaiter) Await(missionID string, ask func() console.Decision) console.Decision {
	w.mu.Lock()
	w.inFlight[missionID] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inFlight, missionID)
		w.mu.Unlock()
	}()

	return ask()
}

// Outstanding reports whether missionID currently has a parked approval.
func (w *ApprovalWaiter) Outstanding(missionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inFlight[missionID]
	return ok
}
