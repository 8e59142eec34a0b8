package daemonserver

import (
	"sync"
	"syscall"

	"intercom/internal/model"
)

// SessionTable is the Daemon's in-process active-sessions map, guarded
// by a single mutex, grounded on addons.WebSocketHub.conns.
type SessionTable struct {
	mu       sync.Mutex
	byID     map[string]model.Session
	byProj   map[string][]string // project_id -> session ids, oldest first
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		byID:   make(map[string]model.Session),
		byProj: make(map[string][]string),
	}
}

// Register records a newly announced active session.
func (t *SessionTable) Register(s model.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[s.SessionID]; !exists {
		t.byProj[s.ProjectID] = append(t.byProj[s.ProjectID], s.SessionID)
	}
	t.byID[s.SessionID] = s
}

// Unregister removes a session explicitly, e.g. on clean shutdown.
func (t *SessionTable) Unregister(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(sessionID)
}

func (t *SessionTable) removeLocked(sessionID string) {
	s, ok := t.byID[sessionID]
	if !ok {
		return
	}
	delete(t.byID, sessionID)
	ids := t.byProj[s.ProjectID]
	for i, id := range ids {
		if id == sessionID {
			t.byProj[s.ProjectID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Get returns the session by id, or ok=false if unknown.
func (t *SessionTable) Get(sessionID string) (model.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[sessionID]
	return s, ok
}

// List returns every currently tracked session.
func (t *SessionTable) List() []model.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	return out
}

// ResolveLive resolves a target session either by explicit sessionID
// or, absent one, by the first-registered still-live session for
// projectID (spec.md §4.5 "first match"). It liveness-checks the pid
// with a null signal and atomically drops dead entries, returning
// ok=false if nothing live remains.
func (t *SessionTable) ResolveLive(sessionID, projectID string) (model.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sessionID != "" {
		s, ok := t.byID[sessionID]
		if !ok {
			return model.Session{}, false
		}
		if !pidAlive(s.PID) {
			t.removeLocked(sessionID)
			return model.Session{}, false
		}
		return s, true
	}

	for _, id := range append([]string(nil), t.byProj[projectID]...) {
		s, ok := t.byID[id]
		if !ok {
			continue
		}
		if !pidAlive(s.PID) {
			t.removeLocked(id)
			continue
		}
		return s, true
	}
	return model.Session{}, false
}

// pidAlive liveness-checks pid with a null signal (syscall.Kill(pid, 0)),
// the concrete syscall the original daemon's os.kill(pid, 0) uses.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
