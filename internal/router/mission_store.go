package router

import (
	"sync"
	"time"

	"intercom/internal/model"
)

// MissionStore is the Hub's in-memory, process-lifetime mission
// bookkeeping table (spec.md §10 Open Question: durability across Hub
// restart is not required). Single owner per process behind a mutex,
// matching the teacher's sync.Mutex-first concurrency style throughout
// notify.Dispatcher / events.Bus / addons.WebSocketHub.
type MissionStore struct {
	mu        sync.Mutex
	byID      map[string]*model.Mission
	byThread  map[string]string // thread_id -> mission_id
	locks     map[string]*sync.Mutex
	feedbackN map[string]int
}

func NewMissionStore() *MissionStore {
	return &MissionStore{
		byID:      make(map[string]*model.Mission),
		byThread:  make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
		feedbackN: make(map[string]int),
	}
}

// LockMission acquires the per-mission FIFO lock and returns the unlock
// function. Never held across an approval park (spec.md §4.4).
func (s *MissionStore) LockMission(missionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[missionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[missionID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Create records a new mission in pending_approval status.
func (s *MissionStore) Create(missionID string, msg model.Message) *model.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &model.Mission{
		MissionID: missionID,
		FromAgent: msg.FromAgent,
		ToAgent:   msg.ToAgent,
		Type:      msg.Type,
		Payload:   preview(msg),
		CreatedAt: time.Now().UTC(),
		Status:    model.MissionPendingApproval,
	}
	s.byID[missionID] = m
	return m
}

// SetThread associates a mission with a chat thread.
func (s *MissionStore) SetThread(missionID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[missionID]; ok {
		m.ThreadID = threadID
	}
	s.byThread[threadID] = missionID
}

// FindByThread returns the mission owning threadID, or nil.
func (s *MissionStore) FindByThread(threadID string) *model.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byThread[threadID]
	if !ok {
		return nil
	}
	return s.byID[id]
}

// Get returns a mission by id, or nil.
func (s *MissionStore) Get(missionID string) *model.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[missionID]
}

// SetStatus transitions a mission's status, recording an optional fail reason.
func (s *MissionStore) SetStatus(missionID string, status model.MissionStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[missionID]; ok {
		m.Status = status
		if reason != "" {
			m.FailReason = reason
		}
	}
}

// AppendMessage appends one chat transcript line to the mission log.
func (s *MissionStore) AppendMessage(missionID string, entry model.MessageLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[missionID]; ok {
		m.Messages = append(m.Messages, entry)
	}
}

// AppendFeedback appends a feedback item with a fresh, mission-local,
// monotonically increasing cursor starting at 1 (spec.md §8 invariant 3).
func (s *MissionStore) AppendFeedback(missionID string, kind model.FeedbackKind, text, tool string) model.FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackN[missionID]++
	item := model.FeedbackItem{
		Cursor:    s.feedbackN[missionID],
		Kind:      kind,
		Text:      text,
		Tool:      tool,
		Timestamp: time.Now().UTC(),
	}
	if m, ok := s.byID[missionID]; ok {
		m.Feedback = append(m.Feedback, item)
	}
	return item
}

// FeedbackSince returns feedback items with cursor > since.
func (s *MissionStore) FeedbackSince(missionID string, since int) []model.FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[missionID]
	if !ok {
		return nil
	}
	var out []model.FeedbackItem
	for _, f := range m.Feedback {
		if f.Cursor > since {
			out = append(out, f)
		}
	}
	return out
}
