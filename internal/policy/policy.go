// Package policy implements the approval/policy engine of spec.md §4.3:
// a stateless, ordered glob/regex rule matcher plus a small runtime-grant
// cache. Decide is a pure function with no I/O, per DESIGN NOTES §9,
// adapted from the reference Authorize(ctx, agentID, capID, data)
// (bool, error) shape seen in
// xela07ax-spaceai-infra-prototype/internal/policy/enforcer.go — the
// context.Context parameter there implied I/O the spec explicitly
// forbids for decide, so it is dropped here.
package policy

import (
	"regexp"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"intercom/internal/model"
)

// Decision is the outcome of Decide.
type Decision struct {
	Outcome DecisionOutcome
	Label   string
	Rule    *model.PolicyRule
}

type DecisionOutcome int

const (
	AutoAllow DecisionOutcome = iota
	AutoDeny
	AskOperator
)

// Engine holds the ordered rule set and the runtime grant cache.
type Engine struct {
	policy model.ApprovalPolicy
	grants *GrantStore
}

// NewEngine builds an engine from a loaded policy document.
func NewEngine(p model.ApprovalPolicy) *Engine {
	return &Engine{policy: p, grants: NewGrantStore()}
}

// Grants exposes the runtime grant cache for Record calls after an
// operator decision is made.
func (e *Engine) Grants() *GrantStore { return e.grants }

// Decide evaluates msg against the ordered rules and any existing
// runtime grants. It performs no I/O.
func (e *Engine) Decide(msg model.Message) Decision {
	if e.grants.Denied(msg.FromAgent, msg.ToAgent, msg.MissionID) {
		return Decision{Outcome: AutoDeny, Label: "previously denied for this scope"}
	}
	if e.grants.Allowed(msg.FromAgent, msg.ToAgent, msg.MissionID) {
		return Decision{Outcome: AutoAllow, Label: "runtime grant"}
	}

	rule := e.matchRule(msg)
	if rule == nil {
		// spec.md §4.4: "Policy rule missing target: treat as ask operator once."
		return Decision{Outcome: AskOperator, Label: "no matching rule (default: ask once)"}
	}

	switch rule.Approval {
	case model.ApprovalNever:
		return Decision{Outcome: AutoAllow, Label: rule.Label, Rule: rule}
	case model.ApprovalAlwaysAllow:
		return Decision{Outcome: AutoAllow, Label: rule.Label, Rule: rule}
	case model.ApprovalOnce, model.ApprovalMission, model.ApprovalSession:
		return Decision{Outcome: AskOperator, Label: rule.Label, Rule: rule}
	default:
		return Decision{Outcome: AskOperator, Label: "unrecognised approval scope (default: ask once)", Rule: rule}
	}
}

// matchRule returns the first rule matching msg, or nil.
func (e *Engine) matchRule(msg model.Message) *model.PolicyRule {
	for i := range e.policy.Rules {
		r := &e.policy.Rules[i]
		if !globMatch(r.From, msg.FromAgent) {
			continue
		}
		if !globMatch(r.To, msg.ToAgent) {
			continue
		}
		if r.Type != "" && r.Type != "any" && r.Type != string(msg.Type) {
			continue
		}
		if r.MessagePattern != "" {
			ok, err := regexp.MatchString("(?i)"+r.MessagePattern, msg.Payload.Message)
			if err != nil || !ok {
				continue
			}
		}
		return r
	}
	return nil
}

func globMatch(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Record mutates the runtime grant cache after an operator decision,
// scoped per rule.Approval / the explicit scope choice the operator
// made (spec.md §4.4 step 4: allow / deny / allow-for-mission /
// allow-for-session).
func (e *Engine) Record(scope model.ApprovalScope, from, to, missionID string, allow bool) {
	e.grants.Record(model.RuntimeGrant{
		Scope:     scope,
		From:      from,
		To:        to,
		MissionID: missionID,
		Denied:    !allow,
		GrantedAt: time.Now().UTC(),
	})
}

// GrantStore is an in-memory map guarded by a mutex, grounded on the
// teacher's notify.Dispatcher.cooldowns map-with-mutex pattern.
type GrantStore struct {
	mu     sync.RWMutex
	grants map[string]model.RuntimeGrant
}

func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]model.RuntimeGrant)}
}

// grantKey maps a scope to the bucket Allowed/Denied actually consult.
// always_allow is an operator-chosen scope wider than session (it
// survives across missions with no session boundary at all), so it is
// folded into the same session-scoped bucket rather than a key nothing
// ever looks up again.
func grantKey(scope model.ApprovalScope, from, to, missionID string) string {
	switch scope {
	case model.ApprovalMission:
		return string(model.ApprovalMission) + "|" + missionID
	case model.ApprovalSession, model.ApprovalAlwaysAllow:
		return string(model.ApprovalSession) + "|" + from + "|" + to
	default:
		return string(scope) + "|" + from + "|" + to + "|" + missionID
	}
}

// Record stores g, keyed by its scope.
func (s *GrantStore) Record(g model.RuntimeGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(g.Scope, g.From, g.To, g.MissionID)] = g
}

// Allowed reports whether a positive grant covers (from, to, missionID)
// under either the mission or session scope.
func (s *GrantStore) Allowed(from, to, missionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.grants[grantKey(model.ApprovalMission, from, to, missionID)]; ok && !g.Denied {
		return true
	}
	if g, ok := s.grants[grantKey(model.ApprovalSession, from, to, "")]; ok && !g.Denied {
		return true
	}
	return false
}

// Denied reports whether a negative grant short-circuits (from, to,
// missionID) to fail for the same scope (spec.md §4.3).
func (s *GrantStore) Denied(from, to, missionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.grants[grantKey(model.ApprovalMission, from, to, missionID)]; ok && g.Denied {
		return true
	}
	if g, ok := s.grants[grantKey(model.ApprovalSession, from, to, "")]; ok && g.Denied {
		return true
	}
	return false
}
