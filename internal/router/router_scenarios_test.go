package router

import (
	"context"
	"testing"

	"intercom/internal/console"
	"intercom/internal/events"
	"intercom/internal/model"
	"intercom/internal/policy"
	"intercom/internal/registry"
)

// fakeDaemon is a scriptable DaemonDispatcher used across the scenario
// tests, standing in for the httptest.Server-backed fake the full
// integration test suite would use against internal/daemonserver.
type fakeDaemon struct {
	chatStatus  string
	chatErr     error
	missionErr  error
	startCalls  int
	chatCalls   int
}

func (f *fakeDaemon) StartMission(ctx context.Context, daemonURL string, req MissionStartRequest) (string, error) {
	f.startCalls++
	if f.missionErr != nil {
		return "", f.missionErr
	}
	return "daemon-" + req.MissionID, nil
}

func (f *fakeDaemon) DeliverChat(ctx context.Context, daemonURL string, req ChatDeliverRequest) (string, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.chatStatus, nil
}

func setupRouter(t *testing.T, pol model.ApprovalPolicy, noop *console.NoopAdapter, daemon *fakeDaemon) (*Router, *registry.Registry) {
	t.Helper()
	reg, err := registry.Init(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	reg.RegisterMachine("a", "A", "10.0.0.1", "http://a:7700")
	reg.ApproveJoin("a")
	reg.RegisterMachine("b", "B", "10.0.0.2", "http://b:7700")
	reg.ApproveJoin("b")

	eng := policy.NewEngine(pol)
	r := New(reg, eng, noop, daemon, events.NewBus())
	return r, reg
}

// S1 — fire-and-forget chat, happy path.
func TestScenarioS1ChatHappyPath(t *testing.T) {
	pol := model.ApprovalPolicy{DefaultApproval: model.ApprovalNever, Rules: []model.PolicyRule{
		{From: "*", To: "*", Type: "chat", Approval: model.ApprovalNever, Label: "chat"},
	}}
	daemon := &fakeDaemon{chatStatus: StatusDelivered}
	r, _ := setupRouter(t, pol, console.NewNoopAdapter(true), daemon)

	res, err := r.Route(context.Background(), model.Message{
		FromAgent: "a/p", ToAgent: "b/p", Type: model.MessageChat,
		Payload: model.Payload{Message: "hi", ThreadID: "t-111111"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %+v", res)
	}
	if daemon.chatCalls != 1 {
		t.Fatalf("expected exactly one chat delivery call, got %d", daemon.chatCalls)
	}
}

// S2 — chat to offline target.
func TestScenarioS2ChatOffline(t *testing.T) {
	pol := model.ApprovalPolicy{Rules: []model.PolicyRule{
		{From: "*", To: "*", Type: "chat", Approval: model.ApprovalNever, Label: "chat"},
	}}
	daemon := &fakeDaemon{chatStatus: StatusNoActiveSess}
	r, _ := setupRouter(t, pol, console.NewNoopAdapter(true), daemon)

	res, err := r.Route(context.Background(), model.Message{
		FromAgent: "a/p", ToAgent: "b/p", Type: model.MessageChat,
		Payload: model.Payload{Message: "hi", ThreadID: "t-222222"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNoActiveSess {
		t.Fatalf("expected no_active_session, got %+v", res)
	}
}

// S3 — ask requiring operator approval, mission-scope grant then no re-prompt.
func TestScenarioS3AskApprovalMissionScope(t *testing.T) {
	pol := model.ApprovalPolicy{DefaultApproval: model.ApprovalOnce, Rules: []model.PolicyRule{
		{From: "*", To: "*", Type: "ask", Approval: model.ApprovalMission, Label: "ask"},
	}}
	daemon := &fakeDaemon{}
	noop := console.NewNoopAdapter(true)
	noop.AutoDecision.Scope = model.ApprovalMission
	r, _ := setupRouter(t, pol, noop, daemon)

	res, err := r.Route(context.Background(), model.Message{
		FromAgent: "a/home", ToAgent: "b/p", Type: model.MessageAsk,
		Payload: model.Payload{Prompt: "list disks"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusQueued {
		t.Fatalf("expected queued, got %+v", res)
	}
	if daemon.startCalls != 1 {
		t.Fatalf("expected one mission/start call, got %d", daemon.startCalls)
	}

	// A second ask on the same mission id should not re-prompt: dispatch
	// it directly (as the router would for a follow-up in-mission message).
	msg2 := model.Message{FromAgent: "a/home", ToAgent: "b/p", Type: model.MessageAsk, MissionID: res.MissionID}
	decision := r.policy.Decide(msg2)
	if decision.Outcome != policy.AutoAllow {
		t.Fatalf("expected mission-scope grant to auto-allow the follow-up, got %v", decision.Outcome)
	}
}

// S5 — path not allowed is enforced by the supervisor, not the router;
// the router-level slice of this scenario is that start_agent still
// creates a mission record even when the launch itself will fail later.
func TestScenarioS5StartAgentCreatesMission(t *testing.T) {
	pol := model.ApprovalPolicy{Rules: []model.PolicyRule{
		{From: "*", To: "*", Type: "start_agent", Approval: model.ApprovalNever, Label: "launch"},
	}}
	daemon := &fakeDaemon{}
	r, _ := setupRouter(t, pol, console.NewNoopAdapter(true), daemon)

	res, err := r.Route(context.Background(), model.Message{
		FromAgent: "a/home", ToAgent: "b/p", Type: model.MessageStartAgent,
		Payload: model.Payload{Prompt: "do work", CWD: "/tmp/x", AllowedPaths: []string{"/home/u"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MissionID == "" {
		t.Fatal("expected a mission id to be recorded even though the daemon will reject the path")
	}
}

func TestFeedbackCursorsStartAtOneAndIncrease(t *testing.T) {
	ms := NewMissionStore()
	ms.Create("m-1", model.Message{FromAgent: "a", ToAgent: "b", Type: model.MessageAsk})

	first := ms.AppendFeedback("m-1", model.FeedbackToolUse, "", "Read")
	second := ms.AppendFeedback("m-1", model.FeedbackText, "done", "")

	if first.Cursor != 1 || second.Cursor != 2 {
		t.Fatalf("expected cursors 1, 2; got %d, %d", first.Cursor, second.Cursor)
	}

	since1 := ms.FeedbackSince("m-1", 1)
	if len(since1) != 1 || since1[0].Cursor != 2 {
		t.Fatalf("expected only cursor 2 after feedback_since=1, got %+v", since1)
	}
}
