package console

import (
	"testing"
	"time"

	"intercom/internal/model"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(url, message string) error {
	f.sent = append(f.sent, message)
	return nil
}

func TestAnnounceJoinBlocksUntilResolved(t *testing.T) {
	sender := &fakeSender{}
	a := NewShoutrrrAdapter(sender, "generic://example.com", time.Second)

	done := make(chan bool, 1)
	go func() { done <- a.AnnounceJoin("m1", "Machine One", "10.0.0.5") }()

	// Give the goroutine time to register the pending prompt.
	time.Sleep(20 * time.Millisecond)
	if !a.ResolveJoin("m1", true) {
		t.Fatal("expected ResolveJoin to find the pending prompt")
	}

	select {
	case approved := <-done:
		if !approved {
			t.Fatal("expected approved=true")
		}
	case <-time.After(time.Second):
		t.Fatal("AnnounceJoin did not return after Resolve")
	}
}

func TestAnnounceJoinTimesOut(t *testing.T) {
	sender := &fakeSender{}
	a := NewShoutrrrAdapter(sender, "generic://example.com", 20*time.Millisecond)

	approved := a.AnnounceJoin("m2", "Machine Two", "10.0.0.6")
	if approved {
		t.Fatal("expected timeout to resolve to not-approved")
	}
}

func TestNoopAdapterAutoResolves(t *testing.T) {
	n := NewNoopAdapter(true)
	if !n.AnnounceJoin("m", "d", "ip") {
		t.Fatal("expected auto-approve")
	}
	d := n.AskApproval("a/p", "b/p", "ask", "preview", []model.ApprovalScope{model.ApprovalOnce})
	if !d.Approved {
		t.Fatal("expected auto-approved decision")
	}
	n.PostToMission("m-1", "hello")
	n.NotifyFeedback("note", "world")
	if len(n.Posted) != 1 || len(n.Notified) != 1 {
		t.Fatal("expected posted/notified to record calls")
	}
}
