package daemonserver

import (
	"errors"
	"testing"
	"time"

	"intercom/internal/events"
	"intercom/internal/model"
)

func TestDrainAssignsMonotonicCursorsStartingAtOne(t *testing.T) {
	tbl := NewMissionTable()
	tbl.Start("m1", func() {})

	ch := make(chan model.FeedbackItem, 2)
	done := make(chan error, 1)
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "first"}
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "second"}
	close(ch)
	done <- nil

	tbl.Drain("m1", ch, done, nil)

	status, _, feedback, ok := tbl.Snapshot("m1", 0)
	if !ok {
		t.Fatal("expected mission to be found")
	}
	if status != model.MissionCompleted {
		t.Fatalf("expected completed status, got %v", status)
	}
	if len(feedback) != 2 || feedback[0].Cursor != 1 || feedback[1].Cursor != 2 {
		t.Fatalf("expected cursors 1,2; got %+v", feedback)
	}
}

func TestSnapshotFiltersBySinceCursor(t *testing.T) {
	tbl := NewMissionTable()
	tbl.Start("m1", func() {})

	ch := make(chan model.FeedbackItem, 2)
	done := make(chan error, 1)
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "first"}
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "second"}
	close(ch)
	done <- nil
	tbl.Drain("m1", ch, done, nil)

	_, _, feedback, _ := tbl.Snapshot("m1", 1)
	if len(feedback) != 1 || feedback[0].Cursor != 2 {
		t.Fatalf("expected only cursor 2, got %+v", feedback)
	}
}

func TestDrainRecordsFailureFromDoneChannel(t *testing.T) {
	tbl := NewMissionTable()
	tbl.Start("m1", func() {})

	ch := make(chan model.FeedbackItem)
	done := make(chan error, 1)
	close(ch)
	done <- errors.New("boom")

	tbl.Drain("m1", ch, done, nil)

	status, failReason, _, ok := tbl.Snapshot("m1", 0)
	if !ok || status != model.MissionFailed || failReason != "boom" {
		t.Fatalf("expected failed/boom, got status=%v reason=%q ok=%v", status, failReason, ok)
	}
}

func TestMarkTimeoutPreservesPartialFeedback(t *testing.T) {
	tbl := NewMissionTable()
	cancelled := false
	tbl.Start("m1", func() { cancelled = true })

	ch := make(chan model.FeedbackItem, 1)
	done := make(chan error, 1)
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "partial"}
	close(ch)
	done <- errors.New("signal: killed")
	go tbl.Drain("m1", ch, done, nil)
	time.Sleep(10 * time.Millisecond)

	tbl.MarkTimeout("m1")
	if !cancelled {
		t.Fatal("expected MarkTimeout to invoke the cancel func")
	}

	_, failReason, feedback, ok := tbl.Snapshot("m1", 0)
	if !ok || failReason != "timeout" {
		t.Fatalf("expected timeout fail reason, got %q ok=%v", failReason, ok)
	}
	if len(feedback) != 1 || feedback[0].Text != "partial" {
		t.Fatalf("expected partial feedback preserved, got %+v", feedback)
	}
}

func TestDrainPublishesFeedbackAppendedEvents(t *testing.T) {
	tbl := NewMissionTable()
	tbl.Start("m1", func() {})
	bus := events.NewBus()

	received := make(chan events.Event, 1)
	bus.Subscribe(func(e events.Event) { received <- e }, events.FeedbackAppended)

	ch := make(chan model.FeedbackItem, 1)
	done := make(chan error, 1)
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "hi"}
	close(ch)
	done <- nil

	tbl.Drain("m1", ch, done, bus)

	select {
	case e := <-received:
		if e.MissionID != "m1" || e.Message != "hi" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected a feedback_appended event to be published")
	}
}
