package daemonserver

import (
	"os"
	"testing"

	"intercom/internal/model"
)

func TestRegisterAndResolveLiveBySessionID(t *testing.T) {
	tbl := NewSessionTable()
	tbl.Register(model.Session{SessionID: "s1", ProjectID: "p1", PID: os.Getpid()})

	got, ok := tbl.ResolveLive("s1", "")
	if !ok || got.SessionID != "s1" {
		t.Fatalf("expected to resolve s1, got %+v ok=%v", got, ok)
	}
}

func TestResolveLiveFirstMatchOnProject(t *testing.T) {
	tbl := NewSessionTable()
	tbl.Register(model.Session{SessionID: "s1", ProjectID: "p1", PID: os.Getpid()})
	tbl.Register(model.Session{SessionID: "s2", ProjectID: "p1", PID: os.Getpid()})

	got, ok := tbl.ResolveLive("", "p1")
	if !ok || got.SessionID != "s1" {
		t.Fatalf("expected first-registered session s1, got %+v ok=%v", got, ok)
	}
}

func TestResolveLiveRemovesDeadPidAndFallsBackToNextLive(t *testing.T) {
	tbl := NewSessionTable()
	tbl.Register(model.Session{SessionID: "dead", ProjectID: "p1", PID: 999999})
	tbl.Register(model.Session{SessionID: "alive", ProjectID: "p1", PID: os.Getpid()})

	got, ok := tbl.ResolveLive("", "p1")
	if !ok || got.SessionID != "alive" {
		t.Fatalf("expected to fall back to alive session, got %+v ok=%v", got, ok)
	}
	if _, stillThere := tbl.Get("dead"); stillThere {
		t.Fatal("expected dead session to be removed from the table")
	}
}

func TestResolveLiveUnknownSessionID(t *testing.T) {
	tbl := NewSessionTable()
	if _, ok := tbl.ResolveLive("ghost", ""); ok {
		t.Fatal("expected resolve of unknown session id to fail")
	}
}

func TestUnregisterRemovesSession(t *testing.T) {
	tbl := NewSessionTable()
	tbl.Register(model.Session{SessionID: "s1", ProjectID: "p1", PID: os.Getpid()})
	tbl.Unregister("s1")
	if _, ok := tbl.Get("s1"); ok {
		t.Fatal("expected session to be gone after Unregister")
	}
}
