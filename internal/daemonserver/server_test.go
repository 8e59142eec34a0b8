package daemonserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"intercom/internal/auth"
	"intercom/internal/config"
	"intercom/internal/events"
	"intercom/internal/model"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	srv := New("daemon-a", "shared-secret", t.TempDir(), config.LauncherConfig{
		Command:          "claude",
		FeedbackCapacity: 16,
	}, events.NewBus())
	return srv, srv.Handler()
}

func signedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	r := httptest.NewRequest(method, path, bytes.NewReader(raw))
	u, err := url.Parse(path)
	if err != nil {
		t.Fatalf("parsing path %q: %v", path, err)
	}
	auth.Sign(method, u.Path, raw, "shared-secret", "hub").Apply(r)
	return r
}

func TestDiscoverAndHealthAreUnauthenticated(t *testing.T) {
	_, h := newTestServer(t)
	for _, path := range []string{"/discover", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestSessionEndpointsRejectUnsignedRequest(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionRegisterThenDeliverAppendsInboxLine(t *testing.T) {
	srv, h := newTestServer(t)

	registerReq := signedRequest(t, http.MethodPost, "/session/register", map[string]interface{}{
		"session_id": "s1",
		"project_id": "p1",
		"pid":        os.Getpid(),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, registerReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	deliverReq := signedRequest(t, http.MethodPost, "/session/deliver", map[string]interface{}{
		"project":    "p1",
		"thread_id":  "t-1",
		"from_agent": "a/home",
		"message":    "hi",
	})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, deliverReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "delivered" {
		t.Fatalf("expected delivered, got %+v", resp)
	}

	sess, ok := srv.sessions.Get("s1")
	if !ok {
		t.Fatal("expected session s1 to be registered")
	}
	data, err := os.ReadFile(sess.InboxPath)
	if err != nil {
		t.Fatalf("reading inbox: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hi"`)) {
		t.Fatalf("expected inbox to contain delivered message, got %s", data)
	}
}

func TestSessionDeliverNoActiveSessionWhenProjectUnknown(t *testing.T) {
	_, h := newTestServer(t)

	deliverReq := signedRequest(t, http.MethodPost, "/session/deliver", map[string]interface{}{
		"project":    "ghost",
		"thread_id":  "t-1",
		"from_agent": "a/home",
		"message":    "hi",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, deliverReq)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 no_active_session, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMissionStatusReturnsFeedbackSinceCursor(t *testing.T) {
	srv, h := newTestServer(t)
	srv.missions.Start("m1", func() {})

	ch := make(chan model.FeedbackItem, 2)
	done := make(chan error, 1)
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "first"}
	ch <- model.FeedbackItem{Kind: model.FeedbackText, Text: "second"}
	close(ch)
	done <- nil
	srv.missions.Drain("m1", ch, done, srv.bus)

	req := signedRequest(t, http.MethodGet, "/missions/m1?feedback_since=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status   string                `json:"status"`
		Feedback []model.FeedbackItem  `json:"feedback"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != string(model.MissionCompleted) {
		t.Fatalf("expected completed, got %s", resp.Status)
	}
	if len(resp.Feedback) != 1 || resp.Feedback[0].Cursor != 2 {
		t.Fatalf("expected only cursor 2, got %+v", resp.Feedback)
	}
}
