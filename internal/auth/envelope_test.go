package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedRequest(t *testing.T, method, path string, body []byte, token, machineID string) *http.Request {
	t.Helper()
	h := Sign(method, path, body, token, machineID)
	r := httptest.NewRequest(method, path, nil)
	h.Apply(r)
	return r
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	r := signedRequest(t, "POST", "/api/heartbeat", body, "s3cret", "machine-a")

	lookup := func(id string) (string, bool) {
		if id == "machine-a" {
			return "s3cret", true
		}
		return "", false
	}

	assert.Equal(t, VerifyOK, Verify(r, body, lookup))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest("POST", "/api/heartbeat", nil)
	ts := strconv.FormatInt(time.Now().UTC().Add(-120*time.Second).Unix(), 10)
	r.Header.Set(HeaderMachine, "machine-a")
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, "deadbeef")

	lookup := func(string) (string, bool) { return "s3cret", true }

	assert.Equal(t, VerifyStale, Verify(r, body, lookup))
}

func TestVerifyRejectsUnknownMachine(t *testing.T) {
	body := []byte(`{}`)
	r := signedRequest(t, "POST", "/api/heartbeat", body, "s3cret", "ghost")

	lookup := func(string) (string, bool) { return "", false }

	assert.Equal(t, VerifyUnknownMachine, Verify(r, body, lookup))
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	body := []byte(`{}`)
	r := signedRequest(t, "POST", "/api/heartbeat", body, "s3cret", "pending-machine")

	lookup := func(string) (string, bool) { return "", true }

	assert.Equal(t, VerifyBadSignature, Verify(r, body, lookup))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	original := []byte(`{"amount":1}`)
	r := signedRequest(t, "POST", "/api/heartbeat", original, "s3cret", "machine-a")

	lookup := func(string) (string, bool) { return "s3cret", true }

	tampered := []byte(`{"amount":1000}`)
	assert.Equal(t, VerifyBadSignature, Verify(r, tampered, lookup))
}
