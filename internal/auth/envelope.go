// Package auth implements the HMAC-SHA256 signed request envelope used
// between Hub, Daemon, and Hub client (spec.md §4.1). It is a symmetric
// rework of the teacher's asymmetric agent-registration signing pattern
// (cmd/agent/crypto, internal/handlers/agent_handlers.go's AuthAgent):
// same canonical-message-plus-timestamp-window shape, HMAC instead of
// Ed25519, since spec.md's auth model is symmetric end to end.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderMachine   = "X-Intercom-Machine"
	HeaderTimestamp = "X-Intercom-Ts"
	HeaderSignature = "X-Intercom-Sig"

	// Window is the maximum tolerated clock skew between signer and
	// verifier. No per-nonce replay cache is kept (explicit non-goal).
	Window = 60 * time.Second
)

// Result is the outcome of Verify.
type Result int

const (
	VerifyOK Result = iota
	VerifyStale
	VerifyBadSignature
	VerifyUnknownMachine
)

// Headers are the three signed-envelope header values to attach to an
// outbound request.
type Headers struct {
	Machine   string
	Timestamp string
	Signature string
}

// Apply sets the envelope headers on an *http.Request.
func (h Headers) Apply(r *http.Request) {
	r.Header.Set(HeaderMachine, h.Machine)
	r.Header.Set(HeaderTimestamp, h.Timestamp)
	r.Header.Set(HeaderSignature, h.Signature)
}

func canonicalRequest(method, path string, ts string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + "\n" + path + "\n" + ts + "\n" + hex.EncodeToString(sum[:])
}

// Sign produces the envelope headers for a request made by machineID
// carrying token, at the current time.
func Sign(method, path string, body []byte, token, machineID string) Headers {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(canonicalRequest(method, path, ts, body)))
	sig := hex.EncodeToString(mac.Sum(nil))
	return Headers{Machine: machineID, Timestamp: ts, Signature: sig}
}

// TokenLookupFunc resolves a machine's current token. It returns ok=false
// if the machine is unknown; it returns token="" if the machine is known
// but not yet approved (Verify must then refuse the signed request, per
// spec.md §4.1: "the verifier refuses signed requests with empty token").
type TokenLookupFunc func(machineID string) (token string, ok bool)

// Verify checks the envelope on r against the token returned by lookup.
// body is the exact bytes the signer hashed; callers must have already
// read and buffered the request body before calling Verify.
func Verify(r *http.Request, body []byte, lookup TokenLookupFunc) Result {
	machineID := r.Header.Get(HeaderMachine)
	ts := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if machineID == "" || ts == "" || sig == "" {
		return VerifyBadSignature
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return VerifyBadSignature
	}
	now := time.Now().UTC().Unix()
	if abs64(now-tsUnix) > int64(Window.Seconds()) {
		return VerifyStale
	}

	token, ok := lookup(machineID)
	if !ok {
		return VerifyUnknownMachine
	}
	if token == "" {
		return VerifyBadSignature
	}

	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(canonicalRequest(r.Method, r.URL.Path, ts, body)))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, expected) {
		return VerifyBadSignature
	}
	return VerifyOK
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// String renders a Result for logging.
func (r Result) String() string {
	switch r {
	case VerifyOK:
		return "ok"
	case VerifyStale:
		return "stale"
	case VerifyBadSignature:
		return "bad_signature"
	case VerifyUnknownMachine:
		return "unknown_machine"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}
