package auth

import (
	"bytes"
	"io"
	"net/http"

	"intercom/internal/apperror"
)

// SkipFunc reports whether a request may pass without a signed envelope,
// mirroring the teacher's Middleware(config, next) skip-list shape. The
// Hub and Daemon servers pass a func that always returns false and keep
// their unauthenticated routes off the wrapped handler instead.
type SkipFunc func(r *http.Request) bool

// Middleware wraps next, verifying the signed envelope on every request
// not excluded by skip. lookup resolves a machine's current token.
func Middleware(lookup TokenLookupFunc, skip SkipFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip != nil && skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeAuthError(w, apperror.BadEnvelope(err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		switch Verify(r, body, lookup) {
		case VerifyOK:
			next.ServeHTTP(w, r)
		case VerifyStale:
			writeAuthError(w, apperror.AuthStale())
		case VerifyUnknownMachine:
			writeAuthError(w, apperror.AuthUnknownMachine(r.Header.Get(HeaderMachine)))
		default:
			writeAuthError(w, apperror.AuthBadSignature())
		}
	})
}

func writeAuthError(w http.ResponseWriter, err *apperror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	w.Write([]byte(`{"error":"` + string(err.Code()) + `","label":"` + err.Label() + `"}`))
}
