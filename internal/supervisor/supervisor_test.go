package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"intercom/internal/apperror"
)

func TestValidateCWDAllowsSubpathOfAllowedRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "child")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := validateCWD(sub, []string{root}); err != nil {
		t.Fatalf("expected sub path to be allowed, got %v", err)
	}
}

func TestValidateCWDRejectsOutsidePath(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	err := validateCWD(other, []string{root})
	if err == nil {
		t.Fatal("expected error for path outside allowed roots")
	}
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code() != apperror.CodePathNotAllowed {
		t.Fatalf("expected CodePathNotAllowed, got %v", err)
	}
}

func TestThrottleEnforcesMinimumInterval(t *testing.T) {
	s := New(50 * time.Millisecond)
	start := time.Now()
	s.throttle(t.Context())
	s.throttle(t.Context())
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected at least 50ms between spawns, got %v", elapsed)
	}
}
