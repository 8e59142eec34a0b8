package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanFindsMarkedProjectsAndSkipsExcluded(t *testing.T) {
	root := t.TempDir()

	mustMkdir(t, filepath.Join(root, "proj-a"))
	mustWrite(t, filepath.Join(root, "proj-a", "CLAUDE.md"), "hi")

	mustMkdir(t, filepath.Join(root, "node_modules", "nested"))
	mustWrite(t, filepath.Join(root, "node_modules", "nested", "CLAUDE.md"), "hi")

	mustMkdir(t, filepath.Join(root, "not-a-project"))

	projects, err := Scan([]string{root}, []string{"node_modules"})
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected exactly 1 project, got %d: %+v", len(projects), projects)
	}
	if projects[0].ID != "proj-a" {
		t.Fatalf("expected id proj-a, got %s", projects[0].ID)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
