package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathJoinsWorkspace(t *testing.T) {
	got := Path("/srv/board")
	want := filepath.Join("/srv/board", ".taskdesk", "taskdesk.db")
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
	if Path("") != filepath.Join(".", ".taskdesk", "taskdesk.db") {
		t.Fatalf("empty workspace should resolve to the current directory")
	}
}

func TestOpenCreatesWorkspaceDir(t *testing.T) {
	workspace := t.TempDir()
	conn, err := Open(Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, ".taskdesk")); err != nil {
		t.Fatalf("workspace dir not created: %v", err)
	}
}
