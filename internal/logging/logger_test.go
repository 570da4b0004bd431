package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitializeDisabledIsNoOp(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(filepath.Join(dir, "logs"), Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	// No directory should be created in production mode
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Error("logs directory created despite debug mode off")
	}

	// Logging must not panic on a no-op logger
	Get(CategoryLexer).Info("ignored %d", 1)
	Executor("ignored")
}

func TestInitializeDebugWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	Parser("parsed %d clauses", 3)
	ParserDebug("token stream length=%d", 12)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "parser") {
			found = true
		}
	}
	if !found {
		t.Error("expected a parser log file")
	}
}

func TestCategoryFilter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Settings{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"cursor": false},
	}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	if IsCategoryEnabled(CategoryCursor) {
		t.Error("cursor category should be disabled")
	}
	if !IsCategoryEnabled(CategoryPlanner) {
		t.Error("planner category should default to enabled")
	}
}

func TestTimerStop(t *testing.T) {
	timer := StartTimer(CategoryExecutor, "test-op")
	if d := timer.Stop(); d < 0 {
		t.Errorf("negative duration: %v", d)
	}
}
