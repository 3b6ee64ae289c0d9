package db

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "syncrelay-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return database, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	if database == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestVersionLifecycle(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	v, err := database.CreateVersion("room", "milestone", "first draft", `{"v":1}`, "alice", false)
	if err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	if v == nil {
		t.Fatal("Created version should be returned")
	}
	if v.SessionID != "room" || v.Name != "milestone" || v.CreatedBy != "alice" {
		t.Errorf("Version fields mismatch: %+v", v)
	}
	if v.ContentHash != HashContent(`{"v":1}`) {
		t.Errorf("Content hash mismatch: %s", v.ContentHash)
	}

	got, err := database.GetVersion(v.ID)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if got == nil || got.Content != `{"v":1}` {
		t.Errorf("Unexpected version content: %+v", got)
	}

	if err := database.DeleteVersion(v.ID); err != nil {
		t.Fatalf("Failed to delete version: %v", err)
	}
	got, err = database.GetVersion(v.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Deleted version should not be found")
	}
}

func TestGetMissingVersion(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	v, err := database.GetVersion(12345)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v != nil {
		t.Error("Missing version should return nil")
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 1; i <= 3; i++ {
		if _, err := database.CreateVersion("room", "", "", string(rune('0'+i)), "", true); err != nil {
			t.Fatalf("Failed to create version: %v", err)
		}
	}
	if _, err := database.CreateVersion("other", "", "", "x", "", true); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}

	versions, err := database.ListVersions("room", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("Expected 3 versions for room, got %d", len(versions))
	}
	if versions[0].Content != "3" {
		t.Errorf("Expected newest version first, got %q", versions[0].Content)
	}

	count, err := database.GetVersionCount("room")
	if err != nil {
		t.Fatalf("Failed to count versions: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}
}

func TestGetLatestVersion(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	latest, err := database.GetLatestVersion("room")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if latest != nil {
		t.Error("Empty history should have no latest version")
	}

	database.CreateVersion("room", "", "", "a", "", true)
	database.CreateVersion("room", "", "", "b", "", true)

	latest, err = database.GetLatestVersion("room")
	if err != nil {
		t.Fatalf("Failed to get latest version: %v", err)
	}
	if latest == nil || latest.Content != "b" {
		t.Errorf("Expected latest content 'b', got %+v", latest)
	}
}

func TestPruneAutoVersions(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		if _, err := database.CreateVersion("room", "", "", string(rune('a'+i)), "", true); err != nil {
			t.Fatalf("Failed to create version: %v", err)
		}
	}
	// Manual versions are never pruned.
	if _, err := database.CreateVersion("room", "keep", "", "manual", "alice", false); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}

	if err := database.PruneAutoVersions("room", 3); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}

	versions, err := database.ListVersions("room", 100, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("Expected 3 auto + 1 manual after prune, got %d", len(versions))
	}

	manualSeen := false
	for _, v := range versions {
		if !v.IsAuto {
			manualSeen = true
		}
	}
	if !manualSeen {
		t.Error("Manual version should survive pruning")
	}
}

func TestStats(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	database.CreateVersion("one", "", "", "a", "", true)
	database.CreateVersion("one", "", "", "b", "", true)
	database.CreateVersion("two", "", "", "c", "", true)

	stats, err := database.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["version_count"] != 3 {
		t.Errorf("Expected 3 versions, got %v", stats["version_count"])
	}
	if stats["session_count"] != 2 {
		t.Errorf("Expected 2 sessions, got %v", stats["session_count"])
	}
}

func TestHashContentStable(t *testing.T) {
	if HashContent("abc") != HashContent("abc") {
		t.Error("Hash should be deterministic")
	}
	if HashContent("abc") == HashContent("abd") {
		t.Error("Different content should hash differently")
	}
	if len(HashContent("abc")) != 16 {
		t.Errorf("Expected 16 hex chars, got %d", len(HashContent("abc")))
	}
}
