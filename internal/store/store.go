package store

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Durable snapshot persistence: one JSON file per session under a data
// directory. All failures degrade: a snapshot that cannot be read is
// treated as absent, a snapshot that cannot be written stays in memory only.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Maps a session identifier to a filesystem-safe key. Characters outside
// [A-Za-z0-9._-] become underscores; an empty result falls back to
// "session". If sanitization changed the identifier, a short hash of the
// original is appended so distinct identifiers cannot share a key.
func SafeKey(sessionID string) string {
	var b strings.Builder
	changed := false
	for _, c := range sessionID {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
			changed = true
		}
	}
	key := b.String()
	if key == "" {
		key = "session"
		changed = true
	}
	if changed {
		h := fnv.New32a()
		h.Write([]byte(sessionID))
		key = fmt.Sprintf("%s-%08x", key, h.Sum32())
	}
	return key
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, "session-"+SafeKey(sessionID)+".json")
}

// Returns the persisted snapshot for a session, or ok=false if none exists
// or the file cannot be decoded. Decode failures are logged, never returned.
func (s *Store) Load(sessionID string) (json.RawMessage, bool) {
	path := s.path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to load session file %s: %v", path, err)
		}
		return nil, false
	}
	if !json.Valid(data) {
		log.Printf("Corrupt session file %s: invalid JSON", path)
		return nil, false
	}
	return data, true
}

// Persists a snapshot via a temp file and atomic rename so a concurrent
// Load never observes a partial write. Callers log and discard the error.
func (s *Store) Save(sessionID string, project json.RawMessage) error {
	path := s.path(sessionID)
	tmp := strings.TrimSuffix(path, ".json") + ".tmp"

	if err := os.WriteFile(tmp, project, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// CountSessions reports how many session files exist on disk.
func (s *Store) CountSessions() int {
	matches, err := filepath.Glob(filepath.Join(s.dir, "session-*.json"))
	if err != nil {
		return 0
	}
	return len(matches)
}
