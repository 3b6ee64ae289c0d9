package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Version history for accepted project snapshots. The live snapshot itself
// lives in the file store; this database records the trail of accepted
// states so they can be inspected and recovered through the API.
type Database struct {
	db *sql.DB
}

type Version struct {
	ID          int       `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"` // Auto-recorded vs manually named
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_versions_session_id ON snapshot_versions(session_id);
	CREATE INDEX IF NOT EXISTS idx_snapshot_versions_created_at ON snapshot_versions(session_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// HashContent returns a short content fingerprint used to skip recording
// consecutive identical snapshots.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}

// CreateVersion records a new version of a session's snapshot.
func (d *Database) CreateVersion(sessionID, name, description, content, createdBy string, isAuto bool) (*Version, error) {
	result, err := d.db.Exec(`
		INSERT INTO snapshot_versions (session_id, name, description, content, content_hash, created_by, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, name, description, content, HashContent(content), createdBy, isAuto)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return d.GetVersion(int(id))
}

// GetVersion retrieves a specific version by ID
func (d *Database) GetVersion(id int) (*Version, error) {
	row := d.db.QueryRow(`
		SELECT id, session_id, name, description, content, content_hash, created_by, is_auto, created_at
		FROM snapshot_versions WHERE id = ?
	`, id)

	var v Version
	err := row.Scan(&v.ID, &v.SessionID, &v.Name, &v.Description, &v.Content, &v.ContentHash, &v.CreatedBy, &v.IsAuto, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns versions for a session, newest first
func (d *Database) ListVersions(sessionID string, limit, offset int) ([]Version, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, name, description, content, content_hash, created_by, is_auto, created_at
		FROM snapshot_versions
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Name, &v.Description, &v.Content, &v.ContentHash, &v.CreatedBy, &v.IsAuto, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetVersionCount returns the number of versions for a session
func (d *Database) GetVersionCount(sessionID string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM snapshot_versions WHERE session_id = ?", sessionID).Scan(&count)
	return count, err
}

// GetLatestVersion returns the most recent version for a session
func (d *Database) GetLatestVersion(sessionID string) (*Version, error) {
	row := d.db.QueryRow(`
		SELECT id, session_id, name, description, content, content_hash, created_by, is_auto, created_at
		FROM snapshot_versions
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID)

	var v Version
	err := row.Scan(&v.ID, &v.SessionID, &v.Name, &v.Description, &v.Content, &v.ContentHash, &v.CreatedBy, &v.IsAuto, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVersion removes a version by ID
func (d *Database) DeleteVersion(id int) error {
	_, err := d.db.Exec("DELETE FROM snapshot_versions WHERE id = ?", id)
	return err
}

// PruneAutoVersions removes old auto-recorded versions, keeping the most recent N
func (d *Database) PruneAutoVersions(sessionID string, keepCount int) error {
	_, err := d.db.Exec(`
		DELETE FROM snapshot_versions
		WHERE session_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM snapshot_versions
			WHERE session_id = ? AND is_auto = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, sessionID, sessionID, keepCount)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var versionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM snapshot_versions").Scan(&versionCount); err != nil {
		return nil, err
	}
	stats["version_count"] = versionCount

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(DISTINCT session_id) FROM snapshot_versions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	return stats, nil
}
