// Package markerstore persists the input markers of each map using SQLite.
// Cluster state is derived and never stored.
package markerstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Record is one stored marker.
type Record struct {
	ID       string  `json:"id"`
	Lng      float64 `json:"lng"`
	Lat      float64 `json:"lat"`
	Category string  `json:"category,omitempty"`
	Label    string  `json:"label,omitempty"`
}

// Store provides persistent storage for markers using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based marker store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	// rowid keeps first-insert order, which clustering depends on.
	schema := `
	CREATE TABLE IF NOT EXISTS markers (
		map_id TEXT NOT NULL,
		id TEXT NOT NULL,
		lng REAL NOT NULL,
		lat REAL NOT NULL,
		category TEXT DEFAULT '',
		label TEXT DEFAULT '',
		UNIQUE(map_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_markers_map ON markers(map_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or updates markers of a map in one transaction.
func (s *Store) Put(mapID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO markers (map_id, id, lng, lat, category, label)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(map_id, id) DO UPDATE SET
			lng = excluded.lng,
			lat = excluded.lat,
			category = excluded.category,
			label = excluded.label
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(mapID, r.ID, r.Lng, r.Lat, r.Category, r.Label); err != nil {
			return fmt.Errorf("failed to store marker %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes one marker. It reports whether the marker existed.
func (s *Store) Delete(mapID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM markers WHERE map_id = ? AND id = ?`, mapID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAll removes every marker of a map.
func (s *Store) DeleteAll(mapID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM markers WHERE map_id = ?`, mapID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete markers: %w", err)
	}
	return res.RowsAffected()
}

// List returns the markers of a map in first-insert order.
func (s *Store) List(mapID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, lng, lat, category, label
		FROM markers
		WHERE map_id = ?
		ORDER BY rowid
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list markers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Lng, &r.Lat, &r.Category, &r.Label); err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of stored markers of a map.
func (s *Store) Count(mapID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM markers WHERE map_id = ?`, mapID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count markers: %w", err)
	}
	return n, nil
}
