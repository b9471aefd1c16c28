// Package calllog records outbound API round-trips for troubleshooting.
// It is disabled unless HARVEST_DEBUG=true, in which case records go to a
// SQLite database.
package calllog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CallRecord represents one HTTP round-trip made by the API client
type CallRecord struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status"` // 0 when no response arrived
	DurationMS int64     `json:"duration_ms"`
	Attempt    int       `json:"attempt"` // 1 = original send, 2 = post-refresh retry
}

// Storage persists call records
type Storage interface {
	Record(method, url string, status int, duration time.Duration, attempt int)
	Recent(limit int) ([]CallRecord, error)
	CleanupOldRecords(maxAge time.Duration) error
	Close() error
}

// Config controls the call log
type Config struct {
	Enabled    bool
	Path       string
	RetentionH int // Auto-cleanup hours
}

// LoadConfig loads call log configuration from environment variables
func LoadConfig() *Config {
	if os.Getenv("HARVEST_DEBUG") != "true" {
		return &Config{Enabled: false} // Zero overhead when disabled
	}

	path := os.Getenv("HARVEST_DEBUG_PATH")
	if path == "" {
		path = "./harvest_calls.db"
	}

	retention := 24
	if v := os.Getenv("HARVEST_DEBUG_RETENTION_H"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &retention); err != nil {
			retention = 24
		}
	}

	return &Config{
		Enabled:    true,
		Path:       path,
		RetentionH: retention,
	}
}

// Start initializes the call log from the environment. It always returns a
// usable Storage; when disabled that is a NoOpStorage.
func Start() (Storage, *Config, error) {
	config := LoadConfig()

	if !config.Enabled {
		return &NoOpStorage{}, config, nil
	}

	log.Printf("Starting API call log (path: %s)", config.Path)

	storage, err := NewSQLiteStorage(config.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize call log storage: %w", err)
	}

	if config.RetentionH > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()

			for range ticker.C {
				maxAge := time.Duration(config.RetentionH) * time.Hour
				if err := storage.CleanupOldRecords(maxAge); err != nil {
					log.Printf("Call log cleanup error: %v", err)
				}
			}
		}()
	}

	return storage, config, nil
}

// SQLiteStorage persists call records in a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the call log database
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS api_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		attempt INTEGER DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_api_calls_status ON api_calls(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// Record stores one round-trip. Errors are logged, not returned: the call
// log must never fail an API call.
func (s *SQLiteStorage) Record(method, url string, status int, duration time.Duration, attempt int) {
	_, err := s.db.Exec(
		`INSERT INTO api_calls (timestamp, method, url, status, duration_ms, attempt) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), method, url, status, duration.Milliseconds(), attempt,
	)
	if err != nil {
		log.Printf("Call log write failed: %v", err)
	}
}

// Recent returns the newest records, newest first
func (s *SQLiteStorage) Recent(limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, timestamp, method, url, status, duration_ms, attempt
		 FROM api_calls ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query call log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &rec.URL, &rec.Status, &rec.DurationMS, &rec.Attempt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CleanupOldRecords deletes records older than maxAge
func (s *SQLiteStorage) CleanupOldRecords(maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)
	_, err := s.db.Exec(`DELETE FROM api_calls WHERE timestamp < ?`, cutoff)
	return err
}

// Close closes the underlying database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// NoOpStorage is the disabled call log
type NoOpStorage struct{}

func (*NoOpStorage) Record(string, string, int, time.Duration, int) {}

func (*NoOpStorage) Recent(int) ([]CallRecord, error) { return nil, nil }

func (*NoOpStorage) CleanupOldRecords(time.Duration) error { return nil }

func (*NoOpStorage) Close() error { return nil }
