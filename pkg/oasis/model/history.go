package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// History persists the append-only model version log in SQLite. Versions
// are immutable: superseded versions stay queryable for audit and rollback.
type History struct {
	db    *sql.DB
	mutex sync.Mutex
}

// NewHistory opens (or creates) the version log at dbPath.
func NewHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open model history: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS thermal_models (
		version TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		confidence REAL NOT NULL,
		snapshot TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_model_created_at ON thermal_models(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize model history schema: %v", err)
	}

	return &History{db: db}, nil
}

// Save appends one version. Version ids are unique; re-saving is an error.
func (h *History) Save(m *Model) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	snapshot, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %v", err)
	}

	_, err = h.db.Exec(
		`INSERT INTO thermal_models (version, created_at, confidence, snapshot) VALUES (?, ?, ?, ?)`,
		m.Version(), m.CreatedAt(), m.Confidence(), string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to save model version: %v", err)
	}

	klog.V(3).InfoS("Saved model version", "version", m.Version())
	return nil
}

// Latest returns the most recently created version.
func (h *History) Latest() (*Model, bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	row := h.db.QueryRow(`SELECT snapshot FROM thermal_models ORDER BY created_at DESC LIMIT 1`)
	var snapshot string
	if err := row.Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load latest model: %v", err)
	}

	var m Model
	if err := json.Unmarshal([]byte(snapshot), &m); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal model snapshot: %v", err)
	}
	return &m, true, nil
}

// Get returns a specific version by id.
func (h *History) Get(version string) (*Model, bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	row := h.db.QueryRow(`SELECT snapshot FROM thermal_models WHERE version = ?`, version)
	var snapshot string
	if err := row.Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load model %s: %v", version, err)
	}

	var m Model
	if err := json.Unmarshal([]byte(snapshot), &m); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal model snapshot: %v", err)
	}
	return &m, true, nil
}

// Close closes the version log.
func (h *History) Close() error {
	return h.db.Close()
}
