package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// SQLiteStore implements TelemetryStore with SQLite for local persistence.
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// NewSQLiteStore opens (or creates) a telemetry database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	s := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS telemetry_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		zone TEXT NOT NULL,
		temperature REAL NOT NULL,
		humidity REAL,
		power REAL,
		occupancy REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(zone, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_zone_timestamp ON telemetry_samples(zone, timestamp);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON telemetry_samples(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO telemetry_samples (timestamp, zone, temperature, humidity, power, occupancy)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
		"select_window": `
			SELECT timestamp, zone, temperature, humidity, power, occupancy
			FROM telemetry_samples
			WHERE zone = ? AND timestamp BETWEEN ? AND ?
			ORDER BY timestamp ASC
		`,
		"select_latest": `
			SELECT timestamp, zone, temperature, humidity, power, occupancy
			FROM telemetry_samples
			WHERE zone = ?
			ORDER BY timestamp DESC
			LIMIT 1
		`,
		"cleanup": `
			DELETE FROM telemetry_samples
			WHERE timestamp < ?
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %v", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Append records a sample. The UNIQUE(zone, timestamp) constraint enforces
// the append-only no-duplicates invariant at the database level.
func (s *SQLiteStore) Append(sample types.TelemetrySample) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.prepared["insert"].Exec(
		sample.Timestamp,
		string(sample.Zone),
		sample.Temperature,
		sample.Humidity,
		sample.Power,
		sample.Occupancy,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicateSample
		}
		return fmt.Errorf("failed to store sample: %v", err)
	}

	klog.V(4).InfoS("Stored telemetry sample",
		"zone", sample.Zone,
		"timestamp", sample.Timestamp,
		"temperature", sample.Temperature)
	return nil
}

// Window returns samples for a zone in [start, end] ordered by timestamp.
func (s *SQLiteStore) Window(zone types.ZoneID, start, end time.Time) ([]types.TelemetrySample, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_window"].Query(string(zone), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry window: %v", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// Latest returns the most recent sample for a zone.
func (s *SQLiteStore) Latest(zone types.ZoneID) (types.TelemetrySample, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_latest"].Query(string(zone))
	if err != nil {
		return types.TelemetrySample{}, false, fmt.Errorf("failed to query latest sample: %v", err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil || len(samples) == 0 {
		return types.TelemetrySample{}, false, err
	}
	return samples[0], true, nil
}

func scanSamples(rows *sql.Rows) ([]types.TelemetrySample, error) {
	var samples []types.TelemetrySample
	for rows.Next() {
		var sm types.TelemetrySample
		var zone string
		if err := rows.Scan(&sm.Timestamp, &zone, &sm.Temperature, &sm.Humidity, &sm.Power, &sm.Occupancy); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		sm.Zone = types.ZoneID(zone)
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return samples, nil
}

// Cleanup removes samples beyond the retention period.
func (s *SQLiteStore) Cleanup(retention time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-retention)
	result, err := s.prepared["cleanup"].Exec(cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old samples: %v", err)
	}

	rowsAffected, _ := result.RowsAffected()
	klog.V(2).InfoS("Cleaned up old telemetry samples",
		"cutoff", cutoff,
		"rowsDeleted", rowsAffected)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}
	return s.db.Close()
}
