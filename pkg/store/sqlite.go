package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Store persists credentials at rest and the last usage snapshot per
// service in a single application-private SQLite file.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the SQLite database at dbPath.
// WAL mode is enabled for concurrent reader/writer access and the
// containing directory is created with owner-only permissions since the
// file holds authentication material.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	// The database carries tokens and cookies; keep it owner-only.
	if err := os.Chmod(dbPath, 0o600); err != nil {
		return nil, fmt.Errorf("failed to restrict db permissions: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		service_id TEXT PRIMARY KEY,
		payload JSON NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		service_id TEXT PRIMARY KEY,
		payload JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// GetCredential returns the persisted credential record for a service.
// The bool is false when no record exists.
func (s *Store) GetCredential(ctx context.Context, serviceID string) (credential.Credential, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM credentials WHERE service_id = ?", serviceID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, false, nil
	}
	if err != nil {
		return credential.Credential{}, false, fmt.Errorf("failed to read credential: %w", err)
	}

	var cred credential.Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return credential.Credential{}, false, fmt.Errorf("corrupt credential record: %w", err)
	}
	return cred, true, nil
}

// PutCredential upserts the credential record for a service.
func (s *Store) PutCredential(ctx context.Context, serviceID string, cred credential.Credential) error {
	cred.SavedAt = time.Now().UTC()
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (service_id, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(service_id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		serviceID, payload, cred.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the record for a service. Deleting a
// missing record is not an error.
func (s *Store) DeleteCredential(ctx context.Context, serviceID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE service_id = ?", serviceID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the last usage record for a service so the
// daemon can warm-start with stale-but-real data.
func (s *Store) SaveSnapshot(ctx context.Context, record usage.ServiceUsage) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (service_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(service_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(record.ServiceID), payload, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshots returns every persisted usage record keyed by service id.
func (s *Store) LoadSnapshots(ctx context.Context) (map[usage.ServiceID]usage.ServiceUsage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[usage.ServiceID]usage.ServiceUsage)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var record usage.ServiceUsage
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("corrupt snapshot record: %w", err)
		}
		out[record.ServiceID] = record
	}
	return out, rows.Err()
}
