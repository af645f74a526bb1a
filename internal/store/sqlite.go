// ABOUTME: SQLite implementation of the KeyStore interface using modernc.org/sqlite.
// ABOUTME: Provides API key persistence with automatic schema creation and WAL mode.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements KeyStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// created if it doesn't exist and parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_hash BLOB NOT NULL,
			capabilities TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME,
			revoked INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateKey inserts a new API key row.
func (s *SQLiteStore) CreateKey(ctx context.Context, key *APIKey) error {
	caps, err := json.Marshal(key.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, name, secret_hash, capabilities, created_at, expires_at, revoked, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		key.ID,
		key.Name,
		key.SecretHash,
		string(caps),
		key.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(key.ExpiresAt),
		boolToInt(key.Revoked),
		nullTime(key.LastUsedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key.ID)
		}
		return fmt.Errorf("inserting key: %w", err)
	}

	s.logger.Debug("created api key", "key_id", key.ID, "name", key.Name)
	return nil
}

// GetKey retrieves a key by id. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetKey(ctx context.Context, id string) (*APIKey, error) {
	query := `
		SELECT id, name, secret_hash, capabilities, created_at, expires_at, revoked, last_used_at
		FROM api_keys
		WHERE id = ?
	`
	return s.scanKey(s.db.QueryRowContext(ctx, query, id))
}

// ListKeys returns all keys, newest first.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]*APIKey, error) {
	query := `
		SELECT id, name, secret_hash, capabilities, created_at, expires_at, revoked, last_used_at
		FROM api_keys
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := s.scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeKey marks a key as revoked. Returns ErrNotFound for unknown ids.
func (s *SQLiteStore) RevokeKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("revoked api key", "key_id", id)
	return nil
}

// TouchKey updates the last-used timestamp. Best effort; callers ignore errors.
func (s *SQLiteStore) TouchKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		usedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touching key: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanKey.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanKey(row scanner) (*APIKey, error) {
	var (
		key        APIKey
		caps       string
		createdAt  string
		expiresAt  sql.NullString
		revoked    int
		lastUsedAt sql.NullString
	)
	err := row.Scan(&key.ID, &key.Name, &key.SecretHash, &caps, &createdAt, &expiresAt, &revoked, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning key: %w", err)
	}

	if err := json.Unmarshal([]byte(caps), &key.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities for key %s: %w", key.ID, err)
	}
	if parsed, err := time.Parse(time.RFC3339, createdAt); err != nil {
		s.logger.Warn("failed to parse key created_at", "key_id", key.ID, "error", err)
	} else {
		key.CreatedAt = parsed
	}
	if expiresAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, expiresAt.String); err == nil {
			key.ExpiresAt = &parsed
		}
	}
	if lastUsedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, lastUsedAt.String); err == nil {
			key.LastUsedAt = &parsed
		}
	}
	key.Revoked = revoked != 0
	return &key, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConstraintViolation checks if an error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}
