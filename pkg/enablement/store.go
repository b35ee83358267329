package enablement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetupSchema creates the option table. It is idempotent.
func SetupSchema(db *sql.DB) error {
	const schemaOptions = `
CREATE TABLE IF NOT EXISTS options (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	if _, err := db.Exec(schemaOptions); err != nil {
		return fmt.Errorf("could not create options schema: %w", err)
	}
	return nil
}

// Store is a small key-value option store backed by SQLite.
type Store struct {
	db         *sql.DB
	stmtGet    *sql.Stmt
	stmtSet    *sql.Stmt
	stmtDelete *sql.Stmt
}

// NewStore prepares the option statements against db. SetupSchema must have been run.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGet, err := db.Prepare(`SELECT value FROM options WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtSet, err := db.Prepare(`INSERT INTO options (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value;`)
	if err != nil {
		_ = stmtGet.Close()
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM options WHERE name = ?;`)
	if err != nil {
		_ = stmtGet.Close()
		_ = stmtSet.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		stmtGet:    stmtGet,
		stmtSet:    stmtSet,
		stmtDelete: stmtDelete,
	}, nil
}

// Close releases the prepared statements.
func (s *Store) Close() {
	_ = s.stmtGet.Close()
	_ = s.stmtSet.Close()
	_ = s.stmtDelete.Close()
}

// Get returns the value stored under key. ok is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.stmtGet.QueryRowContext(ctx, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.stmtSet.ExecContext(ctx, key, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.stmtDelete.ExecContext(ctx, key)
	return err
}
