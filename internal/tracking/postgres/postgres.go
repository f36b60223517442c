// Package postgres implements tracking.Store using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"mlpipe/internal/tracking"

	_ "github.com/lib/pq"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows helpers to run on either a connection pool or an active transaction.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store provides a PostgreSQL-backed tracking store.
type Store struct {
	db           *sql.DB
	artifactRoot string
}

// New connects to databaseURL, runs migrations and makes sure the Default
// experiment exists. New experiments store artifacts under artifactRoot.
func New(ctx context.Context, databaseURL, artifactRoot string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	root, err := normalizeArtifactRoot(artifactRoot)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, artifactRoot: root}
	if _, err := tracking.EnsureExperiment(ctx, s, "Default"); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// normalizeArtifactRoot turns a plain directory into an absolute file://
// URI and leaves URIs with a scheme untouched.
func normalizeArtifactRoot(root string) (string, error) {
	if strings.Contains(root, "://") {
		return strings.TrimSuffix(root, "/"), nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

var _ tracking.Store = (*Store)(nil)
