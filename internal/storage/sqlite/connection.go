// Package sqlite implements interfaces.Store over a single SQLite file, the
// way this codebase's other storage layers are built: a connection wrapper
// configures pragmas and pool limits, and a separate file composes the
// domain operations on top of it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/ternarybob/harvester/internal/common"
)

// SQLiteDB manages one SQLite database connection used as the single writer
// for a job (see §5 of the design: MaxOpenConns(1) enforces the single-writer
// policy at the connection-pool level).
type SQLiteDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.SQLiteConfig
}

// NewSQLiteDB opens (creating if necessary) the state database, configures
// pragmas, and applies pending migrations.
func NewSQLiteDB(logger arbor.ILogger, config *common.SQLiteConfig) (*SQLiteDB, error) {
	dir := filepath.Dir(config.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	if config.ResetOnStartup {
		if config.Environment != "development" {
			logger.Warn().
				Str("environment", config.Environment).
				Msg("reset_on_startup is enabled but environment is not 'development' - ignoring reset request for safety")
		} else if err := resetDatabase(logger, config.Path); err != nil {
			return nil, fmt.Errorf("sqlite: reset database: %w", err)
		}
	}

	// modernc.org/sqlite registers itself under the driver name "sqlite", not "sqlite3".
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// A single writer per job (§5): one connection avoids SQLITE_BUSY from
	// the driver's own internal contention rather than relying solely on
	// application discipline.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteDB{db: db, logger: logger, config: config}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: configure database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: initialize schema: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("state database initialized")
	return s, nil
}

// NewReadOnlySQLiteDB opens a second, independent handle against the same
// file in read-only mode, for snapshot consumers that must never contend
// with the orchestrator's single writer (§5).
func NewReadOnlySQLiteDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open read-only database: %w", err)
	}
	return db, nil
}

func (s *SQLiteDB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if s.config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// DB returns the underlying connection pool.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteDB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping verifies the database connection.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// resetDatabase deletes the database file and its WAL/SHM siblings. Called
// only in development, guarded by NewSQLiteDB above.
func resetDatabase(logger arbor.ILogger, dbPath string) error {
	logger.Warn().Str("path", dbPath).Msg("resetting state database (deleting all data)")

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}
	return nil
}
