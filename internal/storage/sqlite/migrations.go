package sqlite

import (
	"context"
	"database/sql"
)

// migration is one versioned, idempotent schema step. Applied migrations are
// recorded in schema_migrations so InitSchema is safe to call on every
// process start.
type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

// InitSchema creates the migrations table and applies every migration that
// has not yet been recorded, in version order.
func (s *SQLiteDB) InitSchema() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "jobs_pages_images_events", up: migrateV1},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

// migrateV1 creates the jobs/pages/images/events schema described in §3 and
// §6 of the design: exact column names are the contract for external
// readers, so renaming a column here is a breaking change.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			page_num INTEGER NOT NULL,
			page_url TEXT NOT NULL,
			source_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_completed_image_index INTEGER NOT NULL DEFAULT 0,
			image_count INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			finished_at TEXT,
			UNIQUE(job_id, page_num),
			FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id INTEGER NOT NULL,
			image_index INTEGER NOT NULL,
			url TEXT NOT NULL,
			local_path TEXT NOT NULL,
			status TEXT NOT NULL,
			retries INTEGER NOT NULL DEFAULT 0,
			http_status INTEGER,
			content_type TEXT,
			size_bytes INTEGER,
			sha256 TEXT,
			downloaded_at TEXT,
			error TEXT,
			updated_at TEXT NOT NULL,
			UNIQUE(page_id, image_index),
			FOREIGN KEY(page_id) REFERENCES pages(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			page_id INTEGER,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE,
			FOREIGN KEY(page_id) REFERENCES pages(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_job_id ON pages(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_images_page_id ON images(page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_images_status ON images(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
