package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ErrJobNotFound is returned when a job id has no row in the store.
var ErrJobNotFound = errors.New("job not found")

// ErrPageNotFound is returned when a (job_id, page_num) pair has no row.
var ErrPageNotFound = errors.New("page not found")

const timeLayout = time.RFC3339

func nowISO() string {
	return time.Now().UTC().Format(timeLayout)
}

// retryWithExponentialBackoff retries a write operation when SQLite reports
// the database as busy, the same transient condition this codebase's other
// SQLite-backed stores retry around.
func retryWithExponentialBackoff(ctx context.Context, operation func() error, maxAttempts int, initialDelay time.Duration, logger arbor.ILogger) error {
	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		msg := lastErr.Error()
		busy := strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
		if !busy {
			return lastErr
		}

		if attempt < maxAttempts {
			if logger != nil {
				logger.Warn().
					Int("attempt", attempt).
					Int("max_attempts", maxAttempts).
					Str("delay", delay.String()).
					Msg("state database locked, retrying")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}

// Store implements interfaces.Store over one SQLiteDB. One Store owns the
// write path for its job; readers are expected to open their own
// *sql.DB via NewReadOnlySQLiteDB.
type Store struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewStore constructs a Store backed by db.
func NewStore(db *SQLiteDB, logger arbor.ILogger) interfaces.Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryWithExponentialBackoff(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, query, args...)
		return err
	}, 5, 50*time.Millisecond, s.logger)
}

// --- Job lifecycle --------------------------------------------------------

func (s *Store) UpsertJob(ctx context.Context, jobID, configJSON string, status models.JobStatus) error {
	now := nowISO()
	return s.exec(ctx, `
		INSERT INTO jobs (job_id, status, config_json, started_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
		`, jobID, string(status), configJSON, now, now)
}

func (s *Store) ResetJob(ctx context.Context, jobID, configJSON string) error {
	now := nowISO()
	return retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = ?", jobID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (job_id, status, config_json, started_at, updated_at, finished_at)
			VALUES (?, 'running', ?, ?, ?, NULL)
			`, jobID, configJSON, now, now); err != nil {
			return err
		}
		return tx.Commit()
	}, 5, 50*time.Millisecond, s.logger)
}

func (s *Store) SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, finish bool) error {
	now := nowISO()
	return s.exec(ctx, `
		UPDATE jobs
		SET status = ?,
		    updated_at = ?,
		    finished_at = CASE WHEN ? THEN ? ELSE finished_at END
		WHERE job_id = ?
		`, string(status), now, finish, now, jobID)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	row := s.db.DB().QueryRowContext(ctx, "SELECT job_id, status, config_json, started_at, updated_at, finished_at FROM jobs WHERE job_id = ?", jobID)
	return scanJob(row)
}

func (s *Store) GetLatestJob(ctx context.Context) (models.Job, error) {
	row := s.db.DB().QueryRowContext(ctx, "SELECT job_id, status, config_json, started_at, updated_at, finished_at FROM jobs ORDER BY started_at DESC LIMIT 1")
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.DB().QueryContext(ctx, "SELECT job_id, status, config_json, started_at, updated_at, finished_at FROM jobs ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.Job, error) {
	var job models.Job
	var status, finishedAt sql.NullString
	var startedAt, updatedAt string

	err := row.Scan(&job.JobID, &status, &job.ConfigJSON, &startedAt, &updatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	job.Status = models.JobStatus(status.String)
	job.StartedAt, _ = time.Parse(timeLayout, startedAt)
	job.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(timeLayout, finishedAt.String)
		job.FinishedAt = &t
	}
	return job, nil
}

func scanJobRows(rows *sql.Rows) (models.Job, error) {
	return scanJob(rows)
}

// --- Page lifecycle --------------------------------------------------------

func (s *Store) EnsurePage(ctx context.Context, jobID string, pageNum int, pageURL, sourceID string) (models.Page, error) {
	now := nowISO()
	err := s.exec(ctx, `
		INSERT INTO pages (
			job_id, page_num, page_url, source_id, status,
			last_completed_image_index, image_count, error, started_at, updated_at, finished_at
		)
		VALUES (?, ?, ?, ?, 'pending', 0, 0, NULL, ?, ?, NULL)
		ON CONFLICT(job_id, page_num) DO UPDATE SET
			page_url = excluded.page_url,
			source_id = excluded.source_id,
			updated_at = excluded.updated_at
		`, jobID, pageNum, pageURL, sourceID, now, now)
	if err != nil {
		return models.Page{}, err
	}
	return s.GetPage(ctx, jobID, pageNum)
}

func (s *Store) GetPage(ctx context.Context, jobID string, pageNum int) (models.Page, error) {
	row := s.db.DB().QueryRowContext(ctx, pageSelectColumns+" FROM pages WHERE job_id = ? AND page_num = ?", jobID, pageNum)
	return scanPage(row)
}

func (s *Store) GetPageByID(ctx context.Context, pageID int64) (models.Page, error) {
	row := s.db.DB().QueryRowContext(ctx, pageSelectColumns+" FROM pages WHERE id = ?", pageID)
	return scanPage(row)
}

func (s *Store) ListPages(ctx context.Context, jobID string) ([]models.Page, error) {
	rows, err := s.db.DB().QueryContext(ctx, pageSelectColumns+" FROM pages WHERE job_id = ? ORDER BY page_num", jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

const pageSelectColumns = `SELECT id, job_id, page_num, page_url, source_id, status,
	last_completed_image_index, image_count, error, started_at, updated_at, finished_at`

func scanPage(row scanner) (models.Page, error) {
	var p models.Page
	var status string
	var errText, finishedAt sql.NullString
	var startedAt, updatedAt string

	err := row.Scan(&p.ID, &p.JobID, &p.PageNum, &p.PageURL, &p.SourceID, &status,
		&p.LastCompletedImageIndex, &p.ImageCount, &errText, &startedAt, &updatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Page{}, ErrPageNotFound
	}
	if err != nil {
		return models.Page{}, err
	}
	p.Status = models.PageStatus(status)
	p.Error = errText.String
	p.StartedAt, _ = time.Parse(timeLayout, startedAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(timeLayout, finishedAt.String)
		p.FinishedAt = &t
	}
	return p, nil
}

func (s *Store) UpdatePage(ctx context.Context, pageID int64, update interfaces.PageUpdate) error {
	now := nowISO()
	return s.exec(ctx, `
		UPDATE pages
		SET status = ?,
		    last_completed_image_index = COALESCE(?, last_completed_image_index),
		    image_count = COALESCE(?, image_count),
		    error = ?,
		    updated_at = ?,
		    finished_at = CASE WHEN ? THEN ? ELSE finished_at END
		WHERE id = ?
		`, string(update.Status), update.LastCompletedImageIndex, update.ImageCount,
		update.Error, now, update.Finish, now, pageID)
}

// --- Image lifecycle --------------------------------------------------------

func (s *Store) UpsertPageImages(ctx context.Context, pageID int64, seeds []interfaces.ImageSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	now := nowISO()
	return retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO images (page_id, image_index, url, local_path, status, retries, updated_at)
			VALUES (?, ?, ?, ?, 'pending', 0, ?)
			ON CONFLICT(page_id, image_index) DO UPDATE SET
				url = excluded.url,
				local_path = excluded.local_path,
				updated_at = excluded.updated_at
			`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, seed := range seeds {
			if _, err := stmt.ExecContext(ctx, pageID, seed.Index, seed.URL, seed.LocalPath, now); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, 5, 50*time.Millisecond, s.logger)
}

const imageSelectColumns = `SELECT id, page_id, image_index, url, local_path, status, retries,
	http_status, content_type, size_bytes, sha256, downloaded_at, error, updated_at`

func (s *Store) GetPageImages(ctx context.Context, pageID int64) ([]models.Image, error) {
	rows, err := s.db.DB().QueryContext(ctx, imageSelectColumns+" FROM images WHERE page_id = ? ORDER BY image_index", pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func scanImage(row scanner) (models.Image, error) {
	var img models.Image
	var status string
	var httpStatus sql.NullInt64
	var contentType, sha256, downloadedAt, errText sql.NullString
	var sizeBytes sql.NullInt64
	var updatedAt string

	err := row.Scan(&img.ID, &img.PageID, &img.ImageIndex, &img.URL, &img.LocalPath, &status, &img.Retries,
		&httpStatus, &contentType, &sizeBytes, &sha256, &downloadedAt, &errText, &updatedAt)
	if err != nil {
		return models.Image{}, err
	}
	img.Status = models.ImageStatus(status)
	img.Error = errText.String
	img.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		img.HTTPStatus = &v
	}
	if contentType.Valid {
		v := contentType.String
		img.ContentType = &v
	}
	if sizeBytes.Valid {
		v := sizeBytes.Int64
		img.SizeBytes = &v
	}
	if sha256.Valid {
		v := sha256.String
		img.SHA256 = &v
	}
	if downloadedAt.Valid {
		if t, err := time.Parse(timeLayout, downloadedAt.String); err == nil {
			img.DownloadedAt = &t
		}
	}
	return img, nil
}

func (s *Store) UpdateImageRunning(ctx context.Context, imageID int64) error {
	return s.exec(ctx, "UPDATE images SET status = 'running', updated_at = ? WHERE id = ?", nowISO(), imageID)
}

func (s *Store) UpdateImageResult(ctx context.Context, imageID int64, result interfaces.ImageResult) error {
	var downloadedAt any
	if result.DownloadedAt != nil {
		downloadedAt = time.Unix(*result.DownloadedAt, 0).UTC().Format(timeLayout)
	}
	var errText any
	if result.Error != "" {
		errText = result.Error
	}
	return s.exec(ctx, `
		UPDATE images
		SET status = ?, retries = ?, http_status = ?, content_type = ?,
		    size_bytes = ?, sha256 = ?, downloaded_at = ?, error = ?, updated_at = ?
		WHERE id = ?
		`, string(result.Status), result.Retries, result.HTTPStatus, result.ContentType,
		result.SizeBytes, result.SHA256, downloadedAt, errText, nowISO(), imageID)
}

func (s *Store) GetFailedImages(ctx context.Context, jobID string, limit int) ([]models.Image, error) {
	query := `
		SELECT i.id, i.page_id, i.image_index, i.url, i.local_path, i.status, i.retries,
		       i.http_status, i.content_type, i.size_bytes, i.sha256, i.downloaded_at, i.error, i.updated_at
		FROM images i
		JOIN pages p ON p.id = i.page_id
		WHERE p.job_id = ? AND i.status = 'failed'
		ORDER BY p.page_num, i.image_index
	`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// --- Crash recovery ----------------------------------------------------

func (s *Store) ResetRunningToPending(ctx context.Context, jobID string) error {
	now := nowISO()
	return retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			UPDATE pages SET status = 'pending', updated_at = ?
			WHERE job_id = ? AND status = 'running'
			`, now, jobID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE images SET status = 'pending', updated_at = ?
			WHERE page_id IN (SELECT id FROM pages WHERE job_id = ?)
			  AND status = 'running'
			`, now, jobID); err != nil {
			return err
		}
		return tx.Commit()
	}, 5, 50*time.Millisecond, s.logger)
}

// --- Observability ----------------------------------------------------

func (s *Store) StatsForJob(ctx context.Context, jobID string) (models.Stats, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return models.Stats{}, err
	}

	stats := models.Stats{JobID: jobID}
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('completed', 'completed_with_failures') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed_fetch' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0)
		FROM pages WHERE job_id = ?
		`, jobID).Scan(&stats.PagesTotal, &stats.PagesCompleted, &stats.PagesFailed, &stats.PagesPending, &stats.PagesRunning)
	if err != nil {
		return models.Stats{}, err
	}

	err = s.db.DB().QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'running') THEN 1 ELSE 0 END), 0)
		FROM images WHERE page_id IN (SELECT id FROM pages WHERE job_id = ?)
		`, jobID).Scan(&stats.ImagesTotal, &stats.ImagesComplete, &stats.ImagesFailed, &stats.ImagesPending)
	if err != nil {
		return models.Stats{}, err
	}
	return stats, nil
}

func (s *Store) AddEvent(ctx context.Context, jobID string, pageID *int64, eventType, message string) error {
	return s.exec(ctx, `
		INSERT INTO events (job_id, page_id, event_type, message, created_at)
		VALUES (?, ?, ?, ?, ?)
		`, jobID, pageID, eventType, message, nowISO())
}

func (s *Store) ListEvents(ctx context.Context, jobID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, page_id, event_type, message, created_at
		FROM events WHERE job_id = ?
		ORDER BY id DESC
		LIMIT ?
		`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var pageID sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &pageID, &e.EventType, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.JobID = jobID
		if pageID.Valid {
			v := pageID.Int64
			e.PageID = &v
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
