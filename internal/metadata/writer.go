// Package metadata writes the durable JSON artifacts a harvest run leaves
// behind: a per-page sidecar alongside its images, and a whole-job export.
// Both are written atomically via a temp-file-then-rename so a crash mid
// write never leaves a partial file at the final path.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/naming"
)

// ImageRecord is one image's entry in a page sidecar.
type ImageRecord struct {
	Index        int     `json:"index"`
	URL          string  `json:"url"`
	LocalPath    string  `json:"local_path"`
	Status       string  `json:"status"`
	Retries      int     `json:"retries"`
	HTTPStatus   *int    `json:"http_status,omitempty"`
	ContentType  *string `json:"content_type,omitempty"`
	SizeBytes    *int64  `json:"size_bytes,omitempty"`
	SHA256       *string `json:"sha256,omitempty"`
	DownloadedAt *string `json:"downloaded_at,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// PageSummary is the `summary` object embedded in a page sidecar.
type PageSummary struct {
	TotalCount     int     `json:"total_count"`
	CompletedCount int     `json:"completed_count"`
	FailedCount    int     `json:"failed_count"`
	Status         string  `json:"status"`
	StartedAt      string  `json:"started_at"`
	EndedAt        string  `json:"ended_at"`
	DurationSec    float64 `json:"duration_sec"`
}

// PageSidecar is the full contents of <output_dir>/<page_dir>/metadata.json.
type PageSidecar struct {
	JobID    string        `json:"job_id"`
	PageNum  int           `json:"page_num"`
	PageURL  string        `json:"page_url"`
	SourceID string        `json:"source_id"`
	Selector string        `json:"selector"`
	Engine   string        `json:"engine"`
	Images   []ImageRecord `json:"images"`
	Summary  PageSummary   `json:"summary"`
}

// SidecarPath returns the path a page's metadata.json is written to.
func SidecarPath(outputDir string, pageNum int) string {
	return filepath.Join(outputDir, naming.PageDirName(pageNum), "metadata.json")
}

// BuildPageSidecar assembles a PageSidecar from a page row and its images.
func BuildPageSidecar(page models.Page, images []models.Image, selector, engine string) PageSidecar {
	records := make([]ImageRecord, 0, len(images))
	completed, failed := 0, 0
	for _, img := range images {
		rec := ImageRecord{
			Index:       img.ImageIndex,
			URL:         img.URL,
			LocalPath:   img.LocalPath,
			Status:      string(img.Status),
			Retries:     img.Retries,
			HTTPStatus:  img.HTTPStatus,
			ContentType: img.ContentType,
			SizeBytes:   img.SizeBytes,
			SHA256:      img.SHA256,
			Error:       img.Error,
		}
		if img.DownloadedAt != nil {
			s := img.DownloadedAt.UTC().Format(time.RFC3339)
			rec.DownloadedAt = &s
		}
		records = append(records, rec)
		switch img.Status {
		case models.ImageStatusCompleted:
			completed++
		case models.ImageStatusFailed:
			failed++
		}
	}

	startedAt := page.StartedAt.UTC().Format(time.RFC3339)
	endedAt := time.Now().UTC()
	if page.FinishedAt != nil {
		endedAt = *page.FinishedAt
	}
	endedAtStr := endedAt.UTC().Format(time.RFC3339)

	return PageSidecar{
		JobID:    page.JobID,
		PageNum:  page.PageNum,
		PageURL:  page.PageURL,
		SourceID: page.SourceID,
		Selector: selector,
		Engine:   engine,
		Images:   records,
		Summary: PageSummary{
			TotalCount:     len(images),
			CompletedCount: completed,
			FailedCount:    failed,
			Status:         string(page.Status),
			StartedAt:      startedAt,
			EndedAt:        endedAtStr,
			DurationSec:    durationSec(startedAt, endedAtStr),
		},
	}
}

// durationSec reproduces the source behavior verbatim: both timestamps are
// parsed to second precision from their leading 19 characters ("YYYY-MM-DD
// Thh:mm:ss") and subtracted as naive local-time values rather than true
// instants with offset. This is a known design wart (see the design notes
// this package implements) and is left unfixed intentionally.
func durationSec(startedAt, endedAt string) float64 {
	const layout = "2006-01-02T15:04:05"

	truncate := func(ts string) string {
		if len(ts) >= 19 {
			return ts[:19]
		}
		return ts
	}

	start, errStart := time.ParseInLocation(layout, truncate(startedAt), time.Local)
	end, errEnd := time.ParseInLocation(layout, truncate(endedAt), time.Local)
	if errStart != nil || errEnd != nil {
		return 0
	}

	delta := end.Sub(start).Seconds()
	if delta < 0 {
		return 0
	}
	return delta
}

// WritePageSidecar atomically writes a page's metadata.json.
func WritePageSidecar(outputDir string, sidecar PageSidecar) error {
	path := SidecarPath(outputDir, sidecar.PageNum)
	return atomicWriteJSON(path, sidecar)
}

// PageExportEntry is one page's row in a job export file.
type PageExportEntry struct {
	PageNum                 int    `json:"page_num"`
	PageURL                 string `json:"page_url"`
	SourceID                string `json:"source_id"`
	Status                  string `json:"status"`
	ImageCount              int    `json:"image_count"`
	LastCompletedImageIndex int    `json:"last_completed_image_index"`
	FailedCount             int    `json:"failed_count"`
	MetadataPath            string `json:"metadata_path"`
}

// JobExport is the whole-job summary written by the export operation.
type JobExport struct {
	JobID  string            `json:"job_id"`
	Status string            `json:"status"`
	Stats  models.Stats      `json:"stats"`
	Pages  []PageExportEntry `json:"pages"`
}

// WriteJobExport atomically writes a job's export JSON to path.
func WriteJobExport(path string, export JobExport) error {
	return atomicWriteJSON(path, export)
}

// atomicWriteJSON marshals v as two-space-indented JSON, writes it to a
// temp file beside path, and renames into place. The rename is the commit
// point; a crash mid-write leaves at most an orphan .tmp file.
func atomicWriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
