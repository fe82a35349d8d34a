package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvester/internal/models"
)

func TestSidecarPath(t *testing.T) {
	path := SidecarPath("/data/out", 7)
	assert.Equal(t, filepath.Join("/data/out", "000007", "metadata.json"), path)
}

func TestBuildPageSidecar_CountsStatusesAndFormatsImages(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	page := models.Page{
		JobID:      "job_1",
		PageNum:    1,
		PageURL:    "https://example.com/g/1",
		SourceID:   "1",
		Status:     models.PageStatusCompletedWithFailures,
		StartedAt:  now,
		FinishedAt: timePtr(now.Add(5 * time.Second)),
	}
	httpStatus := 200
	sha := "abc123"
	size := int64(1024)
	images := []models.Image{
		{ImageIndex: 1, URL: "https://example.com/a.jpg", LocalPath: "/out/a.jpg", Status: models.ImageStatusCompleted, HTTPStatus: &httpStatus, SHA256: &sha, SizeBytes: &size, DownloadedAt: &now},
		{ImageIndex: 2, URL: "https://example.com/b.jpg", LocalPath: "/out/b.jpg", Status: models.ImageStatusFailed, Error: "timeout"},
	}

	sidecar := BuildPageSidecar(page, images, "img", "requests")

	assert.Equal(t, "job_1", sidecar.JobID)
	assert.Equal(t, 1, sidecar.PageNum)
	assert.Len(t, sidecar.Images, 2)
	assert.Equal(t, 2, sidecar.Summary.TotalCount)
	assert.Equal(t, 1, sidecar.Summary.CompletedCount)
	assert.Equal(t, 1, sidecar.Summary.FailedCount)
	assert.Equal(t, string(models.PageStatusCompletedWithFailures), sidecar.Summary.Status)
	assert.InDelta(t, 5.0, sidecar.Summary.DurationSec, 0.001)

	assert.Equal(t, "timeout", sidecar.Images[1].Error)
	require.NotNil(t, sidecar.Images[0].SHA256)
	assert.Equal(t, "abc123", *sidecar.Images[0].SHA256)
}

func TestDurationSec_TruncatesToSecondPrecisionLocalTime(t *testing.T) {
	// Both timestamps are parsed as naive local-time values after truncating
	// to 19 characters; offsets in the RFC3339 suffix are discarded.
	started := "2024-01-15T10:00:00+05:00"
	ended := "2024-01-15T10:00:10-08:00"
	assert.Equal(t, float64(10), durationSec(started, ended))
}

func TestDurationSec_NegativeDeltaClampsToZero(t *testing.T) {
	assert.Equal(t, float64(0), durationSec("2024-01-15T10:00:10", "2024-01-15T10:00:00"))
}

func TestWritePageSidecar_WritesAtomicallyAndIsReadable(t *testing.T) {
	dir := t.TempDir()
	sidecar := PageSidecar{JobID: "job_1", PageNum: 1, Summary: PageSummary{TotalCount: 1}}

	require.NoError(t, WritePageSidecar(dir, sidecar))

	data, err := os.ReadFile(SidecarPath(dir, 1))
	require.NoError(t, err)

	var decoded PageSidecar
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "job_1", decoded.JobID)

	_, err = os.Stat(SidecarPath(dir, 1) + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful write")
}

func TestWriteJobExport_WritesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.json")

	export := JobExport{
		JobID:  "job_1",
		Status: "completed",
		Stats:  models.Stats{JobID: "job_1", PagesTotal: 2, PagesCompleted: 2},
		Pages: []PageExportEntry{
			{PageNum: 1, Status: "completed", ImageCount: 3},
		},
	}
	require.NoError(t, WriteJobExport(path, export))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded JobExport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "job_1", decoded.JobID)
	assert.Len(t, decoded.Pages, 1)
}

func timePtr(t time.Time) *time.Time { return &t }
