package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/metadata"
	"github.com/ternarybob/harvester/internal/models"
)

// RetryResult summarizes one retry_failed call.
type RetryResult struct {
	Retried     int `json:"retried"`
	Recovered   int `json:"recovered"`
	FailedAgain int `json:"failed_again"`
}

// RetryFailed implements retry_failed(job_id, limit?, timeout?, retries?, delay?).
// Timeout/retries/delay default to the run config's values when zero.
func (o *Orchestrator) RetryFailed(ctx context.Context, jobID string, cfg models.RunConfig, limit int, timeoutSec float64, retries int, delaySec float64) (RetryResult, error) {
	if timeoutSec <= 0 {
		timeoutSec = cfg.ImageTimeoutSec
	}
	if retries <= 0 {
		retries = cfg.ImageRetries
	}
	if delaySec <= 0 {
		delaySec = cfg.RequestDelaySec
	}

	failed, err := o.Store.GetFailedImages(ctx, jobID, limit)
	if err != nil {
		return RetryResult{}, fmt.Errorf("pipeline: get failed images: %w", err)
	}

	result := RetryResult{Retried: len(failed)}
	touchedPages := make(map[int64]struct{})

	for _, img := range failed {
		touchedPages[img.PageID] = struct{}{}

		if err := o.Store.UpdateImageRunning(ctx, img.ID); err != nil {
			return RetryResult{}, fmt.Errorf("pipeline: mark image running: %w", err)
		}

		outcome := o.Downloader.Download(ctx, img.URL, img.LocalPath, timeoutSec, retries, delaySec)
		if outcome.OK {
			result.Recovered++
			if err := o.Store.UpdateImageResult(ctx, img.ID, interfaces.ImageResult{
				Status:       models.ImageStatusCompleted,
				Retries:      outcome.RetriesUsed,
				HTTPStatus:   outcome.HTTPStatus,
				ContentType:  outcome.ContentType,
				SizeBytes:    outcome.SizeBytes,
				SHA256:       outcome.SHA256,
				DownloadedAt: unixSecondsPtr(outcome.DownloadedAt),
			}); err != nil {
				return RetryResult{}, fmt.Errorf("pipeline: persist recovered image: %w", err)
			}
			if err := o.advancePageIndex(ctx, img.PageID, img.ImageIndex); err != nil {
				return RetryResult{}, err
			}
			continue
		}

		result.FailedAgain++
		if err := o.Store.UpdateImageResult(ctx, img.ID, interfaces.ImageResult{
			Status:      models.ImageStatusFailed,
			Retries:     outcome.RetriesUsed,
			HTTPStatus:  outcome.HTTPStatus,
			ContentType: outcome.ContentType,
			Error:       outcome.Error,
		}); err != nil {
			return RetryResult{}, fmt.Errorf("pipeline: persist re-failed image: %w", err)
		}
		o.event(ctx, jobID, &img.PageID, models.EventImageFailed, outcome.Error)
	}

	for pageID := range touchedPages {
		if err := o.refreshPageStatus(ctx, jobID, pageID); err != nil {
			return RetryResult{}, err
		}
		if err := o.writeSidecar(ctx, jobID, pageID, cfg); err != nil {
			o.logErr(err, "write sidecar after retry", jobID)
		}
	}

	o.event(ctx, jobID, nil, models.EventRetryFailed,
		fmt.Sprintf("retried=%d recovered=%d failed_again=%d", result.Retried, result.Recovered, result.FailedAgain))

	return result, nil
}

// ExportJob writes the whole-job summary JSON named in the design's
// metadata-export contract: per-job stats plus a per-page summary row.
func (o *Orchestrator) ExportJob(ctx context.Context, jobID, outputDir, path string) error {
	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: export: get job: %w", err)
	}
	stats, err := o.Store.StatsForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: export: stats: %w", err)
	}
	pages, err := o.Store.ListPages(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: export: list pages: %w", err)
	}

	entries := make([]metadata.PageExportEntry, 0, len(pages))
	for _, page := range pages {
		images, err := o.Store.GetPageImages(ctx, page.ID)
		if err != nil {
			return fmt.Errorf("pipeline: export: get page images: %w", err)
		}
		failedCount := 0
		for _, img := range images {
			if img.Status == models.ImageStatusFailed {
				failedCount++
			}
		}
		entries = append(entries, metadata.PageExportEntry{
			PageNum:                 page.PageNum,
			PageURL:                 page.PageURL,
			SourceID:                page.SourceID,
			Status:                  string(page.Status),
			ImageCount:              page.ImageCount,
			LastCompletedImageIndex: page.LastCompletedImageIndex,
			FailedCount:             failedCount,
			MetadataPath:            metadata.SidecarPath(outputDir, page.PageNum),
		})
	}

	export := metadata.JobExport{
		JobID:  job.JobID,
		Status: string(job.Status),
		Stats:  stats,
		Pages:  entries,
	}
	return metadata.WriteJobExport(path, export)
}
