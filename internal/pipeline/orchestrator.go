// Package pipeline drives the per-page state machine that walks a job's
// page range, fetches and parses each page, and downloads its images,
// persisting every transition to the store before issuing the next I/O.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/config"
	"github.com/ternarybob/harvester/internal/downloader"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/metadata"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/naming"
)

// Orchestrator is the single-writer driver for one job: it owns the store's
// write path, the fetcher(s), the parser, and the downloader, and composes
// them into the run/process-page/retry-failed operations. Nothing in this
// package fans out goroutines; the contract is single-threaded cooperative
// per job (see the design's concurrency notes), though every collaborator
// it holds is itself safe for concurrent use by a future caller.
type Orchestrator struct {
	Store            interfaces.Store
	Fetcher          interfaces.PageFetcher
	FallbackFetcher  interfaces.PageFetcher // optional, nil when not configured
	Parser           interfaces.Parser
	Downloader       interfaces.Downloader
	Logger           arbor.ILogger
}

// Run implements the run(job_id, config_json) entry point.
func (o *Orchestrator) Run(ctx context.Context, jobID string, cfg models.RunConfig) (models.Stats, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return models.Stats{}, fmt.Errorf("pipeline: create output dir: %w", err)
	}

	configJSON, err := config.RunConfigJSON(cfg)
	if err != nil {
		return models.Stats{}, err
	}

	if cfg.Resume {
		if err := o.Store.UpsertJob(ctx, jobID, configJSON, models.JobStatusRunning); err != nil {
			return models.Stats{}, fmt.Errorf("pipeline: upsert job: %w", err)
		}
		if err := o.Store.ResetRunningToPending(ctx, jobID); err != nil {
			return models.Stats{}, fmt.Errorf("pipeline: reset running to pending: %w", err)
		}
	} else {
		if err := o.Store.ResetJob(ctx, jobID, configJSON); err != nil {
			return models.Stats{}, fmt.Errorf("pipeline: reset job: %w", err)
		}
	}
	o.event(ctx, jobID, nil, models.EventJobStart, "job started")

	stats, runErr := o.runPages(ctx, jobID, cfg)
	if runErr != nil {
		_ = o.Store.SetJobStatus(ctx, jobID, models.JobStatusFailed, true)
		o.event(ctx, jobID, nil, models.EventJobFailed, runErr.Error())
		o.logErr(runErr, "job failed", jobID)
		return stats, runErr
	}

	if err := o.Store.SetJobStatus(ctx, jobID, models.JobStatusCompleted, true); err != nil {
		return stats, fmt.Errorf("pipeline: set job completed: %w", err)
	}
	o.event(ctx, jobID, nil, models.EventJobEnd, "job completed")

	return o.Store.StatsForJob(ctx, jobID)
}

// runPages iterates the configured page range, applying the stop-on-
// consecutive-failures heuristic when end_num is unset.
func (o *Orchestrator) runPages(ctx context.Context, jobID string, cfg models.RunConfig) (models.Stats, error) {
	consecutiveFailures := 0

	for pageNum := cfg.StartNum; ; pageNum++ {
		if cfg.EndNum != nil && pageNum > *cfg.EndNum {
			break
		}
		if cfg.EndNum == nil && consecutiveFailures >= cfg.StopAfterConsecutivePageFailures {
			break
		}

		pageURL := expandPlaceholder(cfg.URLTemplate, pageNum)
		sourceID := naming.SourceID(pageURL, pageNum)

		page, err := o.Store.EnsurePage(ctx, jobID, pageNum, pageURL, sourceID)
		if err != nil {
			return models.Stats{}, fmt.Errorf("pipeline: ensure page %d: %w", pageNum, err)
		}

		if cfg.Resume && isSkippable(page.Status) {
			consecutiveFailures = 0
			continue
		}

		ok, err := o.processPage(ctx, jobID, pageNum, pageURL, cfg)
		if err != nil {
			return models.Stats{}, err
		}
		if ok {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}

		if cfg.RequestDelaySec > 0 {
			sleep(ctx, time.Duration(cfg.RequestDelaySec*float64(time.Second)))
		}
	}

	return o.Store.StatsForJob(ctx, jobID)
}

func isSkippable(status models.PageStatus) bool {
	switch status {
	case models.PageStatusCompleted, models.PageStatusCompletedWithFailures, models.PageStatusNoImages:
		return true
	default:
		return false
	}
}

// processPage implements _process_page(job_id, page_num, page_url).
func (o *Orchestrator) processPage(ctx context.Context, jobID string, pageNum int, pageURL string, cfg models.RunConfig) (bool, error) {
	page, err := o.Store.GetPage(ctx, jobID, pageNum)
	if err != nil {
		return false, fmt.Errorf("pipeline: get page %d: %w", pageNum, err)
	}

	errEmpty := ""
	if err := o.Store.UpdatePage(ctx, page.ID, interfaces.PageUpdate{Status: models.PageStatusRunning, Error: &errEmpty}); err != nil {
		return false, fmt.Errorf("pipeline: mark page running: %w", err)
	}
	o.event(ctx, jobID, &page.ID, models.EventPageStart, fmt.Sprintf("page %d started", pageNum))

	fetchResult := o.fetchWithRetries(ctx, pageURL, cfg.PageTimeoutSec, cfg.PageRetries, cfg.RequestDelaySec)
	if !fetchResult.OK || fetchResult.HTML == "" {
		zero := 0
		errMsg := fetchResult.Error
		if err := o.Store.UpdatePage(ctx, page.ID, interfaces.PageUpdate{
			Status:     models.PageStatusFailedFetch,
			ImageCount: &zero,
			Error:      &errMsg,
			Finish:     true,
		}); err != nil {
			return false, fmt.Errorf("pipeline: mark page failed_fetch: %w", err)
		}
		o.event(ctx, jobID, &page.ID, models.EventPageFetchFailed, errMsg)
		return false, nil
	}

	parseResult, err := o.Parser.Parse(fetchResult.HTML, pageURL, cfg.Selector)
	if err != nil {
		return false, fmt.Errorf("pipeline: parse page %d: %w", pageNum, err)
	}

	if len(parseResult.ImageURLs) == 0 && o.FallbackFetcher != nil && cfg.PlaywrightFallback {
		fallbackResult := o.FallbackFetcher.Fetch(ctx, pageURL, cfg.PageTimeoutSec)
		if fallbackResult.OK && fallbackResult.HTML != "" {
			if reparsed, err := o.Parser.Parse(fallbackResult.HTML, pageURL, cfg.Selector); err == nil {
				parseResult = reparsed
			}
		}
	}

	if len(parseResult.ImageURLs) == 0 {
		zero := 0
		if err := o.Store.UpdatePage(ctx, page.ID, interfaces.PageUpdate{
			Status:     models.PageStatusNoImages,
			ImageCount: &zero,
			Finish:     true,
		}); err != nil {
			return false, fmt.Errorf("pipeline: mark page no_images: %w", err)
		}
		o.event(ctx, jobID, &page.ID, models.EventPageNoImages, "parser returned zero image urls")
		if err := o.writeSidecar(ctx, jobID, page.ID, cfg); err != nil {
			o.logErr(err, "write no_images sidecar", jobID)
		}
		return false, nil
	}

	pageDir := filepath.Join(cfg.OutputDir, naming.PageDirName(pageNum))
	seeds := make([]interfaces.ImageSeed, 0, len(parseResult.ImageURLs))
	for i, imgURL := range parseResult.ImageURLs {
		seeds = append(seeds, interfaces.ImageSeed{
			Index:     i + 1,
			URL:       imgURL,
			LocalPath: filepath.Join(pageDir, naming.ImageFileName(imgURL)),
		})
	}

	if err := o.Store.UpsertPageImages(ctx, page.ID, seeds); err != nil {
		return false, fmt.Errorf("pipeline: upsert page images: %w", err)
	}
	imageCount := len(seeds)
	if err := o.Store.UpdatePage(ctx, page.ID, interfaces.PageUpdate{
		Status:     models.PageStatusRunning,
		ImageCount: &imageCount,
	}); err != nil {
		return false, fmt.Errorf("pipeline: update page image count: %w", err)
	}

	images, err := o.Store.GetPageImages(ctx, page.ID)
	if err != nil {
		return false, fmt.Errorf("pipeline: get page images: %w", err)
	}

	for _, img := range images {
		if img.Status.IsTerminal() {
			continue
		}
		if err := o.processImage(ctx, jobID, page.ID, img, cfg); err != nil {
			return false, err
		}
	}

	if err := o.refreshPageStatus(ctx, jobID, page.ID); err != nil {
		return false, err
	}
	if err := o.writeSidecar(ctx, jobID, page.ID, cfg); err != nil {
		o.logErr(err, "write page sidecar", jobID)
	}

	finalPage, err := o.Store.GetPageByID(ctx, page.ID)
	if err != nil {
		return false, fmt.Errorf("pipeline: reload page: %w", err)
	}
	ok := finalPage.Status == models.PageStatusCompleted || finalPage.Status == models.PageStatusCompletedWithFailures
	return ok, nil
}

// processImage implements step 5 of _process_page: the filesystem fast-path,
// falling back to the downloader.
func (o *Orchestrator) processImage(ctx context.Context, jobID string, pageID int64, img models.Image, cfg models.RunConfig) error {
	if info, err := os.Stat(img.LocalPath); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		sum, err := downloader.FileSHA256(img.LocalPath)
		if err != nil {
			return fmt.Errorf("pipeline: hash fast-path file: %w", err)
		}
		httpStatus := 200
		size := info.Size()
		now := time.Now().UTC()
		if err := o.Store.UpdateImageResult(ctx, img.ID, interfaces.ImageResult{
			Status:       models.ImageStatusCompleted,
			HTTPStatus:   &httpStatus,
			SizeBytes:    &size,
			SHA256:       &sum,
			DownloadedAt: unixSeconds(now),
		}); err != nil {
			return fmt.Errorf("pipeline: persist fast-path result: %w", err)
		}
		return o.advancePageIndex(ctx, pageID, img.ImageIndex)
	}

	if err := o.Store.UpdateImageRunning(ctx, img.ID); err != nil {
		return fmt.Errorf("pipeline: mark image running: %w", err)
	}

	result := o.Downloader.Download(ctx, img.URL, img.LocalPath, cfg.ImageTimeoutSec, cfg.ImageRetries, cfg.RequestDelaySec)
	if result.OK {
		if err := o.Store.UpdateImageResult(ctx, img.ID, interfaces.ImageResult{
			Status:       models.ImageStatusCompleted,
			Retries:      result.RetriesUsed,
			HTTPStatus:   result.HTTPStatus,
			ContentType:  result.ContentType,
			SizeBytes:    result.SizeBytes,
			SHA256:       result.SHA256,
			DownloadedAt: unixSecondsPtr(result.DownloadedAt),
		}); err != nil {
			return fmt.Errorf("pipeline: persist download result: %w", err)
		}
		return o.advancePageIndex(ctx, pageID, img.ImageIndex)
	}

	if err := o.Store.UpdateImageResult(ctx, img.ID, interfaces.ImageResult{
		Status:      models.ImageStatusFailed,
		Retries:     result.RetriesUsed,
		HTTPStatus:  result.HTTPStatus,
		ContentType: result.ContentType,
		Error:       result.Error,
	}); err != nil {
		return fmt.Errorf("pipeline: persist failed download: %w", err)
	}
	o.event(ctx, jobID, &pageID, models.EventImageFailed, result.Error)
	return nil
}

func (o *Orchestrator) advancePageIndex(ctx context.Context, pageID int64, imageIndex int) error {
	idx := imageIndex
	return o.Store.UpdatePage(ctx, pageID, interfaces.PageUpdate{
		Status:                  models.PageStatusRunning,
		LastCompletedImageIndex: &idx,
	})
}

// refreshPageStatus implements §4.6.4.
func (o *Orchestrator) refreshPageStatus(ctx context.Context, jobID string, pageID int64) error {
	images, err := o.Store.GetPageImages(ctx, pageID)
	if err != nil {
		return fmt.Errorf("pipeline: refresh page status: get images: %w", err)
	}

	if len(images) == 0 {
		zero := 0
		return o.Store.UpdatePage(ctx, pageID, interfaces.PageUpdate{
			Status:     models.PageStatusNoImages,
			ImageCount: &zero,
			Finish:     true,
		})
	}

	anyPending := false
	anyFailed := false
	lastCompleted := 0
	for _, img := range images {
		switch img.Status {
		case models.ImageStatusPending, models.ImageStatusRunning:
			anyPending = true
		case models.ImageStatusFailed:
			anyFailed = true
		case models.ImageStatusCompleted:
			if img.ImageIndex > lastCompleted {
				lastCompleted = img.ImageIndex
			}
		}
	}

	count := len(images)
	if anyPending {
		return o.Store.UpdatePage(ctx, pageID, interfaces.PageUpdate{
			Status:                  models.PageStatusRunning,
			ImageCount:              &count,
			LastCompletedImageIndex: &lastCompleted,
		})
	}

	status := models.PageStatusCompleted
	if anyFailed {
		status = models.PageStatusCompletedWithFailures
	}
	return o.Store.UpdatePage(ctx, pageID, interfaces.PageUpdate{
		Status:                  status,
		ImageCount:              &count,
		LastCompletedImageIndex: &lastCompleted,
		Finish:                  true,
	})
}

func (o *Orchestrator) writeSidecar(ctx context.Context, jobID string, pageID int64, cfg models.RunConfig) error {
	page, err := o.Store.GetPageByID(ctx, pageID)
	if err != nil {
		return err
	}
	images, err := o.Store.GetPageImages(ctx, pageID)
	if err != nil {
		return err
	}
	sidecar := metadata.BuildPageSidecar(page, images, cfg.Selector, cfg.Engine)
	return metadata.WritePageSidecar(cfg.OutputDir, sidecar)
}

// fetchWithRetries fetches a page up to retries+1 times, sleeping
// request_delay_sec between failed attempts.
func (o *Orchestrator) fetchWithRetries(ctx context.Context, pageURL string, timeoutSec float64, retries int, delaySec float64) models.FetchResult {
	var result models.FetchResult
	attempts := retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result = o.Fetcher.Fetch(ctx, pageURL, timeoutSec)
		if result.OK {
			return result
		}
		if attempt < attempts && delaySec > 0 {
			sleep(ctx, time.Duration(delaySec*float64(time.Second)))
		}
	}
	return result
}

func (o *Orchestrator) event(ctx context.Context, jobID string, pageID *int64, eventType, message string) {
	if o.Logger != nil {
		o.Logger.Info().Str("job_id", jobID).Str("event", eventType).Msg(message)
	}
	if err := o.Store.AddEvent(ctx, jobID, pageID, eventType, message); err != nil {
		o.logErr(err, "add event", jobID)
	}
}

func (o *Orchestrator) logErr(err error, action, jobID string) {
	if o.Logger == nil {
		return
	}
	o.Logger.Warn().Err(err).Str("job_id", jobID).Msg(action)
}

func expandPlaceholder(template string, pageNum int) string {
	return strings.ReplaceAll(template, "{num}", strconv.Itoa(pageNum))
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func unixSeconds(t time.Time) *int64 {
	s := t.Unix()
	return &s
}

func unixSecondsPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	return unixSeconds(*t)
}
