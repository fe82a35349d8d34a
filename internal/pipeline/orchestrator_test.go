package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/sqlite"
)

// fakeFetcher returns a canned FetchResult per URL, or a default when the
// URL isn't registered.
type fakeFetcher struct {
	byURL   map[string]models.FetchResult
	calls   map[string]int
	failN   int // fail the first failN calls for any URL, then succeed
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{byURL: map[string]models.FetchResult{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, timeoutSec float64) models.FetchResult {
	f.calls[url]++
	if f.calls[url] <= f.failN {
		return models.FetchResult{URL: url, OK: false, Error: "temporary failure"}
	}
	if result, ok := f.byURL[url]; ok {
		return result
	}
	return models.FetchResult{URL: url, OK: false, Error: "not found"}
}

// fakeParser returns a canned ParseResult per HTML body.
type fakeParser struct {
	byHTML map[string][]string
}

func (p *fakeParser) Parse(html, pageURL, selector string) (models.ParseResult, error) {
	return models.ParseResult{PageURL: pageURL, Selector: selector, ImageURLs: p.byHTML[html]}, nil
}

// fakeDownloader always succeeds unless the URL is in failURLs.
type fakeDownloader struct {
	failURLs map[string]bool
}

func (d *fakeDownloader) Download(ctx context.Context, url, destination string, timeoutSec float64, retries int, delaySec float64) models.DownloadResult {
	if d.failURLs[url] {
		return models.DownloadResult{OK: false, Error: "download failed"}
	}
	size := int64(100)
	sha := "deadbeef"
	status := 200
	return models.DownloadResult{OK: true, HTTPStatus: &status, SizeBytes: &size, SHA256: &sha}
}

func newTestOrchestrator(t *testing.T, fetcher *fakeFetcher, parser *fakeParser, dl *fakeDownloader) (*Orchestrator, func()) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := sqlite.NewSQLiteDB(logger, &common.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	store := sqlite.NewStore(db, logger)

	o := &Orchestrator{
		Store:      store,
		Fetcher:    fetcher,
		Parser:     parser,
		Downloader: dl,
		Logger:     logger,
	}
	return o, func() { db.Close() }
}

func baseCfg(t *testing.T, outputDir string) models.RunConfig {
	cfg := models.DefaultRunConfig()
	cfg.URLTemplate = "https://example.com/g/{num}"
	cfg.StartNum = 1
	end := 2
	cfg.EndNum = &end
	cfg.OutputDir = outputDir
	cfg.RequestDelaySec = 0
	cfg.PageRetries = 1
	cfg.ImageRetries = 1
	return cfg
}

func TestRun_CompletesAllPagesAndImages(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "page1"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}

	parser := &fakeParser{byHTML: map[string][]string{
		"page1": {"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
		"page2": {"https://cdn.example.com/c.jpg"},
	}}
	dl := &fakeDownloader{failURLs: map[string]bool{}}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)

	stats, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PagesTotal)
	assert.Equal(t, 2, stats.PagesCompleted)
	assert.Equal(t, 3, stats.ImagesTotal)
	assert.Equal(t, 3, stats.ImagesComplete)

	job, err := o.Store.GetJob(context.Background(), "job_test")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestRun_PageFetchFailureMarksFailedFetchAndContinues(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}
	// page 1 deliberately unregistered -> always "not found"

	parser := &fakeParser{byHTML: map[string][]string{
		"page2": {"https://cdn.example.com/c.jpg"},
	}}
	dl := &fakeDownloader{}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)

	stats, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesFailed)
	assert.Equal(t, 1, stats.PagesCompleted)

	page, err := o.Store.GetPage(context.Background(), "job_test", 1)
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusFailedFetch, page.Status)
	assert.NotEmpty(t, page.Error)
}

func TestRun_ZeroImagesMarksNoImagesAndWritesSidecar(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "empty"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "empty"}

	parser := &fakeParser{byHTML: map[string][]string{}}
	dl := &fakeDownloader{}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)

	_, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)

	page, err := o.Store.GetPage(context.Background(), "job_test", 1)
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusNoImages, page.Status)

	sidecarPath := filepath.Join(dir, "000001", "metadata.json")
	_, statErr := os.Stat(sidecarPath)
	assert.NoError(t, statErr)
}

func TestRun_PartialImageFailureYieldsCompletedWithFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "page1"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}

	parser := &fakeParser{byHTML: map[string][]string{
		"page1": {"https://cdn.example.com/a.jpg", "https://cdn.example.com/bad.jpg"},
		"page2": {},
	}}
	dl := &fakeDownloader{failURLs: map[string]bool{"https://cdn.example.com/bad.jpg": true}}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)

	_, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)

	page, err := o.Store.GetPage(context.Background(), "job_test", 1)
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusCompletedWithFailures, page.Status)
}

func TestRun_ResumeSkipsAlreadyTerminalPages(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "page1"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}
	parser := &fakeParser{byHTML: map[string][]string{
		"page1": {"https://cdn.example.com/a.jpg"},
		"page2": {"https://cdn.example.com/b.jpg"},
	}}
	dl := &fakeDownloader{}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)
	cfg.Resume = true

	_, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)

	// Second run of the same job must not re-fetch already-completed pages.
	_, err = o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls["https://example.com/g/1"])
	assert.Equal(t, 1, fetcher.calls["https://example.com/g/2"])
}

func TestRun_NonResumeResetsJobFromScratch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "page1"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}
	parser := &fakeParser{byHTML: map[string][]string{
		"page1": {"https://cdn.example.com/a.jpg"},
		"page2": {"https://cdn.example.com/b.jpg"},
	}}
	dl := &fakeDownloader{}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)
	cfg.Resume = false

	_, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls["https://example.com/g/1"])
	assert.Equal(t, 2, fetcher.calls["https://example.com/g/2"])
}

func TestProcessImage_FilesystemFastPathSkipsDownload(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byURL["https://example.com/g/1"] = models.FetchResult{OK: true, HTML: "page1"}
	fetcher.byURL["https://example.com/g/2"] = models.FetchResult{OK: true, HTML: "page2"}
	parser := &fakeParser{byHTML: map[string][]string{
		"page1": {"https://cdn.example.com/a.jpg"},
		"page2": {},
	}}

	called := false
	dl := &trackingDownloader{fakeDownloader: fakeDownloader{}, onCall: func() { called = true }}

	o, cleanup := newTestOrchestrator(t, fetcher, parser, dl)
	defer cleanup()

	dir := t.TempDir()
	cfg := baseCfg(t, dir)

	imgPath := filepath.Join(dir, "000001", "a.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(imgPath), 0755))
	require.NoError(t, os.WriteFile(imgPath, []byte("pre-existing bytes"), 0644))

	_, err := o.Run(context.Background(), "job_test", cfg)
	require.NoError(t, err)
	assert.False(t, called, "downloader must not be invoked when the destination file already exists")

	page, err := o.Store.GetPage(context.Background(), "job_test", 1)
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusCompleted, page.Status)
}

type trackingDownloader struct {
	fakeDownloader
	onCall func()
}

func (d *trackingDownloader) Download(ctx context.Context, url, destination string, timeoutSec float64, retries int, delaySec float64) models.DownloadResult {
	d.onCall()
	return d.fakeDownloader.Download(ctx, url, destination, timeoutSec, retries, delaySec)
}
