// -----------------------------------------------------------------------
// Last Modified: Friday, 31st July 2026 9:00:00 am
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/config"
	"github.com/ternarybob/harvester/internal/downloader"
	"github.com/ternarybob/harvester/internal/fetch"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/naming"
	"github.com/ternarybob/harvester/internal/parser"
	"github.com/ternarybob/harvester/internal/pipeline"
	"github.com/ternarybob/harvester/internal/storage/sqlite"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	appConfigFiles configPaths
	jobConfigFile  = flag.String("job", "harvest.yaml", "Path to the job template YAML file")
	retryFailed    = flag.Bool("retry-failed", false, "Retry this job's failed images instead of running the page walk")
	retryLimit     = flag.Int("retry-limit", 0, "Cap the number of failed images retried (0 = unlimited)")
	exportPath     = flag.String("export", "", "Write a job export JSON to this path after running")
	showVersion    = flag.Bool("version", false, "Print version information")
	showVersionV   = flag.Bool("v", false, "Print version information (shorthand)")

	logger arbor.ILogger
)

func init() {
	flag.Var(&appConfigFiles, "config", "Application config file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&appConfigFiles, "c", "Application config file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("harvester version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load ambient config (defaults -> file1 -> file2 -> ...)
	// 2. Load the job template config (defaults -> YAML -> validation)
	// 3. Initialize logger
	// 4. Derive job id, print banner
	// 5. Wire store/fetchers/parser/downloader/orchestrator
	// 6. Run the requested operation

	appConfig, err := common.LoadFromFiles(appConfigFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load application configuration")
		os.Exit(1)
	}

	runConfig, err := config.LoadRunConfig(*jobConfigFile)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", *jobConfigFile).Msg("failed to load job configuration")
		os.Exit(1)
	}

	logger = common.SetupLogger(appConfig)
	defer common.Stop()
	defer common.RecoverWithCrashFile()

	jobID, err := naming.JobID(runConfig.IdentitySubset())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to derive job id")
	}
	common.PrintBanner(runConfig, jobID, logger)

	appConfig.SQLite.Path = runConfig.StateDB
	db, err := sqlite.NewSQLiteDB(logger, &appConfig.SQLite)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open state database")
	}
	store := sqlite.NewStore(db, logger)
	defer store.Close()

	orchestrator := buildOrchestrator(store, runConfig, logger)
	defer orchestrator.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "interrupt-watcher", func() {
		<-sigChan
		logger.Info().Msg("interrupt received, cancelling run")
		cancel()
	})

	exitCode := 0
	if *retryFailed {
		exitCode = runRetry(ctx, orchestrator.Orchestrator, jobID, runConfig)
	} else {
		exitCode = runHarvest(ctx, orchestrator.Orchestrator, jobID, runConfig)
	}

	if *exportPath != "" {
		if err := orchestrator.ExportJob(ctx, jobID, runConfig.OutputDir, *exportPath); err != nil {
			logger.Error().Err(err).Msg("failed to write job export")
			exitCode = 1
		}
	}

	common.PrintShutdownBanner(logger)
	os.Exit(exitCode)
}

func runHarvest(ctx context.Context, o *pipeline.Orchestrator, jobID string, cfg models.RunConfig) int {
	stats, err := o.Run(ctx, jobID, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		return 1
	}
	logger.Info().
		Int("pages_total", stats.PagesTotal).
		Int("pages_completed", stats.PagesCompleted).
		Int("pages_failed", stats.PagesFailed).
		Int("images_total", stats.ImagesTotal).
		Int("images_complete", stats.ImagesComplete).
		Int("images_failed", stats.ImagesFailed).
		Msg("run finished")
	return 0
}

func runRetry(ctx context.Context, o *pipeline.Orchestrator, jobID string, cfg models.RunConfig) int {
	result, err := o.RetryFailed(ctx, jobID, cfg, *retryLimit, 0, 0, 0)
	if err != nil {
		logger.Error().Err(err).Msg("retry-failed failed")
		return 1
	}
	logger.Info().
		Int("retried", result.Retried).
		Int("recovered", result.Recovered).
		Int("failed_again", result.FailedAgain).
		Msg("retry-failed finished")
	return 0
}

// orchestratorWithClose bundles the orchestrator with the fetchers it owns
// so main can release the headless browser allocator on shutdown.
type orchestratorWithClose struct {
	*pipeline.Orchestrator
	headless *fetch.HeadlessFetcher
}

func (o *orchestratorWithClose) Close() {
	if o.headless != nil {
		o.headless.Close()
	}
}

func buildOrchestrator(store interfaces.Store, cfg models.RunConfig, logger arbor.ILogger) *orchestratorWithClose {
	goqueryParser := &parser.GoqueryParser{
		SequenceCountSelector:        cfg.SequenceCountSelector,
		SequenceRequireUpperBound:    cfg.SequenceRequireUpperBound,
		SequenceProbeAfterUpperBound: cfg.SequenceProbeAfterUpperBound,
	}

	limiter := downloader.NewAdaptiveLimiter(cfg.DownloadRatePerSec, cfg.DownloadBurst)
	dl := downloader.New(limiter)

	var primary interfaces.PageFetcher = fetch.NewHTTPFetcher()
	var headless *fetch.HeadlessFetcher
	if cfg.Engine == "playwright" {
		headless = fetch.NewHeadlessFetcher(context.Background())
		primary = headless
	} else if cfg.PlaywrightFallback {
		headless = fetch.NewHeadlessFetcher(context.Background())
	}

	var fallback interfaces.PageFetcher
	if headless != nil && cfg.Engine != "playwright" {
		fallback = headless
	}

	orchestrator := &pipeline.Orchestrator{
		Store:           store,
		Fetcher:         primary,
		FallbackFetcher: fallback,
		Parser:          goqueryParser,
		Downloader:      dl,
		Logger:          logger,
	}

	return &orchestratorWithClose{Orchestrator: orchestrator, headless: headless}
}
