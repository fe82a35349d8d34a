package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
	"github.com/ternarybob/harvester/internal/models"
)

// PrintBanner displays the application startup banner and echoes the run's
// identity-affecting configuration so a terminal reader can see at a glance
// which job a run will resume.
func PrintBanner(cfg models.RunConfig, jobID string, logger arbor.ILogger) {
	version := GetVersion()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("HARVESTER")
	b.PrintCenteredText("Resumable Templated Image Harvester")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 18)
	b.PrintKeyValue("Job ID", jobID, 18)
	b.PrintKeyValue("URL Template", cfg.URLTemplate, 18)
	b.PrintKeyValue("Engine", cfg.Engine, 18)
	b.PrintKeyValue("Output Dir", cfg.OutputDir, 18)
	b.PrintKeyValue("Resume", fmt.Sprintf("%t", cfg.Resume), 18)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("job_id", jobID).
		Str("url_template", cfg.URLTemplate).
		Str("engine", cfg.Engine).
		Str("output_dir", cfg.OutputDir).
		Bool("resume", cfg.Resume).
		Msg("harvester starting")
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("RUN COMPLETE")
	b.PrintCenteredText("HARVESTER")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("harvester run finished")
}

// PrintColorizedMessage prints a message in the specified color to stdout. It
// does not log; the logger argument is unused, and the Print* callers log
// separately.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message in cyan and logs it.
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("ℹ %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
