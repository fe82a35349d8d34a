// Package config is the thin YAML adapter around models.RunConfig. It and
// its caller (cmd/harvest) are explicitly out of scope for the core's
// intellectual content per the harvester's design — they exist only so the
// CLI front-end has something to load. The identity subset, job-id
// derivation, and validation itself live in internal/models, internal/naming
// and internal/common as pure functions independent of how the YAML was read.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// rawRunConfig mirrors models.RunConfig's YAML shape but leaves every
// optional field a pointer so LoadRunConfig can tell "absent" from
// "explicitly zero" and apply models.DefaultRunConfig accordingly.
type rawRunConfig struct {
	URLTemplate string `yaml:"url_template"`
	StartNum    *int   `yaml:"start_num"`
	EndNum      *int   `yaml:"end_num"`

	Selector  *string `yaml:"selector"`
	OutputDir *string `yaml:"output_dir"`
	StateDB   *string `yaml:"state_db"`
	Engine    *string `yaml:"engine"`
	Resume    *bool   `yaml:"resume"`

	PageTimeoutSec                   *float64 `yaml:"page_timeout_sec"`
	ImageTimeoutSec                  *float64 `yaml:"image_timeout_sec"`
	ImageRetries                     *int     `yaml:"image_retries"`
	PageRetries                      *int     `yaml:"page_retries"`
	RequestDelaySec                  *float64 `yaml:"request_delay_sec"`
	StopAfterConsecutivePageFailures *int     `yaml:"stop_after_consecutive_page_failures"`
	PlaywrightFallback               *bool    `yaml:"playwright_fallback"`

	SequenceCountSelector        *string `yaml:"sequence_count_selector"`
	SequenceRequireUpperBound    *bool   `yaml:"sequence_require_upper_bound"`
	SequenceProbeAfterUpperBound *bool   `yaml:"sequence_probe_after_upper_bound"`

	DownloadRatePerSec *float64 `yaml:"download_rate_per_sec"`
	DownloadBurst      *int     `yaml:"download_burst"`
}

// LoadRunConfig reads one harvest job template from a YAML file, applying
// models.DefaultRunConfig for every field the document omits.
func LoadRunConfig(path string) (models.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RunConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawRunConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return models.RunConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if raw.URLTemplate == "" {
		return models.RunConfig{}, fmt.Errorf("config: %s: url_template is required", path)
	}
	if raw.StartNum == nil {
		return models.RunConfig{}, fmt.Errorf("config: %s: start_num is required", path)
	}

	cfg := models.DefaultRunConfig()
	cfg.URLTemplate = raw.URLTemplate
	cfg.StartNum = *raw.StartNum
	cfg.EndNum = raw.EndNum

	if raw.Selector != nil {
		cfg.Selector = *raw.Selector
	}
	if raw.OutputDir != nil {
		cfg.OutputDir = *raw.OutputDir
	}
	if raw.StateDB != nil {
		cfg.StateDB = *raw.StateDB
	}
	if raw.Engine != nil {
		cfg.Engine = *raw.Engine
	}
	if raw.Resume != nil {
		cfg.Resume = *raw.Resume
	}
	if raw.PageTimeoutSec != nil {
		cfg.PageTimeoutSec = *raw.PageTimeoutSec
	}
	if raw.ImageTimeoutSec != nil {
		cfg.ImageTimeoutSec = *raw.ImageTimeoutSec
	}
	if raw.ImageRetries != nil {
		cfg.ImageRetries = *raw.ImageRetries
	}
	if raw.PageRetries != nil {
		cfg.PageRetries = *raw.PageRetries
	}
	if raw.RequestDelaySec != nil {
		cfg.RequestDelaySec = *raw.RequestDelaySec
	}
	if raw.StopAfterConsecutivePageFailures != nil {
		cfg.StopAfterConsecutivePageFailures = *raw.StopAfterConsecutivePageFailures
	}
	if raw.PlaywrightFallback != nil {
		cfg.PlaywrightFallback = *raw.PlaywrightFallback
	}
	if raw.SequenceCountSelector != nil {
		cfg.SequenceCountSelector = *raw.SequenceCountSelector
	}
	if raw.SequenceRequireUpperBound != nil {
		cfg.SequenceRequireUpperBound = *raw.SequenceRequireUpperBound
	}
	if raw.SequenceProbeAfterUpperBound != nil {
		cfg.SequenceProbeAfterUpperBound = *raw.SequenceProbeAfterUpperBound
	}
	if raw.DownloadRatePerSec != nil {
		cfg.DownloadRatePerSec = *raw.DownloadRatePerSec
	}
	if raw.DownloadBurst != nil {
		cfg.DownloadBurst = *raw.DownloadBurst
	}

	if err := common.ValidateRunConfig(cfg); err != nil {
		return models.RunConfig{}, err
	}
	return cfg, nil
}

// RunConfigJSON produces the canonical JSON serialization stored in
// jobs.config_json: the full config (identity subset plus tunables), not
// just the identity subset naming.JobID hashes.
func RunConfigJSON(cfg models.RunConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config: marshal run config: %w", err)
	}
	return string(data), nil
}
