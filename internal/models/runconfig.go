package models

// RunConfig is the full template configuration for one harvest run. Its
// identity subset (see IdentitySubset) is what naming.JobID hashes into a
// job id; every other field is a tunable that may change across resumed runs
// of the same job.
type RunConfig struct {
	URLTemplate string `yaml:"url_template" json:"url_template" validate:"required"`
	StartNum    int    `yaml:"start_num" json:"start_num" validate:"gte=0"`
	EndNum      *int   `yaml:"end_num,omitempty" json:"end_num,omitempty"`

	Selector  string `yaml:"selector" json:"selector"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	StateDB   string `yaml:"state_db" json:"state_db"`
	Engine    string `yaml:"engine" json:"engine"`
	Resume    bool   `yaml:"resume" json:"resume"`

	PageTimeoutSec                    float64 `yaml:"page_timeout_sec" json:"page_timeout_sec"`
	ImageTimeoutSec                   float64 `yaml:"image_timeout_sec" json:"image_timeout_sec"`
	ImageRetries                      int     `yaml:"image_retries" json:"image_retries"`
	PageRetries                       int     `yaml:"page_retries" json:"page_retries"`
	RequestDelaySec                   float64 `yaml:"request_delay_sec" json:"request_delay_sec"`
	StopAfterConsecutivePageFailures  int     `yaml:"stop_after_consecutive_page_failures" json:"stop_after_consecutive_page_failures"`
	PlaywrightFallback                bool    `yaml:"playwright_fallback" json:"playwright_fallback"`

	// DownloadRatePerSec and DownloadBurst configure the adaptive limiter's
	// starting point (§4.5: "current_rate starts at the configured base
	// rate"). Not identity-affecting: adjusting throughput does not create
	// a new job.
	DownloadRatePerSec float64 `yaml:"download_rate_per_sec" json:"download_rate_per_sec"`
	DownloadBurst      int     `yaml:"download_burst" json:"download_burst"`

	// Sequence expansion flags. Identity-affecting: see IdentitySubset.
	SequenceCountSelector        string `yaml:"sequence_count_selector" json:"sequence_count_selector"`
	SequenceRequireUpperBound    bool   `yaml:"sequence_require_upper_bound" json:"sequence_require_upper_bound"`
	SequenceProbeAfterUpperBound bool   `yaml:"sequence_probe_after_upper_bound" json:"sequence_probe_after_upper_bound"`
}

// DefaultRunConfig returns a RunConfig with every optional field at its
// documented default, leaving URLTemplate and StartNum zero-valued for the
// caller to fill in.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Selector:                         "div.gallerypic img",
		OutputDir:                        "data/downloads",
		StateDB:                          "data/state.sqlite3",
		Engine:                           "requests",
		Resume:                           true,
		PageTimeoutSec:                   20.0,
		ImageTimeoutSec:                  30.0,
		ImageRetries:                     3,
		PageRetries:                      2,
		RequestDelaySec:                  0.2,
		StopAfterConsecutivePageFailures: 5,
		PlaywrightFallback:               false,
		DownloadRatePerSec:               4.0,
		DownloadBurst:                    4,
		SequenceCountSelector:            "#tishi p span",
		SequenceRequireUpperBound:        true,
		SequenceProbeAfterUpperBound:     false,
	}
}

// IdentitySubset is the portion of the config that determines job_id. Two
// RunConfigs with an identical identity subset resolve to the same job and
// resume each other; everything else (page range, timeouts, retries, delay)
// may vary between runs of the same job.
type IdentitySubset struct {
	URLTemplate                  string `json:"url_template"`
	Selector                     string `json:"selector"`
	OutputDir                    string `json:"output_dir"`
	Engine                       string `json:"engine"`
	SequenceCountSelector        string `json:"sequence_count_selector"`
	SequenceRequireUpperBound    bool   `json:"sequence_require_upper_bound"`
	SequenceProbeAfterUpperBound bool   `json:"sequence_probe_after_upper_bound"`
}

// IdentitySubset extracts the fields naming.JobID hashes.
func (c RunConfig) IdentitySubset() IdentitySubset {
	return IdentitySubset{
		URLTemplate:                  c.URLTemplate,
		Selector:                     c.Selector,
		OutputDir:                    c.OutputDir,
		Engine:                       c.Engine,
		SequenceCountSelector:        c.SequenceCountSelector,
		SequenceRequireUpperBound:    c.SequenceRequireUpperBound,
		SequenceProbeAfterUpperBound: c.SequenceProbeAfterUpperBound,
	}
}
