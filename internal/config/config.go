// Package config loads runtime settings from defaults, an optional JSON
// file, the environment and command line flags, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"candyscope/internal/camera"
)

// Label fonts
const (
	FontGoRegular = "goregular"
	FontBasic     = "basic"
)

// EnvPrefix prefixes every environment variable read by the flags
const EnvPrefix = "CANDYSCOPE_"

// Duration is a time.Duration that reads "500ms"-style strings from JSON
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds runtime configuration
type Config struct {
	Debug bool `json:"debug"`

	// Detection service
	DetectorURL    string   `json:"detector_url"`
	RequestTimeout Duration `json:"request_timeout"`
	MinConfidence  float64  `json:"min_confidence"`

	// Live loop
	Interval        Duration `json:"interval"`
	RefreshInterval Duration `json:"refresh_interval"`
	LiveQuality     float64  `json:"live_quality"`
	MaxInFlight     int      `json:"max_in_flight"`
	DiscardStale    bool     `json:"discard_stale"`

	// Single shot
	SingleShotQuality float64 `json:"single_shot_quality"`
	FolderConcurrency int     `json:"folder_concurrency"`

	// Rendering
	SummaryPanel bool   `json:"summary_panel"`
	LabelFont    string `json:"label_font"`
	Resolution   string `json:"resolution"` // "WxH", empty keeps the source size

	NutritionFile string `json:"nutrition_file"`

	// HTTP server
	Addr      string `json:"addr"`
	StreamFPS int    `json:"stream_fps"`

	LogFile      string `json:"log_file"`
	LogMaxSizeMB int    `json:"log_max_size_mb"`
}

// Default returns a Config populated with standard defaults
func Default() *Config {
	return &Config{
		DetectorURL:       "http://localhost:8000/api/send",
		RequestTimeout:    Duration(15 * time.Second),
		Interval:          Duration(500 * time.Millisecond),
		RefreshInterval:   Duration(time.Second / 60),
		LiveQuality:       0.8,
		SingleShotQuality: 0.92,
		FolderConcurrency: 4,
		LabelFont:         FontGoRegular,
		Addr:              "localhost:8080",
		StreamFPS:         15,
		LogMaxSizeMB:      50,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from files into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ResolutionSize returns the parsed resolution override, zeros when unset
func (c *Config) ResolutionSize() (int, int) {
	if c.Resolution == "" {
		return 0, 0
	}
	w, h, err := camera.ParseResolution(c.Resolution)
	if err != nil {
		return 0, 0
	}
	return w, h
}

// Validate normalizes soft values and reports every invalid one
func (c *Config) Validate() error {
	def := Default()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.FolderConcurrency <= 0 {
		c.FolderConcurrency = 1
	}
	if c.StreamFPS <= 0 {
		c.StreamFPS = def.StreamFPS
	}
	c.LabelFont = strings.ToLower(strings.TrimSpace(c.LabelFont))
	if c.LabelFont == "" {
		c.LabelFont = def.LabelFont
	}

	var err error
	if u, perr := url.Parse(c.DetectorURL); perr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("detector_url %q is not an absolute URL", c.DetectorURL))
	}
	if c.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval must be positive, got %s", time.Duration(c.Interval)))
	}
	if c.LiveQuality <= 0 || c.LiveQuality > 1 {
		err = multierr.Append(err, fmt.Errorf("live_quality must be in (0,1], got %v", c.LiveQuality))
	}
	if c.SingleShotQuality <= 0 || c.SingleShotQuality > 1 {
		err = multierr.Append(err, fmt.Errorf("single_shot_quality must be in (0,1], got %v", c.SingleShotQuality))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		err = multierr.Append(err, fmt.Errorf("min_confidence must be in [0,1], got %v", c.MinConfidence))
	}
	if c.MaxInFlight < 0 {
		err = multierr.Append(err, fmt.Errorf("max_in_flight must not be negative, got %d", c.MaxInFlight))
	}
	if c.LabelFont != FontGoRegular && c.LabelFont != FontBasic {
		err = multierr.Append(err, fmt.Errorf("label_font must be %q or %q, got %q", FontGoRegular, FontBasic, c.LabelFont))
	}
	if c.Resolution != "" {
		if _, _, rerr := camera.ParseResolution(c.Resolution); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Flag names
const (
	FlagConfig            = "config"
	FlagDebug             = "debug"
	FlagDetectorURL       = "detector-url"
	FlagTimeout           = "timeout"
	FlagMinConfidence     = "min-confidence"
	FlagInterval          = "interval"
	FlagMaxInFlight       = "max-in-flight"
	FlagDiscardStale      = "discard-stale"
	FlagLiveQuality       = "live-quality"
	FlagSingleShotQuality = "quality"
	FlagConcurrency       = "concurrency"
	FlagSummaryPanel      = "summary-panel"
	FlagLabelFont         = "label-font"
	FlagResolution        = "resolution"
	FlagNutrition         = "nutrition"
	FlagAddr              = "addr"
	FlagStreamFPS         = "stream-fps"
	FlagLogFile           = "log-file"
)

func envVar(flag string) []string {
	return []string{EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))}
}

// Flags returns the global command line flags. Each can also be set through
// its CANDYSCOPE_* environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: FlagConfig, Aliases: []string{"c"}, Usage: "load configuration from `FILE`", EnvVars: envVar(FlagConfig)},
		&cli.BoolFlag{Name: FlagDebug, Usage: "debug logging", EnvVars: envVar(FlagDebug)},
		&cli.StringFlag{Name: FlagDetectorURL, Usage: "detection service `URL`", EnvVars: envVar(FlagDetectorURL)},
		&cli.DurationFlag{Name: FlagTimeout, Usage: "detection request timeout", EnvVars: envVar(FlagTimeout)},
		&cli.Float64Flag{Name: FlagMinConfidence, Usage: "drop detections below this confidence", EnvVars: envVar(FlagMinConfidence)},
		&cli.DurationFlag{Name: FlagInterval, Usage: "live analysis interval", EnvVars: envVar(FlagInterval)},
		&cli.IntFlag{Name: FlagMaxInFlight, Usage: "bound on concurrent live requests, 0 for unbounded", EnvVars: envVar(FlagMaxInFlight)},
		&cli.BoolFlag{Name: FlagDiscardStale, Usage: "drop live results older than the one on screen", EnvVars: envVar(FlagDiscardStale)},
		&cli.Float64Flag{Name: FlagLiveQuality, Usage: "live JPEG quality in (0,1]", EnvVars: envVar(FlagLiveQuality)},
		&cli.Float64Flag{Name: FlagSingleShotQuality, Usage: "single shot JPEG quality in (0,1]", EnvVars: envVar(FlagSingleShotQuality)},
		&cli.IntFlag{Name: FlagConcurrency, Usage: "concurrent requests for folder analysis", EnvVars: envVar(FlagConcurrency)},
		&cli.BoolFlag{Name: FlagSummaryPanel, Usage: "draw the summary panel on overlays", EnvVars: envVar(FlagSummaryPanel)},
		&cli.StringFlag{Name: FlagLabelFont, Usage: "label font: goregular or basic", EnvVars: envVar(FlagLabelFont)},
		&cli.StringFlag{Name: FlagResolution, Usage: "resize frames to `WxH` before analysis", EnvVars: envVar(FlagResolution)},
		&cli.StringFlag{Name: FlagNutrition, Usage: "nutrition table JSON `FILE`", EnvVars: envVar(FlagNutrition)},
		&cli.StringFlag{Name: FlagAddr, Usage: "HTTP listen address", EnvVars: envVar(FlagAddr)},
		&cli.IntFlag{Name: FlagStreamFPS, Usage: "MJPEG stream frame rate cap", EnvVars: envVar(FlagStreamFPS)},
		&cli.StringFlag{Name: FlagLogFile, Usage: "also write rotated JSON logs to `FILE`", EnvVars: envVar(FlagLogFile)},
	}
}

// FromContext loads the config file named by --config and applies every
// flag or environment variable that was set, then validates the result
func FromContext(c *cli.Context) (*Config, error) {
	cfg, err := Load(c.String(FlagConfig))
	if err != nil {
		return nil, err
	}
	cfg.ApplyFlags(c)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// ApplyFlags overrides fields whose flags were set
func (c *Config) ApplyFlags(ctx *cli.Context) {
	if ctx.IsSet(FlagDebug) {
		c.Debug = ctx.Bool(FlagDebug)
	}
	if ctx.IsSet(FlagDetectorURL) {
		c.DetectorURL = ctx.String(FlagDetectorURL)
	}
	if ctx.IsSet(FlagTimeout) {
		c.RequestTimeout = Duration(ctx.Duration(FlagTimeout))
	}
	if ctx.IsSet(FlagMinConfidence) {
		c.MinConfidence = ctx.Float64(FlagMinConfidence)
	}
	if ctx.IsSet(FlagInterval) {
		c.Interval = Duration(ctx.Duration(FlagInterval))
	}
	if ctx.IsSet(FlagMaxInFlight) {
		c.MaxInFlight = ctx.Int(FlagMaxInFlight)
	}
	if ctx.IsSet(FlagDiscardStale) {
		c.DiscardStale = ctx.Bool(FlagDiscardStale)
	}
	if ctx.IsSet(FlagLiveQuality) {
		c.LiveQuality = ctx.Float64(FlagLiveQuality)
	}
	if ctx.IsSet(FlagSingleShotQuality) {
		c.SingleShotQuality = ctx.Float64(FlagSingleShotQuality)
	}
	if ctx.IsSet(FlagConcurrency) {
		c.FolderConcurrency = ctx.Int(FlagConcurrency)
	}
	if ctx.IsSet(FlagSummaryPanel) {
		c.SummaryPanel = ctx.Bool(FlagSummaryPanel)
	}
	if ctx.IsSet(FlagLabelFont) {
		c.LabelFont = ctx.String(FlagLabelFont)
	}
	if ctx.IsSet(FlagResolution) {
		c.Resolution = ctx.String(FlagResolution)
	}
	if ctx.IsSet(FlagNutrition) {
		c.NutritionFile = ctx.String(FlagNutrition)
	}
	if ctx.IsSet(FlagAddr) {
		c.Addr = ctx.String(FlagAddr)
	}
	if ctx.IsSet(FlagStreamFPS) {
		c.StreamFPS = ctx.Int(FlagStreamFPS)
	}
	if ctx.IsSet(FlagLogFile) {
		c.LogFile = ctx.String(FlagLogFile)
	}
}
