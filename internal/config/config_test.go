package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, time.Duration(cfg.Interval))
	assert.Equal(t, 15*time.Second, time.Duration(cfg.RequestTimeout))
	assert.Equal(t, 0.8, cfg.LiveQuality)
	assert.Equal(t, 0.92, cfg.SingleShotQuality)
	assert.Zero(t, cfg.MaxInFlight)
	assert.False(t, cfg.DiscardStale)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candyscope.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"detector_url": "http://detector:9000/api/send",
		"interval": "250ms",
		"request_timeout": 2000000000,
		"max_in_flight": 2
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://detector:9000/api/send", cfg.DetectorURL)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Interval))
	assert.Equal(t, 2*time.Second, time.Duration(cfg.RequestTimeout))
	assert.Equal(t, 2, cfg.MaxInFlight)
	assert.Equal(t, 0.8, cfg.LiveQuality)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"interval": "soon"}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := Default()
	cfg.Resolution = "640x480"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	w, h := loaded.ResolutionSize()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.DetectorURL = "not a url"
	cfg.LiveQuality = 1.5
	cfg.MinConfidence = -0.1
	cfg.MaxInFlight = -1
	cfg.LabelFont = "comic"
	cfg.Resolution = "big"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 6)
}

func TestValidateNormalizes(t *testing.T) {
	cfg := Default()
	cfg.RequestTimeout = 0
	cfg.FolderConcurrency = -3
	cfg.LabelFont = " BASIC "
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, time.Duration(cfg.RequestTimeout))
	assert.Equal(t, 1, cfg.FolderConcurrency)
	assert.Equal(t, FontBasic, cfg.LabelFont)
}

func runWithFlags(t *testing.T, args ...string) *Config {
	t.Helper()
	var got *Config
	app := &cli.App{
		Name:  "test",
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			cfg, err := FromContext(c)
			got = cfg
			return err
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return got
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candyscope.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_in_flight": 2, "discard_stale": true}`), 0o644))

	cfg := runWithFlags(t, "--config", path, "--max-in-flight", "5", "--interval", "1s")
	assert.Equal(t, 5, cfg.MaxInFlight)
	assert.True(t, cfg.DiscardStale)
	assert.Equal(t, time.Second, time.Duration(cfg.Interval))
}

func TestEnvironmentSetsFlags(t *testing.T) {
	t.Setenv("CANDYSCOPE_DETECTOR_URL", "http://env:8000/api/send")
	t.Setenv("CANDYSCOPE_DISCARD_STALE", "true")

	cfg := runWithFlags(t)
	assert.Equal(t, "http://env:8000/api/send", cfg.DetectorURL)
	assert.True(t, cfg.DiscardStale)
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CANDYSCOPE_ADDR=0.0.0.0:9999\nCANDYSCOPE_LOG_FILE=from-dotenv.log\n"), 0o644))
	t.Setenv("CANDYSCOPE_ADDR", "127.0.0.1:1")
	t.Setenv("CANDYSCOPE_LOG_FILE", "")
	os.Unsetenv("CANDYSCOPE_LOG_FILE")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { os.Unsetenv("CANDYSCOPE_LOG_FILE") })

	assert.Equal(t, "127.0.0.1:1", os.Getenv("CANDYSCOPE_ADDR"))
	assert.Equal(t, "from-dotenv.log", os.Getenv("CANDYSCOPE_LOG_FILE"))
}
