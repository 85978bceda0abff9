package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candyscope.log")
	logger, closer := New(Options{File: path, MaxSizeMB: 1})

	logger.Named("test").Infow("hello", "candies", 3)
	closer()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"candies":3`)
	assert.Contains(t, string(data), `"logger":"test"`)
}

func TestDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, closer := New(Options{File: path})
	logger.Debug("hidden")
	closer()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")

	logger, closer = New(Options{File: path, Debug: true})
	logger.Debug("shown")
	closer()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
}

func TestStdLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "std.log")
	logger, closer := New(Options{File: path})
	StdLogger(logger).Printf("via %s", "stdlib")
	closer()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "via stdlib")
}
