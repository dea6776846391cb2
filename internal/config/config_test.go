package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.ReportCrash)
	assert.False(t, cfg.ReportUnknown)
	assert.False(t, cfg.ReportWeird)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apfsck.yaml")
	contents := "report_crash: true\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.ReportCrash)
	assert.False(t, cfg.ReportUnknown)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
