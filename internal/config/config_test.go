package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644))
	return path
}

func TestLoad_MissingFileReportsIssue(t *testing.T) {
	_, issues := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "read config")
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
  extra_field: true
`)
	_, issues := Load(path)
	require.NotEmpty(t, issues)
}

func TestLoad_AppliesDefaultsOnEmptyDocument(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, issues := Load(path)
	assert.Empty(t, issues)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 0.05, cfg.Trust.MaxStep)
	assert.Equal(t, 3, cfg.SafeMode.ConsecutiveErrorThreshold)
	assert.Equal(t, 0.8, cfg.SafeMode.ExitTrustFloor)
	assert.InDelta(t, 1.0, sumWeights(cfg.Drift.Weights), 0.0001)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("KERNEL_TEST_DSN", "file:test.db")
	path := writeConfig(t, `
storage:
  driver: sqlite
  dsn: "${KERNEL_TEST_DSN}"
`)
	cfg, issues := Load(path)
	assert.Empty(t, issues)
	assert.Equal(t, "file:test.db", cfg.Storage.DSN)
}

func TestValidate_RejectsUnknownStorageDriver(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.Storage.Driver = "postgres"
	issues := Validate(cfg)
	assert.Contains(t, strings.Join(issues, "; "), "storage.driver")
}

func TestValidate_RequiresDSNForSQLiteDriver(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.Storage.Driver = "sqlite"
	issues := Validate(cfg)
	assert.Contains(t, strings.Join(issues, "; "), "storage.dsn")
}

func TestValidate_RejectsQuarantineThresholdAtOrAboveWriteThreshold(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.MemoryGate.QuarantineThreshold = cfg.MemoryGate.WriteThreshold
	issues := Validate(cfg)
	assert.Contains(t, strings.Join(issues, "; "), "memory_gate.quarantine_threshold")
}

func TestValidate_RejectsDriftWeightsNotSummingToOne(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.Drift.Weights = map[string]float64{"valueAlignment": 0.9}
	issues := Validate(cfg)
	assert.Contains(t, strings.Join(issues, "; "), "drift.weights")
}

func sumWeights(weights map[string]float64) float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	return total
}
