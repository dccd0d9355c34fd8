package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestLoad_EmptyPathUsesDefaultsPlusEnv(t *testing.T) {
	t.Setenv("FLOWCORE_WORKER_COUNT", "7")
	t.Setenv("FLOWCORE_QUEUE_CAPACITY", "500")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Worker.Count)
	assert.Equal(t, 500, cfg.Queue.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Worker.PollTimeout)
}

func TestLoad_FileValuesOverrideDefaultsAndEnvOverridesFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "flowcore-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("worker:\n  count: 4\nqueue:\n  capacity: 2000\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("FLOWCORE_QUEUE_CAPACITY", "9000")

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Worker.Count, "file value kept where env did not override")
	assert.Equal(t, 9000, cfg.Queue.Capacity, "env takes precedence over file")
}

func TestValidate_RejectsNonPositiveQueueCapacity(t *testing.T) {
	cfg := Default()
	cfg.Queue.Capacity = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.capacity")
}

func TestValidate_RejectsOutOfRangeBackpressureThreshold(t *testing.T) {
	cfg := Default()
	cfg.Queue.BackpressureThreshold = 150

	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_RequiresNeo4jURIWhenAnalyticsEnabled(t *testing.T) {
	cfg := Default()
	cfg.Analytics.Enabled = true
	cfg.Analytics.Neo4jURI = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neo4j_uri")
}

func TestValidate_RejectsUnknownTracingExporter(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"

	err := Validate(cfg)
	require.Error(t, err)
}
