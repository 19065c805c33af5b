package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"CODEHUB_CLUSTER_ID":            "test-cluster",
		"CODEHUB_DATABASE__URL":         "postgres://localhost/codehub",
		"CODEHUB_REDIS__URL":            "redis://localhost:6379/0",
		"CODEHUB_RUNTIME__ENDPOINT_URL": "http://localhost:8181",
		"CODEHUB_RUNTIME__API_KEY":      "secret",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-cluster", cfg.ClusterID)
	assert.Equal(t, 10, cfg.Database.MaxOpenConn)
	assert.Equal(t, 30*time.Second, cfg.Runtime.ResourceTimeout)
	assert.Equal(t, 600*time.Second, cfg.Runtime.ArchiveJobTimeout)
	assert.Equal(t, 300, cfg.TTL.StandbySeconds)
	assert.Equal(t, 1800, cfg.TTL.ArchiveSeconds)
	assert.Equal(t, int64(100), cfg.EventStreamMaxLen)
	assert.Equal(t, 60*time.Second, cfg.Intervals.TTL)
	assert.Equal(t, 3600*time.Second, cfg.Intervals.GC)
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	os.Clearenv()
	t.Setenv("CODEHUB_CLUSTER_ID", "test-cluster")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_OverridesDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CODEHUB_TTL__STANDBY_SECONDS", "900")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.TTL.StandbySeconds)
}
