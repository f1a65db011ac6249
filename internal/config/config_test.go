package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_DefaultsApply(t *testing.T) {
	cfg, err := newConfigBuilder().withDefaults().build()
	require.NoError(t, err)

	assert.Equal(t, DefaultRequestTimeout, cfg.Engine.RequestTimeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.Engine.MaxAttempts)
	assert.Equal(t, DefaultBackoffBase, cfg.Engine.BackoffBase)
	assert.Equal(t, DefaultBackoffCap, cfg.Engine.BackoffCap)
	assert.Equal(t, DefaultRefreshInterval, cfg.Engine.RefreshInterval)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Authority.HeartbeatInterval)
}

func TestBuilder_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("ENGINE_MAX_ATTEMPTS", "3")
	t.Setenv("ENGINE_SERVER_ADDRESS", "localhost:9999")

	cfg, err := newConfigBuilder().withEnv().withDefaults().build()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, "localhost:9999", cfg.Engine.ServerAddress)
	assert.Equal(t, DefaultBackoffBase, cfg.Engine.BackoffBase, "unset fields still fall back")
}

func TestValidate_RejectsNonPositiveAttempts(t *testing.T) {
	cfg := &StructuredConfig{
		Engine: Engine{
			MaxAttempts:    0,
			RequestTimeout: time.Second,
			BackoffBase:    time.Millisecond,
			BackoffCap:     time.Second,
		},
		Authority: Authority{HeartbeatInterval: time.Second},
	}
	assert.ErrorIs(t, cfg.validate(), ErrInvalidEngineConfigs)
}

func TestValidate_RejectsCapBelowBase(t *testing.T) {
	cfg := &StructuredConfig{
		Engine: Engine{
			MaxAttempts:    1,
			RequestTimeout: time.Second,
			BackoffBase:    time.Second,
			BackoffCap:     time.Millisecond,
		},
		Authority: Authority{HeartbeatInterval: time.Second},
	}
	assert.ErrorIs(t, cfg.validate(), ErrInvalidEngineConfigs)
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := map[string]any{
		"engine": map[string]any{
			"server_address":  "localhost:8080",
			"request_timeout": "15s",
			"max_attempts":    7,
		},
		"authority": map[string]any{
			"address":            ":8080",
			"dsn":                "test.db",
			"heartbeat_interval": "45s",
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := parseJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Engine.ServerAddress)
	assert.Equal(t, 15*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, 7, cfg.Engine.MaxAttempts)
	assert.Equal(t, ":8080", cfg.Authority.Address)
	assert.Equal(t, "test.db", cfg.Authority.DSN)
	assert.Equal(t, 45*time.Second, cfg.Authority.HeartbeatInterval)
}

func TestParseJSON_MissingFile(t *testing.T) {
	_, err := parseJSON("no/such/file.json")
	assert.Error(t, err)
}

func TestDuration_UnmarshalVariants(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, time.Duration(d))

	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &d))
}
