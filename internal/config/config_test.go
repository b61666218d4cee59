package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v, t.TempDir())
	return v
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(defaultViper(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "free", cfg.Quota.DefaultPlan)
	assert.Equal(t, map[string]int64{"free": 100000, "standard": 1000000, "unlimited": -1}, cfg.Quota.Plans)
	assert.Equal(t, []string{"free", "standard", "unlimited"}, cfg.PlanNames())
	assert.Equal(t, 60*time.Second, cfg.Generator.Timeout)
	assert.Empty(t, cfg.Tokens)
}

func TestNewReadsTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = "127.0.0.1:9000"

[log]
level = "DEBUG"
format = "text"

[generator]
base_url = "https://gateway.example.com"
model = "tutor-large"
timeout = "15s"

[quota]
default_plan = "standard"

[quota.plans]
standard = 5000
unlimited = -1

[[auth.tokens]]
token = "Tok-Alice"
user = "alice"

[oauth]
authorize_url = "https://auth.example.com/authorize"
client_id = "tutor-web"
redirect_uri = "https://tutor.example.com/auth/callback"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "https://gateway.example.com", cfg.Generator.BaseURL)
	assert.Equal(t, "tutor-large", cfg.Generator.Model)
	assert.Equal(t, 15*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, map[string]int64{"standard": 5000, "unlimited": -1}, cfg.Quota.Plans)
	assert.Equal(t, map[string]string{"Tok-Alice": "alice"}, cfg.Tokens)
	assert.Equal(t, "tutor-web", cfg.OAuth.ClientID)
}

func TestNewAppliesEnvOverrides(t *testing.T) {
	t.Setenv("TUTOR_SERVER_ADDR", ":7070")
	t.Setenv("TUTOR_GENERATOR_API_KEY", "sk-env")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \":9000\"\n"), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "sk-env", cfg.Generator.APIKey)
}

func TestNewRequiresExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{name: "empty addr", key: KeyServerAddr, value: "", wantErr: KeyServerAddr},
		{name: "bad level", key: KeyLogLevel, value: "loud", wantErr: KeyLogLevel},
		{name: "bad format", key: KeyLogFormat, value: "xml", wantErr: KeyLogFormat},
		{name: "empty store", key: KeyStorePath, value: "", wantErr: KeyStorePath},
		{name: "unknown default plan", key: KeyQuotaDefaultPlan, value: "gold", wantErr: KeyQuotaDefaultPlan},
		{name: "negative plan", key: KeyQuotaPlans, value: map[string]any{"free": -5}, wantErr: "plan \"free\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := defaultViper(t)
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "room_id", "r1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "room_id=r1")
}
