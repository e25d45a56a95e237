package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers/aliyun"
	"github.com/phoenix4ge/censor/providers/nudenet"
	dbsql "github.com/phoenix4ge/censor/store/sql"
	"github.com/phoenix4ge/censor/syncer"
)

const sampleYAML = `
server:
  addr: ":9090"
log:
  level: debug
  format: text
database:
  driver: postgres
  dsn: "postgres://censor@db/censor?sslmode=disable"
  migrate: true
redis:
  enabled: true
  addr: "redis:6379"
  ttl: 30s
analyzer:
  type: nudenet
  settings:
    base_url: "http://nudenet:5000"
    model_id: 2
    timeout: 45s
  secondary:
    type: aliyun
    settings:
      access_key_id: ak
      access_key_secret: sk
sync:
  max_retries: 5
  non_atomic: true
watcher:
  enabled: true
  interval: 1m
  contexts: [paysite, private_gallery]
  auto_push: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "censor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "nudenet", cfg.Analyzer.Type)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, syncer.DefaultConfig(), cfg.Sync.Syncer())
	assert.True(t, cfg.Resilience.Breaker)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, dbsql.DialectPostgres, cfg.Database.Dialect)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "censor:", cfg.Redis.KeyPrefix)

	sc := cfg.Sync.Syncer()
	assert.Equal(t, 5, sc.MaxRetries)
	assert.True(t, sc.NonAtomic)
	assert.Equal(t, 10*time.Second, sc.AttemptTimeout)

	contexts, err := cfg.Watcher.UsageContexts()
	require.NoError(t, err)
	assert.Equal(t, []censor.UsageContext{censor.ContextPaysite, censor.ContextStore}, contexts)
	assert.Equal(t, time.Minute, cfg.Watcher.Interval)

	logger := cfg.Log.Logger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CENSOR_SERVER_ADDR", ":7000")
	t.Setenv("CENSOR_SYNC_MAX_RETRIES", "9")
	t.Setenv("CENSOR_REDIS_ENABLED", "false")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 9, cfg.Sync.MaxRetries)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown driver", "database:\n  driver: oracle\n", "database.driver"},
		{"missing dsn", "database:\n  driver: mysql\n", "database.dsn"},
		{"unknown analyzer", "analyzer:\n  type: rekognition\n", "analyzer.type"},
		{"unknown secondary", "analyzer:\n  secondary:\n    type: rekognition\n", "analyzer.secondary.type"},
		{"same secondary", "analyzer:\n  type: aliyun\n  secondary:\n    type: aliyun\n", "analyzer.secondary.type"},
		{"target differs from client name", "analyzer:\n  type: nudenet\n  target: prod\n  settings:\n    name: nudenet\n", "analyzer.target"},
		{"secondary target differs", "analyzer:\n  type: aliyun\n  secondary:\n    type: nudenet\n    target: prod\n    settings:\n      name: staging\n", "analyzer.secondary.target"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad context", "watcher:\n  contexts: [gallery]\n", "watcher.contexts[0]"},
		{"zero interval", "watcher:\n  enabled: true\n  interval: 0s\n", "watcher.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			var ce *censor.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestAnalyzerTarget(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"target names the client", "analyzer:\n  type: nudenet\n  target: prod\n", "prod"},
		{"matching name", "analyzer:\n  type: nudenet\n  target: prod\n  settings:\n    name: prod\n", "prod"},
		{"name only", "analyzer:\n  type: nudenet\n  settings:\n    name: edge\n", "edge"},
		{"defaults", "analyzer:\n  type: nudenet\n", nudenet.ProviderName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.NoError(t, err)

			nc, err := cfg.Analyzer.Nudenet()
			require.NoError(t, err)
			c, err := nudenet.New(nc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Name())
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestDecodeSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	nc := nudenet.DefaultConfig()
	require.NoError(t, cfg.Analyzer.DecodeSettings(&nc))
	assert.Equal(t, "http://nudenet:5000", nc.BaseURL)
	assert.Equal(t, 2, nc.ModelID)
	assert.Equal(t, 45*time.Second, nc.Timeout)
	assert.Equal(t, nudenet.ProviderName, nc.Name)

	require.NotNil(t, cfg.Analyzer.Secondary)
	assert.Equal(t, "aliyun", cfg.Analyzer.Secondary.Type)
	sc := aliyun.DefaultConfig()
	require.NoError(t, cfg.Analyzer.Secondary.DecodeSettings(&sc))
	assert.Equal(t, "sk", sc.AccessKeySecret)

	ac := aliyun.DefaultConfig()
	settings := AnalyzerConfig{Settings: map[string]any{
		"access_key_id":     "ak",
		"access_key_secret": "sk",
		"service":           "baselineCheck_pro",
	}}
	require.NoError(t, settings.DecodeSettings(&ac))
	assert.Equal(t, "ak", ac.AccessKeyID)
	assert.Equal(t, "cn-shanghai", ac.Region)
	assert.Equal(t, "baselineCheck_pro", ac.Service)
}

func TestResilient(t *testing.T) {
	r := ResilienceConfig{Retry: true, MaxRetries: 2, LogCalls: true}
	rc := r.Resilient(nil)
	assert.True(t, rc.EnableRetry)
	assert.False(t, rc.EnableLogging)
	assert.Equal(t, 2, rc.MaxRetries)
}
