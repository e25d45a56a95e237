// Package config loads the censord configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/providers/nudenet"
	dbsql "github.com/phoenix4ge/censor/store/sql"
	rediscache "github.com/phoenix4ge/censor/store/redis"
	"github.com/phoenix4ge/censor/syncer"
)

// EnvPrefix prefixes every environment override, e.g. CENSOR_SERVER_ADDR.
const EnvPrefix = "CENSOR"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

type DatabaseConfig struct {
	// Driver is "memory" or one of the SQL dialects.
	Driver string `mapstructure:"driver"`

	dbsql.Config `mapstructure:",squash"`

	Migrate bool `mapstructure:"migrate"`
}

type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	rediscache.Config `mapstructure:",squash"`
}

// AnalyzerConfig selects the analyzer. Settings are decoded into the
// provider's own config struct.
type AnalyzerConfig struct {
	Type     string         `mapstructure:"type"`
	Target   string         `mapstructure:"target"`
	Settings map[string]any `mapstructure:"settings"`

	// Secondary is asked for a second opinion on flagged images and when
	// the primary analyzer fails.
	Secondary *AnalyzerConfig `mapstructure:"secondary"`
}

type ResilienceConfig struct {
	Retry              bool          `mapstructure:"retry"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Breaker            bool          `mapstructure:"breaker"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
	LogCalls           bool          `mapstructure:"log_calls"`
}

type SyncConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	JitterPercent   uint64        `mapstructure:"jitter_percent"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	RollbackTimeout time.Duration `mapstructure:"rollback_timeout"`
	NonAtomic       bool          `mapstructure:"non_atomic"`
}

type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Contexts []string      `mapstructure:"contexts"`

	// AutoPush pushes the local model when drift is found.
	AutoPush bool `mapstructure:"auto_push"`
}

type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	Namespace     string `mapstructure:"namespace"`
	EnableProcess bool   `mapstructure:"enable_process"`
}

func setDefaults(v *viper.Viper) {
	sc := syncer.DefaultConfig()
	rc := providers.DefaultResilientConfig()
	db := dbsql.DefaultConfig()
	rd := rediscache.DefaultConfig()

	defaults := map[string]any{
		"server.addr":             ":8080",
		"server.shutdown_timeout": 15 * time.Second,

		"log.level":  "info",
		"log.format": "json",

		"database.driver":            "memory",
		"database.dialect":           string(db.Dialect),
		"database.dsn":               "",
		"database.max_open_conns":    db.MaxOpenConns,
		"database.max_idle_conns":    db.MaxIdleConns,
		"database.conn_max_lifetime": db.ConnMaxLifetime,
		"database.migrate":           false,

		"redis.enabled":    false,
		"redis.addr":       rd.Addr,
		"redis.password":   "",
		"redis.db":         0,
		"redis.ttl":        rd.TTL,
		"redis.key_prefix": rd.KeyPrefix,

		"analyzer.type":   "nudenet",
		"analyzer.target": "",

		"resilience.retry":                rc.EnableRetry,
		"resilience.max_retries":          rc.MaxRetries,
		"resilience.initial_delay":        rc.InitialDelay,
		"resilience.max_delay":            rc.MaxDelay,
		"resilience.breaker":              rc.EnableBreaker,
		"resilience.breaker_failures":     rc.BreakerFailures,
		"resilience.breaker_timeout":      rc.BreakerTimeout,
		"resilience.breaker_max_requests": rc.BreakerMaxRequests,
		"resilience.log_calls":            rc.EnableLogging,

		"sync.max_retries":      sc.MaxRetries,
		"sync.initial_delay":    sc.InitialDelay,
		"sync.max_delay":        sc.MaxDelay,
		"sync.jitter_percent":   sc.JitterPercent,
		"sync.attempt_timeout":  sc.AttemptTimeout,
		"sync.rollback_timeout": sc.RollbackTimeout,
		"sync.non_atomic":       sc.NonAtomic,

		"watcher.enabled":   false,
		"watcher.interval":  5 * time.Minute,
		"watcher.contexts":  []string{"public_site", "paysite", "store"},
		"watcher.auto_push": false,

		"metrics.enabled":        true,
		"metrics.path":           "/metrics",
		"metrics.namespace":      "censor",
		"metrics.enable_process": true,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads the configuration. path may be a file or a directory holding
// censor.yaml; an empty path searches ./config and the working directory.
// A missing file is not an error: defaults and CENSOR_* variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("censor")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot type-check.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case string(dbsql.DialectMySQL), string(dbsql.DialectPostgres), string(dbsql.DialectTiDB):
		if c.Database.DSN == "" {
			return censor.NewConfigurationError("database.dsn", "required for driver "+c.Database.Driver)
		}
		c.Database.Dialect = dbsql.Dialect(c.Database.Driver)
	default:
		return censor.NewConfigurationError("database.driver", "unknown driver "+c.Database.Driver)
	}

	if !knownAnalyzer(c.Analyzer.Type) {
		return censor.NewConfigurationError("analyzer.type", "unknown analyzer "+c.Analyzer.Type)
	}
	if err := c.Analyzer.validateTarget("analyzer"); err != nil {
		return err
	}
	if sec := c.Analyzer.Secondary; sec != nil {
		if !knownAnalyzer(sec.Type) {
			return censor.NewConfigurationError("analyzer.secondary.type", "unknown analyzer "+sec.Type)
		}
		if sec.Type == c.Analyzer.Type {
			return censor.NewConfigurationError("analyzer.secondary.type", "must differ from analyzer.type")
		}
		if err := sec.validateTarget("analyzer.secondary"); err != nil {
			return err
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return censor.NewConfigurationError("log.level", err.Error())
	}
	if _, err := c.Watcher.UsageContexts(); err != nil {
		return err
	}
	if c.Watcher.Enabled && c.Watcher.Interval <= 0 {
		return censor.NewConfigurationError("watcher.interval", "must be positive")
	}
	return nil
}

func knownAnalyzer(t string) bool {
	switch t {
	case "nudenet", "aliyun", "tencent", "huawei":
		return true
	}
	return false
}

// DecodeSettings decodes the analyzer settings into out, which should hold
// the provider's defaults.
func (a AnalyzerConfig) DecodeSettings(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(a.Settings); err != nil {
		return censor.NewConfigurationError("analyzer.settings", err.Error())
	}
	return nil
}

// validateTarget rejects a sync target that disagrees with the nudenet
// client name: the client only answers for its own name.
func (a AnalyzerConfig) validateTarget(prefix string) error {
	if a.Type != "nudenet" || a.Target == "" {
		return nil
	}
	if name, ok := a.Settings["name"].(string); ok && name != "" && name != a.Target {
		return censor.NewConfigurationError(prefix+".target",
			fmt.Sprintf("target %q differs from settings.name %q", a.Target, name))
	}
	return nil
}

// Nudenet decodes the settings of a nudenet analyzer. A configured target
// becomes the client name so that syncs addressed to it are served.
func (a AnalyzerConfig) Nudenet() (nudenet.Config, error) {
	c := nudenet.DefaultConfig()
	if err := a.DecodeSettings(&c); err != nil {
		return c, err
	}
	if a.Target != "" {
		c.Name = a.Target
	}
	return c, nil
}

// Syncer returns the synchronizer configuration.
func (s SyncConfig) Syncer() syncer.Config {
	return syncer.Config{
		MaxRetries:      s.MaxRetries,
		InitialDelay:    s.InitialDelay,
		MaxDelay:        s.MaxDelay,
		JitterPercent:   s.JitterPercent,
		AttemptTimeout:  s.AttemptTimeout,
		RollbackTimeout: s.RollbackTimeout,
		NonAtomic:       s.NonAtomic,
	}
}

// Resilient returns the analyzer resilience configuration.
func (r ResilienceConfig) Resilient(logger providers.APILogger) providers.ResilientConfig {
	return providers.ResilientConfig{
		MaxRetries:         r.MaxRetries,
		InitialDelay:       r.InitialDelay,
		MaxDelay:           r.MaxDelay,
		BreakerFailures:    r.BreakerFailures,
		BreakerTimeout:     r.BreakerTimeout,
		BreakerMaxRequests: r.BreakerMaxRequests,
		Logger:             logger,
		EnableRetry:        r.Retry,
		EnableBreaker:      r.Breaker,
		EnableLogging:      r.LogCalls && logger != nil,
	}
}

// UsageContexts parses the watched contexts.
func (w WatcherConfig) UsageContexts() ([]censor.UsageContext, error) {
	out := make([]censor.UsageContext, 0, len(w.Contexts))
	for i, s := range w.Contexts {
		uc, err := censor.ParseUsageContext(s)
		if err != nil {
			return nil, censor.NewConfigurationError(fmt.Sprintf("watcher.contexts[%d]", i), err.Error())
		}
		out = append(out, uc)
	}
	return out, nil
}

// Logger builds the process logger.
func (l LogConfig) Logger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(l.Level); err == nil {
		logger.SetLevel(level)
	}
	if l.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
