package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/phoenix4ge/censor/client"
	"github.com/phoenix4ge/censor/config"
	"github.com/phoenix4ge/censor/hooks"
	"github.com/phoenix4ge/censor/metrics"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/providers/aliyun"
	"github.com/phoenix4ge/censor/providers/huawei"
	"github.com/phoenix4ge/censor/providers/nudenet"
	"github.com/phoenix4ge/censor/providers/tencent"
	"github.com/phoenix4ge/censor/server"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/store/memory"
	rediscache "github.com/phoenix4ge/censor/store/redis"
	dbsql "github.com/phoenix4ge/censor/store/sql"
)

func main() {
	configPath := flag.String("config", os.Getenv("CENSOR_CONFIG"), "config file or directory")
	flag.Parse()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := cfg.Log.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	defer st.Close()

	opts := client.DefaultOptions()
	opts.Store = st
	opts.Sync = cfg.Sync.Syncer()
	opts.Logger = logger

	apiLogger := providers.NewStandardLogger(logger, providers.DefaultLoggerConfig())
	resilience := cfg.Resilience.Resilient(apiLogger)

	analyzers := []config.AnalyzerConfig{cfg.Analyzer}
	if cfg.Analyzer.Secondary != nil {
		analyzers = append(analyzers, *cfg.Analyzer.Secondary)
	}
	for i, ac := range analyzers {
		a, err := newAnalyzer(ac)
		if err != nil {
			logger.Fatalf("failed to initialize %s analyzer: %v", ac.Type, err)
		}
		if nc, ok := a.(*nudenet.Client); ok && opts.Remote == nil {
			opts.Remote = nc
			opts.Target = nc.Name()
		}
		opts.Analyzers = append(opts.Analyzers, providers.NewResilientAnalyzer(a, resilience))
		if i == 0 {
			opts.Pipeline.Primary = a.Name()
		} else {
			opts.Pipeline.Secondary = a.Name()
		}
	}

	chain := hooks.ChainHooks{hooks.NewLogHooks(logger)}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		m := metrics.New(metrics.Config{
			Namespace:     cfg.Metrics.Namespace,
			EnableProcess: cfg.Metrics.EnableProcess,
		})
		chain = append(chain, m)
		registry = m.Registry()
	}
	opts.Hooks = chain

	svc, err := client.New(opts)
	if err != nil {
		logger.Fatalf("failed to initialize client: %v", err)
	}

	if cfg.Watcher.Enabled {
		if opts.Remote == nil {
			logger.Warn("drift watcher enabled but no configurable analyzer; watcher not started")
		} else {
			contexts, _ := cfg.Watcher.UsageContexts()
			w := client.NewDriftWatcher(svc, client.WatcherConfig{
				Interval: cfg.Watcher.Interval,
				Contexts: contexts,
				AutoPush: cfg.Watcher.AutoPush,
			})
			w.Start(ctx)
			defer w.Stop()
		}
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Server.Addr
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	srvCfg.MetricsPath = cfg.Metrics.Path
	srvCfg.Registry = registry
	srv := server.New(svc, srvCfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("http server stopped")
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (store.Store, error) {
	var st store.Store
	if cfg.Database.Driver == "memory" {
		st = memory.New()
	} else {
		sqlStore, err := dbsql.New(cfg.Database.Config)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := sqlStore.Migrate(ctx); err != nil {
				sqlStore.Close()
				return nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		st = sqlStore
	}

	if cfg.Redis.Enabled {
		rdb := rediscache.NewClient(cfg.Redis.Config)
		st = rediscache.New(st, rdb, cfg.Redis.Config).WithLogger(logger)
	}

	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func newAnalyzer(ac config.AnalyzerConfig) (providers.Analyzer, error) {
	switch ac.Type {
	case "nudenet":
		c, err := ac.Nudenet()
		if err != nil {
			return nil, err
		}
		return nudenet.New(c)
	case "aliyun":
		c := aliyun.DefaultConfig()
		if err := ac.DecodeSettings(&c); err != nil {
			return nil, err
		}
		return aliyun.New(c)
	case "tencent":
		c := tencent.DefaultConfig()
		if err := ac.DecodeSettings(&c); err != nil {
			return nil, err
		}
		return tencent.New(c)
	case "huawei":
		c := huawei.DefaultConfig()
		if err := ac.DecodeSettings(&c); err != nil {
			return nil, err
		}
		return huawei.New(c)
	}
	return nil, fmt.Errorf("unknown analyzer %q", ac.Type)
}
