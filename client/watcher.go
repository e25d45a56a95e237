package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	censor "github.com/phoenix4ge/censor"
)

// WatcherConfig configures the drift watcher.
type WatcherConfig struct {
	// Interval is how often to compare local and remote configuration.
	Interval time.Duration

	// Contexts is the list of usage contexts to watch. Empty watches all.
	Contexts []censor.UsageContext

	// AutoPush pushes the local model when drift is found. Otherwise drift
	// is only reported.
	AutoPush bool

	// Workers is the number of contexts checked concurrently.
	Workers int
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval: 5 * time.Minute,
		Contexts: censor.UsageContexts(),
		Workers:  3,
	}
}

// DriftWatcher periodically pulls the remote configuration of every watched
// context and reports drift through the client's hooks.
type DriftWatcher struct {
	client *Client
	config WatcherConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log logrus.FieldLogger
}

// NewDriftWatcher creates a new drift watcher.
func NewDriftWatcher(client *Client, config WatcherConfig) *DriftWatcher {
	def := DefaultWatcherConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if len(config.Contexts) == 0 {
		config.Contexts = def.Contexts
	}

	return &DriftWatcher{
		client: client,
		config: config,
		log:    client.log.WithField("component", "drift_watcher"),
	}
}

// Start starts the watcher. The first check runs immediately.
func (w *DriftWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.WithFields(logrus.Fields{
		"contexts":  w.config.Contexts,
		"interval":  w.config.Interval.String(),
		"auto_push": w.config.AutoPush,
	}).Info("drift watcher started")
}

// Stop stops the watcher and waits for the running check to finish.
func (w *DriftWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("drift watcher stopped")
}

func (w *DriftWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *DriftWatcher) check(ctx context.Context) {
	drift, err := w.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("drift check failed")
	}
	if n := countReports(drift); n > 0 {
		w.log.WithField("reports", n).Info("drift check found divergent contexts")
	}
}

// RunOnce checks every watched context once and returns the drift found per
// context. A failing context does not stop the others; the first error is
// returned.
func (w *DriftWatcher) RunOnce(ctx context.Context) (map[censor.UsageContext][]censor.DriftReport, error) {
	var (
		mu  sync.Mutex
		out = make(map[censor.UsageContext][]censor.DriftReport)
		g   errgroup.Group
	)
	g.SetLimit(w.config.Workers)

	for _, uc := range w.config.Contexts {
		g.Go(func() error {
			res, err := w.client.reconcile(ctx, uc, sourceWatcher, w.config.AutoPush)
			if drift := res.Drift(); len(drift) > 0 {
				mu.Lock()
				out[uc] = drift
				mu.Unlock()
			}
			if err != nil {
				return fmt.Errorf("watch %s: %w", uc, err)
			}
			return nil
		})
	}
	return out, g.Wait()
}

func countReports(m map[censor.UsageContext][]censor.DriftReport) int {
	n := 0
	for _, r := range m {
		n += len(r)
	}
	return n
}
