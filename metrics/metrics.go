// Package metrics exposes censor events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/phoenix4ge/censor/hooks"
)

var (
	contextLabels = []string{"context"}

	// Sync latency buckets in milliseconds. A push is three remote calls plus
	// retries, so the tail goes well past a single call timeout.
	syncBuckets = []float64{
		10, 25, 50, 100, 250, // fast remote
		500, 1000, 2500, 5000, // retries
		10000, 30000, 60000, // timeouts
	}
)

// Config selects optional metric families.
type Config struct {
	Namespace string

	// EnableProcess registers the process collector.
	EnableProcess bool
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{Namespace: "censor", EnableProcess: true}
}

// Metrics records censor events. It implements hooks.Hooks so it can sit in
// a hooks.ChainHooks next to audit hooks.
type Metrics struct {
	registry *prometheus.Registry

	SyncTotal      *prometheus.CounterVec
	SyncAttempts   *prometheus.HistogramVec
	SyncLatency    *prometheus.HistogramVec
	SyncRollbacks  *prometheus.CounterVec
	DriftEntries   *prometheus.CounterVec
	UnknownTotal   *prometheus.CounterVec
	OverrideTotal  *prometheus.CounterVec
	ModeratedTotal *prometheus.CounterVec
	RiskScore      *prometheus.HistogramVec
	DroppedTotal   *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	reg := prometheus.NewRegistry()
	if cfg.EnableProcess {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &Metrics{
		registry: reg,
		SyncTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sync_total",
			Help:      "Total number of configuration synchronizations",
		}, append(contextLabels, "direction", "target", "status")),
		SyncAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "sync_attempts",
			Help:      "Remote calls per synchronization, including retries",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}, []string{"direction"}),
		SyncLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "sync_latency_ms",
			Help:      "Synchronization latency in milliseconds",
			Buckets:   syncBuckets,
		}, []string{"direction"}),
		SyncRollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sync_rollbacks_total",
			Help:      "Failed pushes rolled back to the previous remote configuration",
		}, []string{"target"}),
		DriftEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "drift_entries_total",
			Help:      "Drift entries found between local and remote configuration",
		}, append(contextLabels, "field", "kind")),
		UnknownTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "unknown_categories_total",
			Help:      "Categories seen that the local model does not know",
		}, append(contextLabels, "source")),
		OverrideTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "profile_overrides_total",
			Help:      "Profile overrides in effect during a request",
		}, append(contextLabels, "category")),
		ModeratedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "moderated_total",
			Help:      "Images moderated, by final status",
		}, append(contextLabels, "provider", "status")),
		RiskScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "risk_score",
			Help:      "Final risk score of moderated images",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, contextLabels),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "filtered_detections_total",
			Help:      "Detections dropped by context filtering",
		}, contextLabels),
	}
}

// Registry returns the registry the metrics are registered on, for use
// with promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnSyncCompleted records the synchronization.
func (m *Metrics) OnSyncCompleted(ctx context.Context, e hooks.SyncCompletedEvent) error {
	m.SyncTotal.WithLabelValues(string(e.Context), string(e.Direction), e.Target, string(e.Status)).Inc()
	m.SyncAttempts.WithLabelValues(string(e.Direction)).Observe(float64(e.Attempts))
	m.SyncLatency.WithLabelValues(string(e.Direction)).Observe(float64(e.Duration.Milliseconds()))
	if e.RolledBack {
		m.SyncRollbacks.WithLabelValues(e.Target).Inc()
	}
	return nil
}

// OnDriftDetected counts drift entries by field and kind.
func (m *Metrics) OnDriftDetected(ctx context.Context, e hooks.DriftDetectedEvent) error {
	for _, r := range e.Reports {
		m.DriftEntries.WithLabelValues(string(e.Context), r.Field, string(r.Kind)).Inc()
	}
	return nil
}

// OnUnknownCategory counts unknown categories. Category names are not used
// as labels since they come from outside.
func (m *Metrics) OnUnknownCategory(ctx context.Context, e hooks.UnknownCategoryEvent) error {
	m.UnknownTotal.WithLabelValues(string(e.Context), e.Source).Add(float64(len(e.Categories)))
	return nil
}

// OnProfileOverride counts overrides in effect.
func (m *Metrics) OnProfileOverride(ctx context.Context, e hooks.ProfileOverrideEvent) error {
	m.OverrideTotal.WithLabelValues(string(e.Context), e.Override.Category).Inc()
	return nil
}

// OnModerated records the moderation decision.
func (m *Metrics) OnModerated(ctx context.Context, e hooks.ModeratedEvent) error {
	uc := string(e.Context)
	m.ModeratedTotal.WithLabelValues(uc, e.Provider, string(e.Assessment.Status)).Inc()
	m.RiskScore.WithLabelValues(uc).Observe(e.Assessment.RiskScore)
	if e.Dropped > 0 {
		m.DroppedTotal.WithLabelValues(uc).Add(float64(e.Dropped))
	}
	return nil
}

var _ hooks.Hooks = (*Metrics)(nil)
