package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/hooks"
	"github.com/phoenix4ge/censor/threshold"
)

func TestMetrics_Sync(t *testing.T) {
	m := New(Config{Namespace: "test"})
	ctx := context.Background()

	require.NoError(t, m.OnSyncCompleted(ctx, hooks.SyncCompletedEvent{
		Direction: censor.DirectionPush, Target: "nudenet", Context: censor.ContextStore,
		Status: censor.SyncSucceeded, Attempts: 1, Duration: 40 * time.Millisecond,
	}))
	require.NoError(t, m.OnSyncCompleted(ctx, hooks.SyncCompletedEvent{
		Direction: censor.DirectionPush, Target: "nudenet", Context: censor.ContextStore,
		Status: censor.SyncFailed, Attempts: 4, RolledBack: true,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncTotal.WithLabelValues("store", "push", "nudenet", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncTotal.WithLabelValues("store", "push", "nudenet", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRollbacks.WithLabelValues("nudenet")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SyncAttempts))
}

func TestMetrics_DriftAndAudit(t *testing.T) {
	m := New(Config{Namespace: "test"})
	ctx := context.Background()

	require.NoError(t, m.OnDriftDetected(ctx, hooks.DriftDetectedEvent{
		Context: censor.ContextPaysite,
		Reports: []censor.DriftReport{
			{Field: "category_thresholds", Kind: censor.DriftMismatched},
			{Field: "category_thresholds", Kind: censor.DriftMismatched},
			{Field: "components", Kind: censor.DriftMissingRemote},
		},
	}))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DriftEntries.WithLabelValues("paysite", "category_thresholds", "mismatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftEntries.WithLabelValues("paysite", "components", "missing_remote")))

	require.NoError(t, m.OnUnknownCategory(ctx, hooks.UnknownCategoryEvent{
		Context: censor.ContextStore, Source: "filter", Categories: []string{"tattoo_detection", "weapon_detection"},
	}))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnknownTotal.WithLabelValues("store", "filter")))

	require.NoError(t, m.OnProfileOverride(ctx, hooks.ProfileOverrideEvent{
		Context:  censor.ContextPaysite,
		Override: threshold.ProfileOverride{Category: censor.CategoryGenitalia, Actor: "ops"},
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverrideTotal.WithLabelValues("paysite", censor.CategoryGenitalia)))
}

func TestMetrics_Moderated(t *testing.T) {
	m := New(Config{Namespace: "test"})

	require.NoError(t, m.OnModerated(context.Background(), hooks.ModeratedEvent{
		Provider: "nudenet",
		Context:  censor.ContextPublicSite,
		Assessment: censor.Assessment{
			RiskScore: 72,
			Status:    censor.StatusAutoRejected,
		},
		Retained: 2,
		Dropped:  3,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModeratedTotal.WithLabelValues("public_site", "nudenet", "auto_rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DroppedTotal.WithLabelValues("public_site")))
}

func TestNew_DefaultsAndRegistry(t *testing.T) {
	m := New(Config{EnableProcess: false})
	m.SyncTotal.WithLabelValues("store", "pull", "nudenet", "succeeded").Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "censor_sync_total")
}
