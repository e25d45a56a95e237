// Package hooks provides the hook interface for handling censor events.
package hooks

import (
	"context"

	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
)

// Hooks defines the interface for handling censor events.
// Implement this interface to audit synchronizations and moderation results.
type Hooks interface {
	// OnSyncCompleted is called after every push or pull.
	OnSyncCompleted(ctx context.Context, e SyncCompletedEvent) error

	// OnDriftDetected is called when local and remote configuration diverge.
	OnDriftDetected(ctx context.Context, e DriftDetectedEvent) error

	// OnUnknownCategory is called when categories unknown to the local model
	// show up.
	OnUnknownCategory(ctx context.Context, e UnknownCategoryEvent) error

	// OnProfileOverride is called when an override re-enables a suppressed
	// category.
	OnProfileOverride(ctx context.Context, e ProfileOverrideEvent) error

	// OnModerated is called when an image moderation completes.
	OnModerated(ctx context.Context, e ModeratedEvent) error
}

// NopHooks is a no-op implementation of Hooks.
type NopHooks struct{}

// OnSyncCompleted does nothing.
func (NopHooks) OnSyncCompleted(ctx context.Context, e SyncCompletedEvent) error { return nil }

// OnDriftDetected does nothing.
func (NopHooks) OnDriftDetected(ctx context.Context, e DriftDetectedEvent) error { return nil }

// OnUnknownCategory does nothing.
func (NopHooks) OnUnknownCategory(ctx context.Context, e UnknownCategoryEvent) error { return nil }

// OnProfileOverride does nothing.
func (NopHooks) OnProfileOverride(ctx context.Context, e ProfileOverrideEvent) error { return nil }

// OnModerated does nothing.
func (NopHooks) OnModerated(ctx context.Context, e ModeratedEvent) error { return nil }

// Ensure NopHooks implements Hooks.
var _ Hooks = NopHooks{}

// ChainHooks chains multiple Hooks implementations. The first error stops
// the chain.
type ChainHooks []Hooks

// OnSyncCompleted calls all hooks in order.
func (ch ChainHooks) OnSyncCompleted(ctx context.Context, e SyncCompletedEvent) error {
	for _, h := range ch {
		if err := h.OnSyncCompleted(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnDriftDetected calls all hooks in order.
func (ch ChainHooks) OnDriftDetected(ctx context.Context, e DriftDetectedEvent) error {
	for _, h := range ch {
		if err := h.OnDriftDetected(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnUnknownCategory calls all hooks in order.
func (ch ChainHooks) OnUnknownCategory(ctx context.Context, e UnknownCategoryEvent) error {
	for _, h := range ch {
		if err := h.OnUnknownCategory(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnProfileOverride calls all hooks in order.
func (ch ChainHooks) OnProfileOverride(ctx context.Context, e ProfileOverrideEvent) error {
	for _, h := range ch {
		if err := h.OnProfileOverride(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnModerated calls all hooks in order.
func (ch ChainHooks) OnModerated(ctx context.Context, e ModeratedEvent) error {
	for _, h := range ch {
		if err := h.OnModerated(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FuncHooks allows using functions as hooks.
type FuncHooks struct {
	OnSyncCompletedFunc   func(ctx context.Context, e SyncCompletedEvent) error
	OnDriftDetectedFunc   func(ctx context.Context, e DriftDetectedEvent) error
	OnUnknownCategoryFunc func(ctx context.Context, e UnknownCategoryEvent) error
	OnProfileOverrideFunc func(ctx context.Context, e ProfileOverrideEvent) error
	OnModeratedFunc       func(ctx context.Context, e ModeratedEvent) error
}

// OnSyncCompleted calls the function if set.
func (fh FuncHooks) OnSyncCompleted(ctx context.Context, e SyncCompletedEvent) error {
	if fh.OnSyncCompletedFunc != nil {
		return fh.OnSyncCompletedFunc(ctx, e)
	}
	return nil
}

// OnDriftDetected calls the function if set.
func (fh FuncHooks) OnDriftDetected(ctx context.Context, e DriftDetectedEvent) error {
	if fh.OnDriftDetectedFunc != nil {
		return fh.OnDriftDetectedFunc(ctx, e)
	}
	return nil
}

// OnUnknownCategory calls the function if set.
func (fh FuncHooks) OnUnknownCategory(ctx context.Context, e UnknownCategoryEvent) error {
	if fh.OnUnknownCategoryFunc != nil {
		return fh.OnUnknownCategoryFunc(ctx, e)
	}
	return nil
}

// OnProfileOverride calls the function if set.
func (fh FuncHooks) OnProfileOverride(ctx context.Context, e ProfileOverrideEvent) error {
	if fh.OnProfileOverrideFunc != nil {
		return fh.OnProfileOverrideFunc(ctx, e)
	}
	return nil
}

// OnModerated calls the function if set.
func (fh FuncHooks) OnModerated(ctx context.Context, e ModeratedEvent) error {
	if fh.OnModeratedFunc != nil {
		return fh.OnModeratedFunc(ctx, e)
	}
	return nil
}

// LogHooks writes every event as a structured log entry.
type LogHooks struct {
	Logger logrus.FieldLogger
}

// NewLogHooks creates LogHooks writing to l, or to the standard logrus
// logger when l is nil.
func NewLogHooks(l logrus.FieldLogger) *LogHooks {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogHooks{Logger: l.WithField("component", "censor")}
}

// OnSyncCompleted logs the outcome; failures at warning level.
func (h *LogHooks) OnSyncCompleted(ctx context.Context, e SyncCompletedEvent) error {
	entry := h.Logger.WithFields(logrus.Fields{
		"sync_id":     e.SyncID,
		"direction":   e.Direction,
		"target":      e.Target,
		"context":     e.Context,
		"attempts":    e.Attempts,
		"duration_ms": e.Duration.Milliseconds(),
	})
	if e.Status != censor.SyncSucceeded {
		entry.WithFields(logrus.Fields{
			"rolled_back": e.RolledBack,
			"drift_count": e.DriftCount,
			"error":       e.Error,
		}).Warn("config sync failed")
		return nil
	}
	entry.Info("config sync succeeded")
	return nil
}

// OnDriftDetected logs one entry per drift report.
func (h *LogHooks) OnDriftDetected(ctx context.Context, e DriftDetectedEvent) error {
	for _, r := range e.Reports {
		h.Logger.WithFields(logrus.Fields{
			"target":   e.Target,
			"context":  e.Context,
			"source":   e.Source,
			"field":    r.Field,
			"category": r.Category,
			"kind":     r.Kind,
			"local":    r.LocalValue,
			"remote":   r.RemoteValue,
		}).Warn("config drift detected")
	}
	return nil
}

// OnUnknownCategory logs the unknown categories.
func (h *LogHooks) OnUnknownCategory(ctx context.Context, e UnknownCategoryEvent) error {
	h.Logger.WithFields(logrus.Fields{
		"context":    e.Context,
		"source":     e.Source,
		"categories": e.Categories,
	}).Warn("unknown detection categories")
	return nil
}

// OnProfileOverride logs the override for audit.
func (h *LogHooks) OnProfileOverride(ctx context.Context, e ProfileOverrideEvent) error {
	h.Logger.WithFields(logrus.Fields{
		"context":    e.Context,
		"category":   e.Override.Category,
		"actor":      e.Override.Actor,
		"reason":     e.Override.Reason,
		"request_id": e.RequestID,
	}).Info("profile override in effect")
	return nil
}

// OnModerated logs the moderation decision.
func (h *LogHooks) OnModerated(ctx context.Context, e ModeratedEvent) error {
	h.Logger.WithFields(logrus.Fields{
		"request_id": e.RequestID,
		"provider":   e.Provider,
		"context":    e.Context,
		"status":     e.Assessment.Status,
		"risk_score": e.Assessment.RiskScore,
		"risk_level": e.Assessment.Level.String(),
		"retained":   e.Retained,
		"dropped":    e.Dropped,
	}).Info("image moderated")
	return nil
}

var _ Hooks = (*LogHooks)(nil)
