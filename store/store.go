// Package store provides the data storage interface for the censor system.
package store

import (
	"context"
	"errors"
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// ErrNotFound is returned for a missing audit record. A missing model is
// censor.ErrModelNotFound.
var ErrNotFound = errors.New("censor: record not found")

// Store defines the interface for censor data storage.
type Store interface {
	// Threshold model operations, one current model per usage context.
	GetModel(ctx context.Context, uc censor.UsageContext) (*ModelRecord, error)
	SaveModel(ctx context.Context, uc censor.UsageContext, model threshold.Model, actor string) (*ModelRecord, error)

	// Sync audit operations
	SaveSyncRecord(ctx context.Context, rec SyncRecord) error
	ListSyncRecords(ctx context.Context, filter SyncFilter) ([]SyncRecord, error)

	// Moderation audit operations
	SaveModeration(ctx context.Context, rec ModerationRecord) error
	GetModeration(ctx context.Context, requestID string) (*ModerationRecord, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// ModelRecord is a stored threshold model. Version increases by one on
// every save.
type ModelRecord struct {
	Context   censor.UsageContext `json:"context"`
	Model     threshold.Model     `json:"model"`
	Version   int64               `json:"version"`
	UpdatedBy string              `json:"updated_by,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SyncRecord is the audit record of one synchronization.
type SyncRecord struct {
	ID         string               `json:"id"`
	Direction  censor.Direction     `json:"direction"`
	Target     string               `json:"target"`
	Context    censor.UsageContext  `json:"context"`
	Status     censor.SyncStatus    `json:"status"`
	Attempts   int                  `json:"attempts"`
	RolledBack bool                 `json:"rolled_back"`
	Drift      []censor.DriftReport `json:"drift,omitempty"`
	Error      string               `json:"error,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// SyncFilter selects sync records. Zero fields match everything.
type SyncFilter struct {
	Target  string
	Context censor.UsageContext
	Since   *time.Time
	Limit   int
}

// Matches reports whether a record passes the filter, ignoring Limit.
func (f SyncFilter) Matches(rec SyncRecord) bool {
	if f.Target != "" && rec.Target != f.Target {
		return false
	}
	if f.Context != "" && rec.Context != f.Context {
		return false
	}
	if f.Since != nil && rec.StartedAt.Before(*f.Since) {
		return false
	}
	return true
}

// ModerationRecord is the audit record of one moderated image.
type ModerationRecord struct {
	RequestID     string                   `json:"request_id"`
	Provider      string                   `json:"provider"`
	Context       censor.UsageContext      `json:"context"`
	ConfigVersion string                   `json:"config_version,omitempty"`
	Retained      []censor.DetectionRecord `json:"retained"`
	Dropped       int                      `json:"dropped"`
	Assessment    censor.Assessment        `json:"assessment"`
	CreatedAt     time.Time                `json:"created_at"`
}
