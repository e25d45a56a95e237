package hooks

import (
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// SyncCompletedEvent is emitted after every push or pull, successful or not.
type SyncCompletedEvent struct {
	SyncID    string              `json:"sync_id"`
	Direction censor.Direction    `json:"direction"`
	Target    string              `json:"target"`
	Context   censor.UsageContext `json:"context"`
	Status    censor.SyncStatus   `json:"status"`

	// Attempts counts remote calls including retries.
	Attempts   int  `json:"attempts"`
	RolledBack bool `json:"rolled_back,omitempty"`
	DriftCount int  `json:"drift_count,omitempty"`

	// Error is the failure message; empty on success.
	Error string `json:"error,omitempty"`

	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// DriftDetectedEvent is emitted when local and remote configuration diverge.
type DriftDetectedEvent struct {
	Target  string               `json:"target"`
	Context censor.UsageContext  `json:"context"`
	Reports []censor.DriftReport `json:"reports"`

	// Source names what found the drift: "watcher", "reconcile", "pull" or
	// "push".
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// UnknownCategoryEvent is emitted when detections or a remote configuration
// name categories the local model has never seen.
type UnknownCategoryEvent struct {
	Context    censor.UsageContext `json:"context"`
	Categories []string            `json:"categories"`
	Source     string              `json:"source"`
	Timestamp  time.Time           `json:"timestamp"`
}

// ProfileOverrideEvent is emitted for every override that re-enabled a
// profile-suppressed category during a moderation or push.
type ProfileOverrideEvent struct {
	Context   censor.UsageContext       `json:"context"`
	Override  threshold.ProfileOverride `json:"override"`
	RequestID string                    `json:"request_id,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// ModeratedEvent is emitted when an image moderation completes.
type ModeratedEvent struct {
	RequestID string              `json:"request_id"`
	Provider  string              `json:"provider"`
	Context   censor.UsageContext `json:"context"`

	Assessment censor.Assessment `json:"assessment"`

	// Retained and Dropped count detections after context filtering.
	Retained int `json:"retained"`
	Dropped  int `json:"dropped"`

	Timestamp time.Time `json:"timestamp"`
}
