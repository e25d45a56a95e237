// Package client provides the censor service: image moderation under the
// local threshold model and synchronization of that model with the remote
// analyzer.
package client

import (
	"time"

	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/decision"
	"github.com/phoenix4ge/censor/hooks"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/syncer"
	"github.com/phoenix4ge/censor/threshold"
)

// Options configures the censor service.
type Options struct {
	// Store is the data storage backend (required).
	Store store.Store

	// Hooks receives the audit events.
	Hooks hooks.Hooks

	// Analyzers is the list of image moderation backends.
	Analyzers []providers.Analyzer

	// Pipeline selects the analyzers and when to ask the secondary one.
	Pipeline PipelineConfig

	// Remote is the analyzer's configuration API. Without it Push, Pull and
	// Reconcile return censor.ErrRemoteNotFound.
	Remote syncer.Remote

	// Target names the remote analyzer deployment.
	Target string

	// Sync configures the synchronizer.
	Sync syncer.Config

	// Decision configures the risk assessment.
	Decision decision.Config

	// AnalyzeTimeout bounds one analyzer call.
	AnalyzeTimeout time.Duration

	// RecordModerations stores a ModerationRecord for every image.
	RecordModerations bool

	Logger logrus.FieldLogger
	Clock  func() time.Time
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		Hooks:             hooks.NopHooks{},
		Pipeline:          PipelineConfig{Trigger: DefaultTriggerRule()},
		Target:            "default",
		Sync:              syncer.DefaultConfig(),
		Decision:          decision.DefaultConfig(),
		AnalyzeTimeout:    30 * time.Second,
		RecordModerations: true,
	}
}

// PipelineConfig configures the analyzer pipeline.
type PipelineConfig struct {
	// Primary is the primary analyzer name. Empty selects the first
	// configured analyzer.
	Primary string

	// Secondary is the secondary analyzer name (optional).
	Secondary string

	// Trigger defines when to invoke the secondary analyzer.
	Trigger TriggerRule
}

// TriggerRule defines when to trigger the secondary analyzer.
type TriggerRule struct {
	// OnStatuses triggers the secondary analyzer when the primary result
	// alone would end in one of these statuses.
	OnStatuses map[censor.ModerationStatus]bool

	// OnError falls back to the secondary analyzer when the primary fails.
	OnError bool
}

// DefaultTriggerRule asks for a second opinion on everything that is not
// approved outright.
func DefaultTriggerRule() TriggerRule {
	return TriggerRule{
		OnStatuses: map[censor.ModerationStatus]bool{
			censor.StatusFlaggedForReview: true,
			censor.StatusAutoRejected:     true,
		},
		OnError: true,
	}
}

// ShouldTrigger checks if the status should trigger the secondary analyzer.
func (tr TriggerRule) ShouldTrigger(status censor.ModerationStatus) bool {
	return tr.OnStatuses[status]
}

// ModerateInput is one image to moderate.
type ModerateInput struct {
	// RequestID identifies the request in audit records. Generated when
	// empty.
	RequestID string

	Context censor.UsageContext

	// Image holds the raw bytes; ImageURL is used when Image is empty.
	Image    []byte
	Filename string
	ImageURL string
}

// ModerateResult is the outcome of one moderation.
type ModerateResult struct {
	RequestID string
	Context   censor.UsageContext

	// Providers lists the analyzers whose detections were used.
	Providers []string

	// Retained are the detections that survived context filtering.
	Retained []censor.DetectionRecord
	Dropped  int

	Signals    censor.ChildSignals
	Assessment censor.Assessment

	// Unknown lists detection categories the model has no toggle for.
	Unknown []string

	// Overrides lists the overrides that re-enabled a suppressed category.
	Overrides []threshold.ProfileOverride

	// ModelVersion is the stored model version the image was judged under,
	// 0 for the context defaults.
	ModelVersion int64
}
