// Package censor provides the content-safety configuration and filtering
// layer that sits between a platform's moderation settings and a remote
// image analyzer. It translates business-facing thresholds into the
// analyzer's parameter space, filters detections per usage context, and
// keeps both configuration stores in sync.
package censor

import "strings"

// UsageContext is the business profile a moderation request runs under.
type UsageContext string

const (
	ContextPublicSite UsageContext = "public_site"
	ContextPaysite    UsageContext = "paysite"
	ContextStore      UsageContext = "store"
)

// UsageContexts returns all known usage contexts in a fixed order.
func UsageContexts() []UsageContext {
	return []UsageContext{ContextPublicSite, ContextPaysite, ContextStore}
}

// Valid reports whether the context is one of the known profiles.
func (c UsageContext) Valid() bool {
	switch c {
	case ContextPublicSite, ContextPaysite, ContextStore:
		return true
	}
	return false
}

// ParseUsageContext parses a context identifier. The legacy gallery names
// used by older analyzer builds are accepted as aliases.
func ParseUsageContext(s string) (UsageContext, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public_site", "public_gallery":
		return ContextPublicSite, nil
	case "paysite", "paysite_content":
		return ContextPaysite, nil
	case "store", "private_gallery":
		return ContextStore, nil
	}
	return "", NewConfigurationError("context", "unknown usage context "+s)
}

// Detection category names.
const (
	CategoryBreast           = "breast_detection"
	CategoryGenitalia        = "genitalia_detection"
	CategoryButtocks         = "buttocks_detection"
	CategoryAnus             = "anus_detection"
	CategoryFace             = "face_detection"
	CategoryChild            = "child_detection"
	CategoryAgeEstimation    = "age_estimation"
	CategoryImageDescription = "image_description"
)

// Direction is the direction of a synchronization.
type Direction string

const (
	DirectionPush Direction = "push" // local -> remote
	DirectionPull Direction = "pull" // remote -> local
)

// SyncStatus is the final status of a synchronization.
type SyncStatus string

const (
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
)

// DriftKind classifies a single drift entry.
type DriftKind string

const (
	DriftMissingLocal  DriftKind = "missing_local"  // remote has it, local does not
	DriftMissingRemote DriftKind = "missing_remote" // local has it, remote does not
	DriftMismatched    DriftKind = "mismatched"
)

// ModerationStatus is the outcome of a moderation decision.
type ModerationStatus string

const (
	StatusAutoApproved     ModerationStatus = "auto_approved"
	StatusFlaggedForReview ModerationStatus = "flagged_for_review"
	StatusAutoRejected     ModerationStatus = "auto_rejected"
)

// RiskLevel represents the severity of an assessed image.
type RiskLevel int

const (
	RiskMinimal RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the string representation of risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskMinimal:
		return "minimal"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Default configuration values
const (
	DefaultMaxRetries   = 3
	DefaultAgeThreshold = 18
	MaxDetectionScore   = 100.0
	DefaultRiskScoreCap = 100.0
)
