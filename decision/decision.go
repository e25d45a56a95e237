// Package decision turns filtered detections into a risk assessment and a
// moderation decision.
package decision

import (
	"fmt"
	"math"
	"strings"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// Thresholds are the risk scores at or below which an image is approved and
// at or above which it is rejected. Everything in between is reviewed.
type Thresholds struct {
	AutoApprove float64
	AutoReject  float64
}

// Config configures the assessment.
type Config struct {
	// AgeThreshold is the apparent age below which a face counts as
	// underage.
	AgeThreshold int

	ChildMultiplier    float64
	UnderageMultiplier float64
	ScoreCap           float64

	Thresholds map[censor.UsageContext]Thresholds
}

// DefaultConfig returns the production decision settings.
func DefaultConfig() Config {
	return Config{
		AgeThreshold:       censor.DefaultAgeThreshold,
		ChildMultiplier:    2,
		UnderageMultiplier: 3,
		ScoreCap:           censor.DefaultRiskScoreCap,
		Thresholds: map[censor.UsageContext]Thresholds{
			censor.ContextPublicSite: {AutoApprove: 15, AutoReject: 70},
			censor.ContextPaysite:    {AutoApprove: 25, AutoReject: 80},
			censor.ContextStore:      {AutoApprove: 40, AutoReject: 85},
		},
	}
}

// Input is everything known about one image after filtering.
type Input struct {
	Context  censor.UsageContext
	Retained []censor.DetectionRecord
	Signals  censor.ChildSignals

	// Disabled lists the categories switched off for the request; they are
	// reported in the reasoning.
	Disabled []string
}

// Engine assesses images. It is immutable and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine. Zero fields fall back to the defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.AgeThreshold <= 0 {
		cfg.AgeThreshold = def.AgeThreshold
	}
	if cfg.ChildMultiplier <= 0 {
		cfg.ChildMultiplier = def.ChildMultiplier
	}
	if cfg.UnderageMultiplier <= 0 {
		cfg.UnderageMultiplier = def.UnderageMultiplier
	}
	if cfg.ScoreCap <= 0 {
		cfg.ScoreCap = def.ScoreCap
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}
	return &Engine{cfg: cfg}
}

var defaultEngine = New(DefaultConfig())

// Assess assesses an image with the default settings.
func Assess(in Input) censor.Assessment {
	return defaultEngine.Assess(in)
}

// ThresholdsFor returns the decision thresholds of a context. Unknown
// contexts get the strictest profile.
func (e *Engine) ThresholdsFor(uc censor.UsageContext) Thresholds {
	if t, ok := e.cfg.Thresholds[uc]; ok {
		return t
	}
	return e.cfg.Thresholds[censor.ContextPublicSite]
}

// Assess computes the risk score, level and moderation status.
func (e *Engine) Assess(in Input) censor.Assessment {
	var (
		nudity float64
		parts  []string
		child  = in.Signals.ContainsChildren
	)
	for _, rec := range in.Retained {
		switch {
		case threshold.IsNudity(rec.Category):
			parts = append(parts, rec.Category)
			nudity = math.Max(nudity, rec.Confidence)
		case rec.Category == censor.CategoryChild:
			child = true
		}
	}
	underage := in.Signals.UnderageDetected ||
		(in.Signals.MinAge != nil && *in.Signals.MinAge < e.cfg.AgeThreshold)

	risk := nudity
	if child {
		risk *= e.cfg.ChildMultiplier
	}
	if underage {
		risk *= e.cfg.UnderageMultiplier
	}
	risk = math.Min(risk, e.cfg.ScoreCap)

	a := censor.Assessment{
		NudityScore:  nudity,
		RiskScore:    risk,
		Level:        LevelFor(risk),
		ChildContent: child,
		Underage:     underage,
	}

	if len(parts) > 0 && nudity > 0 {
		a.Reasons = append(a.Reasons, "nudity_detected: "+strings.Join(parts, ", "))
	}
	if child {
		a.Reasons = append(a.Reasons, "child_content_detected")
	}
	if underage {
		a.Reasons = append(a.Reasons, "underage_faces_detected")
	}
	if len(in.Disabled) > 0 {
		a.Reasons = append(a.Reasons, "components_disabled: "+strings.Join(in.Disabled, ", "))
	}
	if len(a.Reasons) == 0 {
		a.Reasons = []string{"clean_content"}
	}

	t := e.ThresholdsFor(in.Context)
	switch {
	case child:
		// Child content always goes to a human, whatever the score.
		a.Status = censor.StatusFlaggedForReview
		a.HumanReview = true
		a.DecisionNotes = "child_content_detected"
	case risk >= t.AutoReject:
		a.Status = censor.StatusAutoRejected
		a.DecisionNotes = fmt.Sprintf("high_risk_score_%.1f", risk)
	case risk > t.AutoApprove:
		a.Status = censor.StatusFlaggedForReview
		a.HumanReview = true
		a.DecisionNotes = fmt.Sprintf("moderate_risk_score_%.1f", risk)
	default:
		a.Status = censor.StatusAutoApproved
		a.DecisionNotes = fmt.Sprintf("low_risk_score_%.1f", risk)
	}
	return a
}

// LevelFor maps a risk score to its level.
func LevelFor(score float64) censor.RiskLevel {
	switch {
	case score >= 80:
		return censor.RiskCritical
	case score >= 60:
		return censor.RiskHigh
	case score >= 40:
		return censor.RiskMedium
	case score >= 20:
		return censor.RiskLow
	}
	return censor.RiskMinimal
}
