package censor

import (
	"fmt"
	"math"
	"strings"
)

// DetectionRecord is one labeled output from the analyzer.
type DetectionRecord struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Validate checks the record is well formed.
func (r DetectionRecord) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("empty category")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > MaxDetectionScore {
		return fmt.Errorf("confidence %v outside [0,100]", r.Confidence)
	}
	return nil
}

// DriftReport describes one field that differs between the local
// configuration and the remote snapshot.
type DriftReport struct {
	Field       string    `json:"field"`
	Category    string    `json:"category"`
	LocalValue  any       `json:"local_value,omitempty"`
	RemoteValue any       `json:"remote_value,omitempty"`
	Kind        DriftKind `json:"kind"`
}

func (d DriftReport) String() string {
	if d.Field == d.Category {
		return fmt.Sprintf("%s: %s (local=%v remote=%v)", d.Field, d.Kind, d.LocalValue, d.RemoteValue)
	}
	return fmt.Sprintf("%s[%s]: %s (local=%v remote=%v)", d.Field, d.Category, d.Kind, d.LocalValue, d.RemoteValue)
}

// ChildSignals are the child-safety hints an analyzer reports next to its
// detections.
type ChildSignals struct {
	ContainsChildren bool     `json:"contains_children"`
	UnderageDetected bool     `json:"underage_detected"`
	KeywordsFound    []string `json:"child_keywords_found,omitempty"`
	MinAge           *int     `json:"min_detected_age,omitempty"`
	Description      string   `json:"description,omitempty"`
}

// Assessment is the risk assessment and decision for one image.
type Assessment struct {
	NudityScore   float64          `json:"base_nudity_score"`
	RiskScore     float64          `json:"final_risk_score"`
	Level         RiskLevel        `json:"risk_level"`
	Status        ModerationStatus `json:"status"`
	HumanReview   bool             `json:"human_review_required"`
	ChildContent  bool             `json:"child_content"`
	Underage      bool             `json:"underage"`
	Reasons       []string         `json:"reasoning"`
	DecisionNotes string           `json:"reason"`
}
