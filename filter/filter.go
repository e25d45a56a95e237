// Package filter applies a usage context's business profile to a raw
// detection set.
package filter

import (
	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// Filter returns the records of raw that survive the profile of ctx under
// model m, in input order.
//
// A record is retained when its category is enabled and its confidence is at
// or above the category threshold scaled to 0-100 (0 when unset). Face and
// child-protection categories are always enabled. Categories the model does
// not know are retained on threshold alone, so a new analyzer label is never
// silently lost.
//
// A batch containing any malformed record is rejected as a whole with a
// *censor.DetectionFormatError naming the first bad index. An invalid model
// or context returns a *censor.ConfigurationError. Filter has no side
// effects and does not modify raw or m.
func Filter(raw []censor.DetectionRecord, ctx censor.UsageContext, m threshold.Model) ([]censor.DetectionRecord, error) {
	if !ctx.Valid() {
		return nil, censor.NewConfigurationError("context", "unknown usage context "+string(ctx))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for i, rec := range raw {
		if err := rec.Validate(); err != nil {
			return nil, censor.NewDetectionFormatError(i, rec, err.Error())
		}
	}

	out := make([]censor.DetectionRecord, 0, len(raw))
	for _, rec := range raw {
		if retain(rec, ctx, m) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// scaleTolerance absorbs float error in threshold*100, e.g. 0.07*100.
const scaleTolerance = 1e-9

func retain(rec censor.DetectionRecord, ctx censor.UsageContext, m threshold.Model) bool {
	if rec.Confidence < m.Threshold(rec.Category)*censor.MaxDetectionScore-scaleTolerance {
		return false
	}
	switch {
	case threshold.IsAlwaysOn(rec.Category):
		return true
	case threshold.Known(rec.Category) && !m.Knows(rec.Category):
		// Registry category the model has no toggle for: only the profile
		// can exclude it.
		p, _ := threshold.GetProfile(ctx)
		if p.Suppresses(rec.Category) {
			_, ok := m.Override(ctx, rec.Category)
			return ok
		}
		return true
	case !threshold.Known(rec.Category):
		return true
	}
	return m.Enabled(ctx, rec.Category)
}

// UnknownCategories lists the categories in raw that the model does not
// carry a toggle for, in first-seen order. These are retained by Filter and
// should be routed to an operator for triage.
func UnknownCategories(raw []censor.DetectionRecord, m threshold.Model) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range raw {
		if rec.Category == "" || seen[rec.Category] {
			continue
		}
		seen[rec.Category] = true
		if !m.Knows(rec.Category) && !threshold.IsAlwaysOn(rec.Category) {
			out = append(out, rec.Category)
		}
	}
	return out
}
