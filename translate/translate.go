package translate

import (
	"fmt"
	"math"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// Calibration constants of the analyzer's parameter space.
const (
	// NudityThresholdCeiling is sent as the unified nudity cutoff when no
	// nudity category is enabled. The analyzer requires a value.
	NudityThresholdCeiling = 100

	// child_risk_threshold = ChildRiskBase + riskMultiplier*ChildRiskScale
	ChildRiskBase  = 20.0
	ChildRiskScale = 10.0

	// ChildRiskThresholdMax is the highest child-risk cutoff ever sent. The
	// analyzer caps risk scores at 100, so a cutoff at ChildRiskDisabledCeiling
	// can never trigger and would disable child-safety evaluation.
	ChildRiskThresholdMax    = 90
	ChildRiskDisabledCeiling = 100

	// MinRiskMultiplier floors multipliers recovered from the remote.
	MinRiskMultiplier = 0.1
)

type options struct {
	baseline []string
}

// Option configures ToRemote.
type Option func(*options)

// WithBaselineKeywords sets the child-safety vocabulary already known to the
// remote. The translated keyword list is always a superset of it.
func WithBaselineKeywords(keywords []string) Option {
	return func(o *options) {
		o.baseline = keywords
	}
}

// ToRemote translates a model into the analyzer's parameter set for ctx.
//
// Face detection and the child-protection categories are always requested,
// and the child-risk cutoff always stays below ChildRiskDisabledCeiling. A
// model that fails validation returns a *censor.ConfigurationError.
func ToRemote(m threshold.Model, ctx censor.UsageContext, opts ...Option) (RemoteParameterSet, error) {
	o := options{baseline: threshold.DefaultChildKeywords}
	for _, opt := range opts {
		opt(&o)
	}

	if !ctx.Valid() {
		return RemoteParameterSet{}, censor.NewConfigurationError("context", "unknown usage context "+string(ctx))
	}
	if err := m.Validate(); err != nil {
		return RemoteParameterSet{}, err
	}

	p := RemoteParameterSet{
		context:            ctx,
		components:         make(map[string]bool, len(m.Toggles)),
		requested:          m.EnabledCategories(ctx),
		categoryThresholds: make(map[string]int, len(m.Thresholds)),
		keywords:           normalizeKeywords(o.baseline, m.ChildSafety.Keywords),
		childRiskThreshold: childRiskThreshold(m.ChildSafety.RiskMultiplier),
	}
	for name, on := range m.Toggles {
		p.components[name] = on || threshold.IsAlwaysOn(name)
	}
	for _, name := range threshold.AlwaysOnCategories() {
		p.components[name] = true
	}
	for name, v := range m.Thresholds {
		p.categoryThresholds[name] = toScale(v)
	}
	p.nudityThreshold = unifiedNudityThreshold(p)

	mustBeSafe(p)
	return p, nil
}

// FromRemote recovers a model from a parameter set. It is best effort and
// total: unknown categories are dropped, out-of-range values clamped.
func FromRemote(p RemoteParameterSet) threshold.Model {
	m := threshold.Model{
		Toggles:    make(map[string]bool, len(p.components)),
		Thresholds: make(map[string]float64, len(p.categoryThresholds)),
		ChildSafety: threshold.ChildSafety{
			Keywords:       p.ChildSafetyKeywords(),
			RiskMultiplier: riskMultiplier(p.childRiskThreshold),
		},
	}
	for name, on := range p.components {
		if threshold.Known(name) {
			m.Toggles[name] = on
		}
	}
	for _, name := range p.requested {
		if threshold.Known(name) {
			m.Toggles[name] = true
		}
	}
	for name, v := range p.categoryThresholds {
		if threshold.Known(name) {
			m.Thresholds[name] = float64(clampInt(v, 0, 100)) / 100
		}
	}
	return m
}

// UnknownRemoteCategories lists category names in p that the registry does
// not know. FromRemote drops them.
func UnknownRemoteCategories(p RemoteParameterSet) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if !threshold.Known(name) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for name := range p.components {
		add(name)
	}
	for _, name := range p.requested {
		add(name)
	}
	for name := range p.categoryThresholds {
		add(name)
	}
	threshold.SortCategories(out)
	return out
}

func toScale(v float64) int {
	return clampInt(int(math.Round(v*100)), 0, 100)
}

// unifiedNudityThreshold is the minimum threshold of the requested nudity
// categories, so the coarse server-side cutoff never under-protects one of
// them. A requested category with no threshold counts as 0.
func unifiedNudityThreshold(p RemoteParameterSet) int {
	lowest := NudityThresholdCeiling
	found := false
	for _, name := range p.requested {
		if !threshold.IsNudity(name) {
			continue
		}
		found = true
		if v := p.categoryThresholds[name]; v < lowest {
			lowest = v
		}
	}
	if !found {
		return NudityThresholdCeiling
	}
	return lowest
}

func childRiskThreshold(multiplier float64) int {
	f := math.Round(ChildRiskBase + multiplier*ChildRiskScale)
	if f >= ChildRiskThresholdMax {
		return ChildRiskThresholdMax
	}
	return clampInt(int(f), 0, 100)
}

func riskMultiplier(childRisk int) float64 {
	m := (float64(clampInt(childRisk, 0, 100)) - ChildRiskBase) / ChildRiskScale
	if m < MinRiskMultiplier {
		return MinRiskMultiplier
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mustBeSafe aborts when a translated set would switch off child protection.
// Reaching the panic is a defect in this package.
func mustBeSafe(p RemoteParameterSet) {
	for _, name := range threshold.AlwaysOnCategories() {
		if !p.Requests(name) {
			panic(fmt.Sprintf("translate: parameter set for %s does not request %s", p.context, name))
		}
	}
	if p.childRiskThreshold >= ChildRiskDisabledCeiling {
		panic(fmt.Sprintf("translate: child_risk_threshold %d disables child-safety evaluation", p.childRiskThreshold))
	}
}
