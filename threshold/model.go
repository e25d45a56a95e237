package threshold

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	censor "github.com/phoenix4ge/censor"
)

// DefaultChildKeywords is the child-safety vocabulary every analyzer ships with.
var DefaultChildKeywords = []string{"child", "kid", "baby", "toddler", "minor", "young", "teen"}

// DefaultRiskMultiplier is the risk multiplier of a fresh model.
const DefaultRiskMultiplier = 1.5

// Model is the normalized moderation configuration. It is read-only to the
// rest of this module: nothing here mutates a model it was handed.
type Model struct {
	Toggles     map[string]bool    `json:"component_toggles"`
	Thresholds  map[string]float64 `json:"component_thresholds"` // 0.0-1.0
	ChildSafety ChildSafety        `json:"child_safety"`

	// Overrides re-enable profile-suppressed categories. Each one is an
	// administrative action and is audited when in effect.
	Overrides []ProfileOverride `json:"profile_overrides,omitempty"`
}

// ChildSafety holds the child-protection settings. There is deliberately no
// enabled flag: child-safety evaluation cannot be turned off.
type ChildSafety struct {
	Keywords       []string `json:"keywords"`
	RiskMultiplier float64  `json:"risk_multiplier"`
}

// DefaultChildSafety returns the default child-safety record.
func DefaultChildSafety() ChildSafety {
	kw := make([]string, len(DefaultChildKeywords))
	copy(kw, DefaultChildKeywords)
	return ChildSafety{Keywords: kw, RiskMultiplier: DefaultRiskMultiplier}
}

// ProfileOverride is an explicit administrative exception to a usage
// context's profile.
type ProfileOverride struct {
	Context   censor.UsageContext `json:"context"`
	Category  string              `json:"category"`
	Actor     string              `json:"actor"`
	Reason    string              `json:"reason,omitempty"`
	GrantedAt time.Time           `json:"granted_at,omitempty"`
}

// Validate checks every field and returns a *censor.ConfigurationError naming
// the first offending one. Fields are checked in a fixed order.
func (m Model) Validate() error {
	for _, name := range sortedKeys(m.Toggles) {
		if !Known(name) {
			return censor.NewConfigurationError("component_toggles."+name, "unknown category")
		}
	}
	for _, name := range sortedKeys(m.Thresholds) {
		if !Known(name) {
			return censor.NewConfigurationError("component_thresholds."+name, "unknown category")
		}
		v := m.Thresholds[name]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return censor.NewConfigurationError("component_thresholds."+name, fmt.Sprintf("value %v outside [0,1]", v))
		}
	}
	rm := m.ChildSafety.RiskMultiplier
	if math.IsNaN(rm) || math.IsInf(rm, 0) || rm <= 0 {
		return censor.NewConfigurationError("child_safety.risk_multiplier", fmt.Sprintf("value %v must be a positive real", rm))
	}
	for i, kw := range m.ChildSafety.Keywords {
		if strings.TrimSpace(kw) == "" {
			return censor.NewConfigurationError(fmt.Sprintf("child_safety.keywords[%d]", i), "blank keyword")
		}
	}
	for i, o := range m.Overrides {
		field := fmt.Sprintf("profile_overrides[%d]", i)
		if !o.Context.Valid() {
			return censor.NewConfigurationError(field+".context", "unknown usage context "+string(o.Context))
		}
		if !Known(o.Category) {
			return censor.NewConfigurationError(field+".category", "unknown category "+o.Category)
		}
		if strings.TrimSpace(o.Actor) == "" {
			return censor.NewConfigurationError(field+".actor", "override must name the administrator who granted it")
		}
	}
	return nil
}

// Knows reports whether the model carries a toggle for the category.
func (m Model) Knows(category string) bool {
	_, ok := m.Toggles[category]
	return ok
}

// Threshold returns the configured cutoff for a category, 0 when unset.
func (m Model) Threshold(category string) float64 {
	return m.Thresholds[category]
}

// Overridable reports whether an override on category has any effect in ctx.
func Overridable(ctx censor.UsageContext, category string) bool {
	p, _ := GetProfile(ctx)
	return p.Suppresses(category)
}

// Override returns the override for (ctx, category), if any.
func (m Model) Override(ctx censor.UsageContext, category string) (ProfileOverride, bool) {
	for _, o := range m.Overrides {
		if o.Context == ctx && o.Category == category {
			return o, true
		}
	}
	return ProfileOverride{}, false
}

// ActiveOverrides returns the overrides that change the outcome for ctx: the
// ones re-enabling a category the profile suppresses.
func (m Model) ActiveOverrides(ctx censor.UsageContext) []ProfileOverride {
	p, _ := GetProfile(ctx)
	var out []ProfileOverride
	for _, o := range m.Overrides {
		if o.Context == ctx && p.Suppresses(o.Category) {
			out = append(out, o)
		}
	}
	return out
}

// Enabled reports whether a registry category is enabled for ctx. Overrides
// only count for categories the profile suppresses; elsewhere the toggle
// decides.
func (m Model) Enabled(ctx censor.UsageContext, category string) bool {
	if IsAlwaysOn(category) {
		return true
	}
	p, _ := GetProfile(ctx)
	if p.Suppresses(category) {
		_, ok := m.Override(ctx, category)
		return ok
	}
	return m.Toggles[category]
}

// EnabledCategories returns the categories evaluated for ctx in registry
// order. Always-on categories are always included.
func (m Model) EnabledCategories(ctx censor.UsageContext) []string {
	var out []string
	for _, c := range categories {
		if m.Enabled(ctx, c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	out := Model{
		Toggles:    make(map[string]bool, len(m.Toggles)),
		Thresholds: make(map[string]float64, len(m.Thresholds)),
		ChildSafety: ChildSafety{
			Keywords:       append([]string(nil), m.ChildSafety.Keywords...),
			RiskMultiplier: m.ChildSafety.RiskMultiplier,
		},
		Overrides: append([]ProfileOverride(nil), m.Overrides...),
	}
	for k, v := range m.Toggles {
		out.Toggles[k] = v
	}
	for k, v := range m.Thresholds {
		out.Thresholds[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
