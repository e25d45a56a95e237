package threshold

import (
	censor "github.com/phoenix4ge/censor"
)

// Profile is the business profile of a usage context.
type Profile struct {
	Context censor.UsageContext

	// Defaults are the toggles a freshly created model starts with.
	Defaults map[string]bool

	// Suppressed groups are excluded regardless of toggles. Only an explicit
	// ProfileOverride re-enables a category in a suppressed group.
	Suppressed []Group
}

// Suppresses reports whether the profile excludes a category.
func (p Profile) Suppresses(category string) bool {
	c, ok := Lookup(category)
	if !ok || c.AlwaysOn {
		return false
	}
	for _, g := range p.Suppressed {
		if c.Group == g {
			return true
		}
	}
	return false
}

var profiles = map[censor.UsageContext]Profile{
	// Public pages show everything to anyone, so every nudity signal counts.
	censor.ContextPublicSite: {
		Context: censor.ContextPublicSite,
		Defaults: map[string]bool{
			censor.CategoryBreast:           true,
			censor.CategoryGenitalia:        true,
			censor.CategoryButtocks:         true,
			censor.CategoryAnus:             true,
			censor.CategoryFace:             true,
			censor.CategoryChild:            true,
			censor.CategoryAgeEstimation:    true,
			censor.CategoryImageDescription: true,
		},
	},

	// Paid adult content: nudity is the product, faces and minors are not.
	censor.ContextPaysite: {
		Context: censor.ContextPaysite,
		Defaults: map[string]bool{
			censor.CategoryBreast:           false,
			censor.CategoryGenitalia:        false,
			censor.CategoryButtocks:         false,
			censor.CategoryAnus:             false,
			censor.CategoryFace:             true,
			censor.CategoryChild:            true,
			censor.CategoryAgeEstimation:    true,
			censor.CategoryImageDescription: true,
		},
		Suppressed: []Group{GroupNudity},
	},

	censor.ContextStore: {
		Context: censor.ContextStore,
		Defaults: map[string]bool{
			censor.CategoryBreast:           true,
			censor.CategoryGenitalia:        true,
			censor.CategoryButtocks:         false,
			censor.CategoryAnus:             false,
			censor.CategoryFace:             true,
			censor.CategoryChild:            true,
			censor.CategoryAgeEstimation:    true,
			censor.CategoryImageDescription: true,
		},
	},
}

// GetProfile returns the profile for a usage context.
func GetProfile(ctx censor.UsageContext) (Profile, bool) {
	p, ok := profiles[ctx]
	return p, ok
}

// DefaultModel returns a model seeded from the profile defaults of ctx. Unknown
// contexts get the public_site defaults, the strictest profile.
func DefaultModel(ctx censor.UsageContext) Model {
	p, ok := profiles[ctx]
	if !ok {
		p = profiles[censor.ContextPublicSite]
	}
	m := Model{
		Toggles:     make(map[string]bool, len(categories)),
		Thresholds:  make(map[string]float64, len(categories)),
		ChildSafety: DefaultChildSafety(),
	}
	for _, c := range categories {
		m.Toggles[c.Name] = p.Defaults[c.Name]
		m.Thresholds[c.Name] = c.DefaultThreshold
	}
	return m
}
