package threshold

import (
	"errors"
	"math"
	"reflect"
	"testing"

	censor "github.com/phoenix4ge/censor"
)

func TestModel_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(m *Model)
		wantField string
	}{
		{
			name:   "default model is valid",
			mutate: func(m *Model) {},
		},
		{
			name:      "threshold above one",
			mutate:    func(m *Model) { m.Thresholds[censor.CategoryBreast] = 1.2 },
			wantField: "component_thresholds.breast_detection",
		},
		{
			name:      "negative threshold",
			mutate:    func(m *Model) { m.Thresholds[censor.CategoryFace] = -0.01 },
			wantField: "component_thresholds.face_detection",
		},
		{
			name:      "NaN threshold",
			mutate:    func(m *Model) { m.Thresholds[censor.CategoryAnus] = math.NaN() },
			wantField: "component_thresholds.anus_detection",
		},
		{
			name:      "unknown toggle",
			mutate:    func(m *Model) { m.Toggles["tattoo_detection"] = true },
			wantField: "component_toggles.tattoo_detection",
		},
		{
			name:      "unknown threshold",
			mutate:    func(m *Model) { m.Thresholds["tattoo_detection"] = 0.5 },
			wantField: "component_thresholds.tattoo_detection",
		},
		{
			name:      "zero multiplier",
			mutate:    func(m *Model) { m.ChildSafety.RiskMultiplier = 0 },
			wantField: "child_safety.risk_multiplier",
		},
		{
			name:      "infinite multiplier",
			mutate:    func(m *Model) { m.ChildSafety.RiskMultiplier = math.Inf(1) },
			wantField: "child_safety.risk_multiplier",
		},
		{
			name:      "blank keyword",
			mutate:    func(m *Model) { m.ChildSafety.Keywords = append(m.ChildSafety.Keywords, "  ") },
			wantField: "child_safety.keywords[7]",
		},
		{
			name: "override without actor",
			mutate: func(m *Model) {
				m.Overrides = []ProfileOverride{{Context: censor.ContextPaysite, Category: censor.CategoryBreast}}
			},
			wantField: "profile_overrides[0].actor",
		},
		{
			name: "override with unknown context",
			mutate: func(m *Model) {
				m.Overrides = []ProfileOverride{{Context: "forum", Category: censor.CategoryBreast, Actor: "admin"}}
			},
			wantField: "profile_overrides[0].context",
		},
		{
			name:   "threshold boundaries are valid",
			mutate: func(m *Model) { m.Thresholds[censor.CategoryBreast] = 0; m.Thresholds[censor.CategoryFace] = 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultModel(censor.ContextPublicSite)
			tt.mutate(&m)
			err := m.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var ce *censor.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
			if !errors.Is(err, censor.ErrInvalidConfig) {
				t.Error("ConfigurationError should match ErrInvalidConfig")
			}
		})
	}
}

func TestModel_EnabledCategories(t *testing.T) {
	allOff := Model{
		Toggles: map[string]bool{
			censor.CategoryBreast:    false,
			censor.CategoryGenitalia: false,
			censor.CategoryFace:      false,
			censor.CategoryChild:     false,
		},
		ChildSafety: DefaultChildSafety(),
	}
	nudity := Model{
		Toggles: map[string]bool{
			censor.CategoryBreast:    true,
			censor.CategoryGenitalia: true,
			censor.CategoryFace:      true,
		},
		ChildSafety: DefaultChildSafety(),
	}
	overridden := nudity.Clone()
	overridden.Overrides = []ProfileOverride{{Context: censor.ContextPaysite, Category: censor.CategoryBreast, Actor: "ops@example.com"}}

	alwaysOn := []string{censor.CategoryFace, censor.CategoryChild, censor.CategoryAgeEstimation}

	tests := []struct {
		name  string
		model Model
		ctx   censor.UsageContext
		want  []string
	}{
		{"all off public", allOff, censor.ContextPublicSite, alwaysOn},
		{"all off paysite", allOff, censor.ContextPaysite, alwaysOn},
		{"all off store", allOff, censor.ContextStore, alwaysOn},
		{"nudity public", nudity, censor.ContextPublicSite, []string{censor.CategoryBreast, censor.CategoryGenitalia, censor.CategoryFace, censor.CategoryChild, censor.CategoryAgeEstimation}},
		{"nudity paysite suppressed", nudity, censor.ContextPaysite, alwaysOn},
		{"paysite override", overridden, censor.ContextPaysite, []string{censor.CategoryBreast, censor.CategoryFace, censor.CategoryChild, censor.CategoryAgeEstimation}},
		{"override scoped to its context", overridden, censor.ContextStore, []string{censor.CategoryBreast, censor.CategoryGenitalia, censor.CategoryFace, censor.CategoryChild, censor.CategoryAgeEstimation}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.model.EnabledCategories(tt.ctx)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EnabledCategories() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModel_ActiveOverrides(t *testing.T) {
	m := DefaultModel(censor.ContextPaysite)
	m.Overrides = []ProfileOverride{
		{Context: censor.ContextPaysite, Category: censor.CategoryGenitalia, Actor: "admin"},
		{Context: censor.ContextPaysite, Category: censor.CategoryFace, Actor: "admin"},
		{Context: censor.ContextStore, Category: censor.CategoryAnus, Actor: "admin"},
	}

	got := m.ActiveOverrides(censor.ContextPaysite)
	if len(got) != 1 || got[0].Category != censor.CategoryGenitalia {
		t.Errorf("ActiveOverrides(paysite) = %+v, want only genitalia", got)
	}
	if got := m.ActiveOverrides(censor.ContextStore); len(got) != 0 {
		t.Errorf("ActiveOverrides(store) = %+v, want none (store suppresses nothing)", got)
	}
}

func TestModel_OverrideOnUnsuppressedCategory(t *testing.T) {
	m := DefaultModel(censor.ContextStore)
	m.Overrides = []ProfileOverride{{Context: censor.ContextStore, Category: censor.CategoryButtocks, Actor: "admin"}}

	if m.Toggles[censor.CategoryButtocks] {
		t.Fatal("store should default buttocks_detection off")
	}
	if m.Enabled(censor.ContextStore, censor.CategoryButtocks) {
		t.Error("override enabled a category the profile does not suppress")
	}
	if got := m.ActiveOverrides(censor.ContextStore); len(got) != 0 {
		t.Errorf("ActiveOverrides(store) = %+v, want none", got)
	}
	if Overridable(censor.ContextStore, censor.CategoryButtocks) {
		t.Error("Overridable(store, buttocks) = true")
	}
	if !Overridable(censor.ContextPaysite, censor.CategoryButtocks) {
		t.Error("Overridable(paysite, buttocks) = false")
	}

	// Every category Enabled turns on is either toggled, always on, or
	// carried by an active override.
	for _, uc := range censor.UsageContexts() {
		active := map[string]bool{}
		for _, o := range m.ActiveOverrides(uc) {
			active[o.Category] = true
		}
		for _, c := range m.EnabledCategories(uc) {
			if !IsAlwaysOn(c) && !m.Toggles[c] && !active[c] {
				t.Errorf("%s: %s enabled without toggle or audited override", uc, c)
			}
		}
	}
}

func TestDefaultModel(t *testing.T) {
	tests := []struct {
		ctx        censor.UsageContext
		category   string
		wantToggle bool
	}{
		{censor.ContextPublicSite, censor.CategoryAnus, true},
		{censor.ContextPaysite, censor.CategoryBreast, false},
		{censor.ContextPaysite, censor.CategoryFace, true},
		{censor.ContextStore, censor.CategoryBreast, true},
		{censor.ContextStore, censor.CategoryButtocks, false},
		{"unknown", censor.CategoryGenitalia, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.ctx)+"/"+tt.category, func(t *testing.T) {
			m := DefaultModel(tt.ctx)
			if err := m.Validate(); err != nil {
				t.Fatalf("DefaultModel(%s) invalid: %v", tt.ctx, err)
			}
			if got := m.Toggles[tt.category]; got != tt.wantToggle {
				t.Errorf("Toggles[%s] = %v, want %v", tt.category, got, tt.wantToggle)
			}
		})
	}
}

func TestModel_CloneIsDeep(t *testing.T) {
	m := DefaultModel(censor.ContextPublicSite)
	c := m.Clone()
	c.Toggles[censor.CategoryBreast] = false
	c.Thresholds[censor.CategoryBreast] = 0.99
	c.ChildSafety.Keywords[0] = "changed"

	if !m.Toggles[censor.CategoryBreast] || m.Thresholds[censor.CategoryBreast] == 0.99 || m.ChildSafety.Keywords[0] == "changed" {
		t.Error("Clone() shares state with the original")
	}
}

func TestSortCategories(t *testing.T) {
	names := []string{"zeta", censor.CategoryFace, "alpha", censor.CategoryBreast, censor.CategoryChild}
	SortCategories(names)
	want := []string{censor.CategoryBreast, censor.CategoryFace, censor.CategoryChild, "alpha", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("SortCategories() = %v, want %v", names, want)
	}
}

func TestProfile_Suppresses(t *testing.T) {
	p, ok := GetProfile(censor.ContextPaysite)
	if !ok {
		t.Fatal("paysite profile missing")
	}
	for _, c := range []string{censor.CategoryBreast, censor.CategoryGenitalia, censor.CategoryButtocks, censor.CategoryAnus} {
		if !p.Suppresses(c) {
			t.Errorf("paysite should suppress %s", c)
		}
	}
	for _, c := range []string{censor.CategoryFace, censor.CategoryChild, censor.CategoryAgeEstimation, "unknown_label"} {
		if p.Suppresses(c) {
			t.Errorf("paysite should not suppress %s", c)
		}
	}
}
