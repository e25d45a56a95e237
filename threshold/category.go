// Package threshold defines the normalized moderation configuration that the
// platform owns, independent of any remote analyzer format.
package threshold

import (
	"sort"

	censor "github.com/phoenix4ge/censor"
)

// Group is the family a detection category belongs to.
type Group string

const (
	GroupNudity    Group = "nudity"
	GroupFace      Group = "face"
	GroupChild     Group = "child"
	GroupAuxiliary Group = "auxiliary"
)

// Category describes one detection category known to the platform.
type Category struct {
	Name             string
	Group            Group
	Description      string
	DefaultThreshold float64

	// AlwaysOn categories are evaluated regardless of toggles or profiles.
	AlwaysOn bool

	// ChildProtection marks categories that feed the child-safety pathway.
	ChildProtection bool
}

// categories is the registry in canonical order. Every deterministic listing
// in this module follows this order.
var categories = []Category{
	{Name: censor.CategoryBreast, Group: GroupNudity, Description: "Exposed breast", DefaultThreshold: 0.6},
	{Name: censor.CategoryGenitalia, Group: GroupNudity, Description: "Exposed genitalia", DefaultThreshold: 0.5},
	{Name: censor.CategoryButtocks, Group: GroupNudity, Description: "Exposed buttocks", DefaultThreshold: 0.6},
	{Name: censor.CategoryAnus, Group: GroupNudity, Description: "Exposed anus", DefaultThreshold: 0.5},
	{Name: censor.CategoryFace, Group: GroupFace, Description: "Face presence and age signals", DefaultThreshold: 0.5, AlwaysOn: true},
	{Name: censor.CategoryChild, Group: GroupChild, Description: "Child content", DefaultThreshold: 0.3, AlwaysOn: true, ChildProtection: true},
	{Name: censor.CategoryAgeEstimation, Group: GroupChild, Description: "Apparent age estimation", DefaultThreshold: 0.3, AlwaysOn: true, ChildProtection: true},
	{Name: censor.CategoryImageDescription, Group: GroupAuxiliary, Description: "Generated image description", DefaultThreshold: 0},
}

var categoryIndex = func() map[string]int {
	m := make(map[string]int, len(categories))
	for i, c := range categories {
		m[c.Name] = i
	}
	return m
}()

// Lookup returns the registry entry for a category name.
func Lookup(name string) (Category, bool) {
	i, ok := categoryIndex[name]
	if !ok {
		return Category{}, false
	}
	return categories[i], true
}

// Known reports whether the category is in the registry.
func Known(name string) bool {
	_, ok := categoryIndex[name]
	return ok
}

// Categories returns the registry in canonical order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// IsAlwaysOn reports whether a category can never be disabled.
func IsAlwaysOn(name string) bool {
	c, ok := Lookup(name)
	return ok && c.AlwaysOn
}

// IsNudity reports whether a category belongs to the nudity group.
func IsNudity(name string) bool {
	c, ok := Lookup(name)
	return ok && c.Group == GroupNudity
}

// IsChildProtection reports whether a category feeds the child-safety pathway.
func IsChildProtection(name string) bool {
	c, ok := Lookup(name)
	return ok && c.ChildProtection
}

// AlwaysOnCategories returns the categories that are always evaluated.
func AlwaysOnCategories() []string {
	var out []string
	for _, c := range categories {
		if c.AlwaysOn {
			out = append(out, c.Name)
		}
	}
	return out
}

// SortCategories orders names by registry position, with names unknown to
// the registry last in lexical order.
func SortCategories(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ii, iok := categoryIndex[names[i]]
		ji, jok := categoryIndex[names[j]]
		switch {
		case iok && jok:
			return ii < ji
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
}
