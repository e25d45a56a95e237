// Package translate maps threshold models to and from the remote analyzer's
// native parameter space.
package translate

import (
	"encoding/json"
	"sort"
	"strings"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
)

// RemoteParameterSet is the analyzer's native configuration shape. Values
// are only produced by ToRemote or by decoding a snapshot fetched from the
// remote; the fields cannot be set from outside this package.
type RemoteParameterSet struct {
	context            censor.UsageContext
	components         map[string]bool
	requested          []string
	categoryThresholds map[string]int
	nudityThreshold    int
	keywords           []string
	childRiskThreshold int
}

type wireParams struct {
	ContextType          string          `json:"context_type"`
	Components           map[string]bool `json:"components"`
	RequestedCategories  []string        `json:"requested_categories"`
	CategoryThresholds   map[string]int  `json:"category_thresholds"`
	NudityScoreThreshold int             `json:"nudity_score_threshold"`
	ChildSafetyKeywords  []string        `json:"child_safety_keywords"`
	ChildRiskThreshold   int             `json:"child_risk_threshold"`
}

// Context returns the usage context the set was produced for.
func (p RemoteParameterSet) Context() censor.UsageContext { return p.context }

// NudityScoreThreshold returns the unified nudity cutoff (0-100).
func (p RemoteParameterSet) NudityScoreThreshold() int { return p.nudityThreshold }

// ChildRiskThreshold returns the child-risk cutoff (0-100).
func (p RemoteParameterSet) ChildRiskThreshold() int { return p.childRiskThreshold }

// Requested returns the categories the analyzer evaluates, in registry order.
func (p RemoteParameterSet) Requested() []string {
	return append([]string(nil), p.requested...)
}

// Requests reports whether a category is requested from the analyzer.
func (p RemoteParameterSet) Requests(category string) bool {
	for _, c := range p.requested {
		if c == category {
			return true
		}
	}
	return false
}

// Components returns a copy of the per-category component flags.
func (p RemoteParameterSet) Components() map[string]bool {
	out := make(map[string]bool, len(p.components))
	for k, v := range p.components {
		out[k] = v
	}
	return out
}

// CategoryThresholds returns a copy of the per-category thresholds.
func (p RemoteParameterSet) CategoryThresholds() map[string]int {
	out := make(map[string]int, len(p.categoryThresholds))
	for k, v := range p.categoryThresholds {
		out[k] = v
	}
	return out
}

// CategoryThreshold returns the threshold for one category.
func (p RemoteParameterSet) CategoryThreshold(category string) (int, bool) {
	v, ok := p.categoryThresholds[category]
	return v, ok
}

// ChildSafetyKeywords returns the child-safety vocabulary, lowercase and sorted.
func (p RemoteParameterSet) ChildSafetyKeywords() []string {
	return append([]string(nil), p.keywords...)
}

// IsZero reports whether the set is empty, e.g. a remote that has never been
// configured.
func (p RemoteParameterSet) IsZero() bool {
	return p.context == "" && len(p.requested) == 0 && len(p.categoryThresholds) == 0 &&
		len(p.components) == 0 && len(p.keywords) == 0 && p.nudityThreshold == 0 && p.childRiskThreshold == 0
}

// MarshalJSON encodes the set in the analyzer's wire format.
func (p RemoteParameterSet) MarshalJSON() ([]byte, error) {
	w := wireParams{
		ContextType:          string(p.context),
		Components:           p.components,
		RequestedCategories:  p.requested,
		CategoryThresholds:   p.categoryThresholds,
		NudityScoreThreshold: p.nudityThreshold,
		ChildSafetyKeywords:  p.keywords,
		ChildRiskThreshold:   p.childRiskThreshold,
	}
	if w.Components == nil {
		w.Components = map[string]bool{}
	}
	if w.RequestedCategories == nil {
		w.RequestedCategories = []string{}
	}
	if w.CategoryThresholds == nil {
		w.CategoryThresholds = map[string]int{}
	}
	if w.ChildSafetyKeywords == nil {
		w.ChildSafetyKeywords = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a snapshot fetched from the analyzer. Values are kept
// as the remote reported them; only list order and keyword case are
// normalized.
func (p *RemoteParameterSet) UnmarshalJSON(data []byte) error {
	var w wireParams
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = RemoteParameterSet{
		context:            censor.UsageContext(w.ContextType),
		components:         w.Components,
		requested:          normalizeCategories(w.RequestedCategories),
		categoryThresholds: w.CategoryThresholds,
		nudityThreshold:    w.NudityScoreThreshold,
		keywords:           normalizeKeywords(w.ChildSafetyKeywords),
		childRiskThreshold: w.ChildRiskThreshold,
	}
	return nil
}

func normalizeCategories(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	threshold.SortCategories(out)
	return out
}

// normalizeKeywords lowercases, trims, dedupes and sorts keyword lists.
func normalizeKeywords(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, l := range lists {
		for _, kw := range l {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}
