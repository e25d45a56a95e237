// Package drift compares the local threshold model with a snapshot of the
// remote analyzer's configuration.
package drift

import (
	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

// Remote field names, in the order reports are emitted.
const (
	FieldContext             = "context_type"
	FieldNudityThreshold     = "nudity_score_threshold"
	FieldCategoryThresholds  = "category_thresholds"
	FieldComponents          = "components"
	FieldRequestedCategories = "requested_categories"
	FieldKeywords            = "child_safety_keywords"
	FieldChildRiskThreshold  = "child_risk_threshold"
)

// Detect translates local for the remote's usage context and compares the
// result with remote field by field. An empty result means the two are in
// sync.
//
// Keywords already on the remote act as the translation baseline, so a remote
// vocabulary larger than the local one is not drift. Reports follow the
// order of the Field constants; within a field, categories follow the
// registry order and then unknown names sorted.
//
// A remote with an unknown usage context, or an invalid local model, returns
// a *censor.ConfigurationError.
func Detect(local threshold.Model, remote translate.RemoteParameterSet) ([]censor.DriftReport, error) {
	return DetectFor(local, remote.Context(), remote)
}

// DetectFor is Detect for an expected usage context. Use it when the remote
// may never have been configured, or may hold a different context.
func DetectFor(local threshold.Model, ctx censor.UsageContext, remote translate.RemoteParameterSet) ([]censor.DriftReport, error) {
	want, err := translate.ToRemote(local, ctx, translate.WithBaselineKeywords(remote.ChildSafetyKeywords()))
	if err != nil {
		return nil, err
	}
	return Compare(want, remote), nil
}

// Compare diffs two parameter sets. local is treated as the desired state.
func Compare(local, remote translate.RemoteParameterSet) []censor.DriftReport {
	var out []censor.DriftReport

	if local.Context() != remote.Context() {
		out = append(out, scalar(FieldContext, string(local.Context()), string(remote.Context())))
	}
	if local.NudityScoreThreshold() != remote.NudityScoreThreshold() {
		out = append(out, scalar(FieldNudityThreshold, local.NudityScoreThreshold(), remote.NudityScoreThreshold()))
	}
	out = append(out, diffMap(FieldCategoryThresholds, local.CategoryThresholds(), remote.CategoryThresholds())...)
	out = append(out, diffMap(FieldComponents, local.Components(), remote.Components())...)
	out = append(out, diffSet(FieldRequestedCategories, local.Requested(), remote.Requested())...)

	if lk, rk := local.ChildSafetyKeywords(), remote.ChildSafetyKeywords(); !sameSet(lk, rk) {
		out = append(out, scalar(FieldKeywords, lk, rk))
	}
	if local.ChildRiskThreshold() != remote.ChildRiskThreshold() {
		out = append(out, scalar(FieldChildRiskThreshold, local.ChildRiskThreshold(), remote.ChildRiskThreshold()))
	}
	return out
}

func scalar(field string, local, remote any) censor.DriftReport {
	return censor.DriftReport{
		Field:       field,
		Category:    field,
		LocalValue:  local,
		RemoteValue: remote,
		Kind:        censor.DriftMismatched,
	}
}

func diffMap[V comparable](field string, local, remote map[string]V) []censor.DriftReport {
	names := make([]string, 0, len(local)+len(remote))
	for k := range local {
		names = append(names, k)
	}
	for k := range remote {
		if _, ok := local[k]; !ok {
			names = append(names, k)
		}
	}
	threshold.SortCategories(names)

	var out []censor.DriftReport
	for _, name := range names {
		lv, lok := local[name]
		rv, rok := remote[name]
		switch {
		case lok && !rok:
			out = append(out, censor.DriftReport{Field: field, Category: name, LocalValue: lv, Kind: censor.DriftMissingRemote})
		case !lok && rok:
			out = append(out, censor.DriftReport{Field: field, Category: name, RemoteValue: rv, Kind: censor.DriftMissingLocal})
		case lv != rv:
			out = append(out, censor.DriftReport{Field: field, Category: name, LocalValue: lv, RemoteValue: rv, Kind: censor.DriftMismatched})
		}
	}
	return out
}

func diffSet(field string, local, remote []string) []censor.DriftReport {
	l := toSet(local)
	r := toSet(remote)
	names := make([]string, 0, len(l)+len(r))
	for k := range l {
		names = append(names, k)
	}
	for k := range r {
		if !l[k] {
			names = append(names, k)
		}
	}
	threshold.SortCategories(names)

	var out []censor.DriftReport
	for _, name := range names {
		switch {
		case l[name] && !r[name]:
			out = append(out, censor.DriftReport{Field: field, Category: name, LocalValue: true, RemoteValue: false, Kind: censor.DriftMissingRemote})
		case !l[name] && r[name]:
			out = append(out, censor.DriftReport{Field: field, Category: name, LocalValue: false, RemoteValue: true, Kind: censor.DriftMissingLocal})
		}
	}
	return out
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func sameSet(a, b []string) bool {
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}
