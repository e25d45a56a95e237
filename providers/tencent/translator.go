package tencent

import (
	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

// Tencent IMS labels to registry categories. Scores are 0-100.
var labels = providers.LabelMap{
	"Porn":  censor.CategoryGenitalia,
	"Sexy":  censor.CategoryBreast,
	"Minor": censor.CategoryChild,
}

var passLabels = map[string]bool{
	"Normal": true,
	"Pass":   true,
}

// translate collects the per-scene results, falling back to the top-level
// label when the response carries no scene breakdown.
func translate(r *ims.ImageModerationResponseParams) []censor.DetectionRecord {
	scores := make(map[string]float64)
	add := func(label *string, score *int64) {
		if label == nil || *label == "" || passLabels[*label] {
			return
		}
		var v float64
		if score != nil {
			v = float64(*score)
		}
		if prev, seen := scores[*label]; !seen || v > prev {
			scores[*label] = v
		}
	}

	for _, lr := range r.LabelResults {
		if lr != nil {
			add(lr.Label, lr.Score)
		}
	}
	if len(scores) == 0 {
		add(r.Label, r.Score)
	}
	return labels.Records(providerName, scores, 1)
}
