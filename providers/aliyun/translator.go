package aliyun

import (
	green "github.com/alibabacloud-go/green-20220302/v2/client"
	"github.com/alibabacloud-go/tea/tea"

	censor "github.com/phoenix4ge/censor"
)

// translate turns an image moderation response into detection records.
// Aliyun confidences are already on the 0-100 scale.
func translate(data *green.ImageModerationResponseBodyData) []censor.DetectionRecord {
	if data == nil {
		return []censor.DetectionRecord{}
	}

	scores := make(map[string]float64, len(data.Result))
	for _, item := range data.Result {
		if item == nil || item.Label == nil {
			continue
		}
		label := tea.StringValue(item.Label)
		if label == "" || passLabels[label] {
			continue
		}
		var confidence float64
		if item.Confidence != nil {
			confidence = float64(tea.Float32Value(item.Confidence))
		}
		if prev, seen := scores[label]; !seen || confidence > prev {
			scores[label] = confidence
		}
	}
	return labels.Records(providerName, scores, 1)
}
