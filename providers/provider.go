// Package providers defines the analyzer interface and common types for
// image moderation backends.
package providers

import (
	"context"
	"sort"
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

// Capability declares what detection categories an analyzer supports.
type Capability struct {
	Provider   string
	Categories []string

	// AcceptsBytes and AcceptsURL tell whether the image may be uploaded
	// inline or must be referenced by URL.
	AcceptsBytes bool
	AcceptsURL   bool

	MaxImageBytes int

	// Configurable is set when the analyzer's thresholds can be pushed with
	// the config synchronizer.
	Configurable bool
}

// CanHandle checks if the analyzer supports all given categories.
func (c Capability) CanHandle(categories []string) bool {
	return len(c.MissingCategories(categories)) == 0
}

// MissingCategories returns the categories the analyzer cannot detect.
func (c Capability) MissingCategories(categories []string) []string {
	supported := make(map[string]bool, len(c.Categories))
	for _, s := range c.Categories {
		supported[s] = true
	}

	var missing []string
	for _, cat := range categories {
		if !supported[cat] {
			missing = append(missing, cat)
		}
	}
	return missing
}

// AnalyzeRequest represents one image to analyze.
type AnalyzeRequest struct {
	RequestID string
	Context   censor.UsageContext

	// Image holds the raw bytes; ImageURL is used when Image is empty.
	Image    []byte
	Filename string
	ImageURL string

	// Params is the translated configuration the request runs under.
	// Analyzers that accept per-request settings send it along; the others
	// only use the requested categories.
	Params translate.RemoteParameterSet

	Timeout time.Duration
}

// HasImage reports whether the request carries an image.
func (r AnalyzeRequest) HasImage() bool {
	return len(r.Image) > 0 || r.ImageURL != ""
}

// Analysis is a normalized analyzer response.
type Analysis struct {
	Provider  string
	RequestID string

	// Records are the raw detections on the 0-100 scale, before filtering.
	Records []censor.DetectionRecord

	// Signals carries the child-protection evidence, if the analyzer
	// reports any.
	Signals censor.ChildSignals

	// ConfigVersion identifies the configuration the analyzer applied.
	ConfigVersion string

	Raw map[string]any
}

// Analyzer defines the interface for image moderation backends.
type Analyzer interface {
	// Name returns the provider name (e.g., "nudenet", "aliyun").
	Name() string

	// Capability returns the supported categories and inputs.
	Capability() Capability

	// Analyze runs detection on one image.
	Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error)
}

// ProviderConfig is the base configuration for cloud providers.
type ProviderConfig struct {
	AccessKeyID     string        `mapstructure:"access_key_id"`
	AccessKeySecret string        `mapstructure:"access_key_secret"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SupportsCategory checks if an analyzer can detect a category.
func SupportsCategory(a Analyzer, category string) bool {
	for _, c := range a.Capability().Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ValidateRequest checks the request before it is sent.
func ValidateRequest(a Analyzer, req AnalyzeRequest) error {
	if !req.HasImage() {
		return censor.ErrNoImage
	}
	c := a.Capability()
	if len(req.Image) > 0 && !c.AcceptsBytes && req.ImageURL == "" {
		return censor.NewProviderError(a.Name(), "unsupported_input", "image bytes not accepted; provide a URL").
			WithCategory(censor.ErrorCategoryValidation)
	}
	if len(req.Image) == 0 && !c.AcceptsURL {
		return censor.NewProviderError(a.Name(), "unsupported_input", "image URL not accepted; provide bytes").
			WithCategory(censor.ErrorCategoryValidation)
	}
	if c.MaxImageBytes > 0 && len(req.Image) > c.MaxImageBytes {
		return censor.NewProviderError(a.Name(), "image_too_large", "image exceeds provider size limit").
			WithCategory(censor.ErrorCategoryValidation)
	}
	return nil
}

// LabelMap translates provider labels to registry category names.
type LabelMap map[string]string

// Records converts provider labels and scores into detection records.
// scale converts the provider's score to the 0-100 range. Labels without a
// mapping are kept under "<provider>:<label>" so the filter can treat them
// as unknown categories instead of losing them.
func (m LabelMap) Records(provider string, labels map[string]float64, scale float64) []censor.DetectionRecord {
	best := make(map[string]float64, len(labels))
	var order []string
	for _, label := range sortedLabels(labels) {
		cat, ok := m[label]
		if !ok {
			cat = provider + ":" + label
		}
		score := clampScore(labels[label] * scale)
		if prev, seen := best[cat]; !seen {
			order = append(order, cat)
			best[cat] = score
		} else if score > prev {
			best[cat] = score
		}
	}

	threshold.SortCategories(order)
	records := make([]censor.DetectionRecord, 0, len(order))
	for _, cat := range order {
		records = append(records, censor.DetectionRecord{Category: cat, Confidence: best[cat]})
	}
	return records
}

// Categories returns the distinct registry categories the map produces.
func (m LabelMap) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, cat := range m {
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	threshold.SortCategories(out)
	return out
}

func clampScore(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > censor.MaxDetectionScore {
		return censor.MaxDetectionScore
	}
	return v
}

func sortedLabels(labels map[string]float64) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
