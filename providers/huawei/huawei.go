// Package huawei provides Huawei Cloud image moderation integration.
package huawei

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/sdkerr"
	moderation "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/model"
	region "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/region"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

const providerName = "huawei"

// Config holds the configuration for Huawei provider.
type Config struct {
	providers.ProviderConfig `mapstructure:",squash"`

	ProjectID string `mapstructure:"project_id"`

	// EventType selects the moderation policy, e.g. "album" or "head_image".
	EventType string `mapstructure:"event_type"`
}

// DefaultConfig returns the default Huawei configuration.
func DefaultConfig() Config {
	return Config{
		ProviderConfig: providers.ProviderConfig{
			Region:   "cn-north-4",
			Endpoint: "moderation.cn-north-4.myhuaweicloud.com",
			Timeout:  30 * time.Second,
		},
		EventType: "album",
	}
}

const maxImageBytes = 10 << 20

// Huawei image detail labels to registry categories. Confidences are 0-1.
var labels = providers.LabelMap{
	"porn":        censor.CategoryGenitalia,
	"pornography": censor.CategoryGenitalia,
	"sexy":        censor.CategoryBreast,
	"sexual_hint": censor.CategoryBreast,
}

type moderator interface {
	CheckImageModeration(req *model.CheckImageModerationRequest) (*model.CheckImageModerationResponse, error)
}

// Provider implements the Huawei image moderation analyzer.
type Provider struct {
	config Config
	client moderator
}

// New creates a new Huawei provider.
func New(cfg Config) (*Provider, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("huawei: %w: ak/sk", censor.ErrMissingConfig)
	}
	if cfg.EventType == "" {
		cfg.EventType = DefaultConfig().EventType
	}

	p := &Provider{config: cfg}
	if err := p.initClient(); err != nil {
		return nil, fmt.Errorf("failed to init huawei client: %w", err)
	}
	return p, nil
}

func (p *Provider) initClient() error {
	auth := basic.NewCredentialsBuilder().
		WithAk(p.config.AccessKeyID).
		WithSk(p.config.AccessKeySecret).
		WithProjectId(p.config.ProjectID).
		Build()

	reg, err := region.SafeValueOf(p.config.Region)
	if err != nil {
		return fmt.Errorf("invalid region: %w", err)
	}

	p.client = moderation.NewModerationClient(
		moderation.ModerationClientBuilder().
			WithRegion(reg).
			WithCredential(auth).
			Build())
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Capability returns the supported categories and inputs.
func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Provider:      providerName,
		Categories:    labels.Categories(),
		AcceptsBytes:  true,
		AcceptsURL:    true,
		MaxImageBytes: maxImageBytes,
	}
}

// Analyze runs image moderation for the porn category.
func (p *Provider) Analyze(ctx context.Context, req providers.AnalyzeRequest) (providers.Analysis, error) {
	if err := providers.ValidateRequest(p, req); err != nil {
		return providers.Analysis{}, err
	}
	if err := ctx.Err(); err != nil {
		return providers.Analysis{}, err
	}

	categories := []string{"porn"}
	eventType := p.config.EventType
	body := &model.ImageDetectionReq{
		EventType:  &eventType,
		Categories: &categories,
	}
	if len(req.Image) > 0 {
		image := base64.StdEncoding.EncodeToString(req.Image)
		body.Image = &image
	} else {
		url := req.ImageURL
		body.Url = &url
	}

	resp, err := p.client.CheckImageModeration(&model.CheckImageModerationRequest{Body: body})
	if err != nil {
		return providers.Analysis{}, mapError(err)
	}
	if resp == nil || resp.RequestId == nil {
		return providers.Analysis{}, censor.NewProviderError(providerName, "invalid_response", "missing request id")
	}

	return providers.Analysis{
		Provider:  providerName,
		RequestID: req.RequestID,
		Records:   translate(resp.Result),
		Raw: map[string]any{
			"requestId": *resp.RequestId,
		},
	}, nil
}

// translate reads the detail list. Labels win over the coarser category.
func translate(r *model.ImageDetectionResult) []censor.DetectionRecord {
	if r == nil || r.Details == nil {
		return []censor.DetectionRecord{}
	}

	scores := make(map[string]float64)
	for _, d := range *r.Details {
		name := ""
		switch {
		case d.Label != nil && *d.Label != "" && *d.Label != "normal":
			name = *d.Label
		case d.Category != nil:
			name = *d.Category
		}
		if name == "" {
			continue
		}
		var v float64
		if d.Confidence != nil {
			v = float64(*d.Confidence)
		}
		if prev, seen := scores[name]; !seen || v > prev {
			scores[name] = v
		}
	}
	return labels.Records(providerName, scores, 100)
}

func mapError(err error) error {
	var respErr *sdkerr.ServiceResponseError
	if errors.As(err, &respErr) {
		return censor.NewProviderError(providerName, respErr.ErrorCode, respErr.ErrorMessage).
			WithStatusCode(respErr.StatusCode).
			WithCause(err)
	}
	return censor.NewProviderError(providerName, "request_failed", err.Error()).
		WithCategory(censor.ErrorCategoryNetwork).
		WithCause(censor.WrapNetworkError(err))
}

var _ providers.Analyzer = (*Provider)(nil)
