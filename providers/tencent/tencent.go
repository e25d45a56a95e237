// Package tencent provides Tencent Cloud image moderation integration.
package tencent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

const providerName = "tencent"

// Config holds the configuration for Tencent provider.
type Config struct {
	providers.ProviderConfig `mapstructure:",squash"`

	// BizType selects the moderation policy configured in the console.
	BizType string `mapstructure:"biz_type"`
}

// DefaultConfig returns the default Tencent configuration.
func DefaultConfig() Config {
	return Config{
		ProviderConfig: providers.ProviderConfig{
			Region:   "ap-guangzhou",
			Endpoint: "ims.tencentcloudapi.com",
			Timeout:  30 * time.Second,
		},
	}
}

// maxImageBytes is the IMS limit for inline file content.
const maxImageBytes = 5 << 20

type moderator interface {
	ImageModerationWithContext(ctx context.Context, req *ims.ImageModerationRequest) (*ims.ImageModerationResponse, error)
}

// Provider implements the Tencent image moderation analyzer.
type Provider struct {
	config Config
	client moderator
}

// New creates a new Tencent provider.
func New(cfg Config) (*Provider, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("tencent: %w: secret id/key", censor.ErrMissingConfig)
	}

	p := &Provider{config: cfg}
	if err := p.initClient(); err != nil {
		return nil, fmt.Errorf("failed to init tencent client: %w", err)
	}
	return p, nil
}

func (p *Provider) initClient() error {
	credential := common.NewCredential(p.config.AccessKeyID, p.config.AccessKeySecret)

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = p.config.Endpoint
	if cpf.HttpProfile.Endpoint == "" {
		cpf.HttpProfile.Endpoint = "ims.tencentcloudapi.com"
	}
	if p.config.Timeout > 0 {
		cpf.HttpProfile.ReqTimeout = int(p.config.Timeout.Seconds())
	}

	client, err := ims.NewClient(credential, p.config.Region, cpf)
	if err != nil {
		return fmt.Errorf("failed to create ims client: %w", err)
	}
	p.client = client
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

// Analyze runs IMS image moderation.
func (p *Provider) Analyze(ctx context.Context, req providers.AnalyzeRequest) (providers.Analysis, error) {
	if err := providers.ValidateRequest(p, req); err != nil {
		return providers.Analysis{}, err
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	imageReq := ims.NewImageModerationRequest()
	if len(req.Image) > 0 {
		content := base64.StdEncoding.EncodeToString(req.Image)
		imageReq.FileContent = &content
	} else {
		url := req.ImageURL
		imageReq.FileUrl = &url
	}
	if req.RequestID != "" {
		dataID := req.RequestID
		imageReq.DataId = &dataID
	}
	if p.config.BizType != "" {
		bizType := p.config.BizType
		imageReq.BizType = &bizType
	}

	resp, err := p.client.ImageModerationWithContext(ctx, imageReq)
	if err != nil {
		if ctx.Err() != nil {
			return providers.Analysis{}, ctx.Err()
		}
		return providers.Analysis{}, mapError(err)
	}
	if resp == nil || resp.Response == nil {
		return providers.Analysis{}, censor.NewProviderError(providerName, "invalid_response", "empty response")
	}

	r := resp.Response
	requestID := ""
	if r.RequestId != nil {
		requestID = *r.RequestId
	}
	suggestion := ""
	if r.Suggestion != nil {
		suggestion = *r.Suggestion
	}

	return providers.Analysis{
		Provider:  providerName,
		RequestID: req.RequestID,
		Records:   translate(r),
		Raw: map[string]any{
			"requestId":  requestID,
			"suggestion": suggestion,
		},
	}, nil
}

// mapError classifies Tencent Cloud API errors by their error code.
func mapError(err error) error {
	var sdkErr *sdkerrors.TencentCloudSDKError
	if !errors.As(err, &sdkErr) {
		return censor.NewProviderError(providerName, "request_failed", err.Error()).
			WithCategory(censor.ErrorCategoryNetwork).
			WithCause(censor.WrapNetworkError(err))
	}

	code := sdkErr.GetCode()
	pe := censor.NewProviderError(providerName, code, sdkErr.GetMessage()).WithCause(err)
	switch {
	case strings.HasPrefix(code, "RequestLimitExceeded"):
		return pe.WithCategory(censor.ErrorCategoryRateLimit)
	case strings.HasPrefix(code, "AuthFailure"), strings.HasPrefix(code, "UnauthorizedOperation"):
		return pe.WithCategory(censor.ErrorCategoryAuth)
	case strings.HasPrefix(code, "InternalError"), strings.HasPrefix(code, "ResourceUnavailable"):
		pe = pe.WithCategory(censor.ErrorCategoryInternal)
		pe.Retryable = true
		return pe
	case strings.HasPrefix(code, "InvalidParameter"), strings.HasPrefix(code, "MissingParameter"):
		return pe.WithCategory(censor.ErrorCategoryValidation)
	}
	return pe
}

var _ providers.Analyzer = (*Provider)(nil)
