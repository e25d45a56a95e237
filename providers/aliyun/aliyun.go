package aliyun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	green "github.com/alibabacloud-go/green-20220302/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

const providerName = "aliyun"

// moderator is the part of the Green client the provider uses.
type moderator interface {
	ImageModerationWithOptions(req *green.ImageModerationRequest, runtime *util.RuntimeOptions) (*green.ImageModerationResponse, error)
}

// Provider implements the Aliyun image moderation analyzer.
type Provider struct {
	config Config
	client moderator
}

// New creates a new Aliyun provider.
func New(cfg Config) (*Provider, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("aliyun: %w: access key", censor.ErrMissingConfig)
	}
	if cfg.Service == "" {
		cfg.Service = DefaultConfig().Service
	}

	p := &Provider{config: cfg}
	if err := p.initClient(); err != nil {
		return nil, fmt.Errorf("failed to init aliyun client: %w", err)
	}
	return p, nil
}

func (p *Provider) initClient() error {
	config := &openapi.Config{
		AccessKeyId:     tea.String(p.config.AccessKeyID),
		AccessKeySecret: tea.String(p.config.AccessKeySecret),
		RegionId:        tea.String(p.config.Region),
		Endpoint:        tea.String(p.config.Endpoint),
	}

	client, err := green.NewClient(config)
	if err != nil {
		return err
	}

	p.client = client
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Capability returns the supported categories. Green only reads images
// from a URL.
func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Provider:   providerName,
		Categories: labels.Categories(),
		AcceptsURL: true,
	}
}

// Analyze runs baseline image moderation on the request's image URL.
func (p *Provider) Analyze(ctx context.Context, req providers.AnalyzeRequest) (providers.Analysis, error) {
	if err := providers.ValidateRequest(p, req); err != nil {
		return providers.Analysis{}, err
	}
	if err := ctx.Err(); err != nil {
		return providers.Analysis{}, err
	}

	serviceParams := map[string]any{
		"imageUrl": req.ImageURL,
	}
	if req.RequestID != "" {
		serviceParams["dataId"] = req.RequestID
	}
	serviceParamsJSON, err := json.Marshal(serviceParams)
	if err != nil {
		return providers.Analysis{}, fmt.Errorf("failed to marshal service params: %w", err)
	}

	imageReq := &green.ImageModerationRequest{
		Service:           tea.String(p.config.Service),
		ServiceParameters: tea.String(string(serviceParamsJSON)),
	}

	resp, err := p.client.ImageModerationWithOptions(imageReq, p.runtime(req))
	if err != nil {
		return providers.Analysis{}, mapError(err)
	}
	if resp == nil || resp.Body == nil || resp.Body.Code == nil {
		return providers.Analysis{}, censor.NewProviderError(providerName, "invalid_response", "empty response body")
	}

	body := resp.Body
	if code := tea.Int32Value(body.Code); code != 200 {
		return providers.Analysis{}, censor.NewProviderError(providerName, fmt.Sprint(code), tea.StringValue(body.Msg)).
			WithStatusCode(int(code))
	}

	return providers.Analysis{
		Provider:  providerName,
		RequestID: req.RequestID,
		Records:   translate(body.Data),
		Raw: map[string]any{
			"requestId": tea.StringValue(body.RequestId),
			"code":      tea.Int32Value(body.Code),
		},
	}, nil
}

func (p *Provider) runtime(req providers.AnalyzeRequest) *util.RuntimeOptions {
	timeout := p.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	runtime := &util.RuntimeOptions{}
	if timeout > 0 {
		runtime.ReadTimeout = tea.Int(int(timeout.Milliseconds()))
		runtime.ConnectTimeout = tea.Int(int(timeout.Milliseconds()))
	}
	return runtime
}

// mapError classifies SDK failures so the resilience layer can tell
// throttling and outages from bad requests.
func mapError(err error) error {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) {
		pe := censor.NewProviderError(providerName, tea.StringValue(sdkErr.Code), tea.StringValue(sdkErr.Message)).
			WithCause(err)
		if status := tea.IntValue(sdkErr.StatusCode); status > 0 {
			pe = pe.WithStatusCode(status)
		}
		return pe
	}
	return censor.NewProviderError(providerName, "request_failed", err.Error()).
		WithCategory(censor.ErrorCategoryNetwork).
		WithCause(censor.WrapNetworkError(err))
}

var _ providers.Analyzer = (*Provider)(nil)
