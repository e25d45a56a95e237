package aliyun

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	green "github.com/alibabacloud-go/green-20220302/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

type fakeModerator struct {
	req  *green.ImageModerationRequest
	resp *green.ImageModerationResponse
	err  error
}

func (f *fakeModerator) ImageModerationWithOptions(req *green.ImageModerationRequest, _ *util.RuntimeOptions) (*green.ImageModerationResponse, error) {
	f.req = req
	return f.resp, f.err
}

func result(label string, confidence float32) *green.ImageModerationResponseBodyDataResult {
	return &green.ImageModerationResponseBodyDataResult{
		Label:      tea.String(label),
		Confidence: tea.Float32(confidence),
	}
}

func newTestProvider(f *fakeModerator) *Provider {
	return &Provider{config: DefaultConfig(), client: f}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, censor.ErrMissingConfig)
}

func TestCapability(t *testing.T) {
	p := newTestProvider(&fakeModerator{})
	c := p.Capability()

	assert.True(t, c.AcceptsURL)
	assert.False(t, c.AcceptsBytes)
	assert.False(t, c.Configurable)
	assert.Contains(t, c.Categories, censor.CategoryBreast)
	assert.NotContains(t, c.Categories, censor.CategoryAnus)
}

func TestAnalyze(t *testing.T) {
	f := &fakeModerator{resp: &green.ImageModerationResponse{
		Body: &green.ImageModerationResponseBody{
			Code:      tea.Int32(200),
			RequestId: tea.String("aliyun-req"),
			Data: &green.ImageModerationResponseBodyData{
				Result: []*green.ImageModerationResponseBodyDataResult{
					result("sexual_cleavage", 71.5),
					result("sexual_breastBump", 83),
					result("pornographic_adultContent", 12),
					result("nonLabel", 99),
					result("political_flag", 40),
				},
			},
		},
	}}
	p := newTestProvider(f)

	got, err := p.Analyze(context.Background(), providers.AnalyzeRequest{
		RequestID: "req-1",
		ImageURL:  "https://cdn.example.com/a.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, []censor.DetectionRecord{
		{Category: censor.CategoryBreast, Confidence: 83},
		{Category: censor.CategoryGenitalia, Confidence: 12},
		{Category: "aliyun:political_flag", Confidence: 40},
	}, got.Records)
	assert.Equal(t, "aliyun-req", got.Raw["requestId"])

	require.NotNil(t, f.req)
	assert.Equal(t, "baselineCheck", tea.StringValue(f.req.Service))
	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(tea.StringValue(f.req.ServiceParameters)), &params))
	assert.Equal(t, "https://cdn.example.com/a.jpg", params["imageUrl"])
	assert.Equal(t, "req-1", params["dataId"])
}

func TestAnalyze_RequiresURL(t *testing.T) {
	p := newTestProvider(&fakeModerator{})

	_, err := p.Analyze(context.Background(), providers.AnalyzeRequest{Image: []byte{1, 2}})
	require.Error(t, err)
	assert.Equal(t, censor.ErrorCategoryValidation, censor.GetErrorCategory(err))
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name      string
		f         *fakeModerator
		retryable bool
	}{
		{
			name: "throttled",
			f: &fakeModerator{err: &tea.SDKError{
				Code: tea.String("Throttling"), Message: tea.String("slow down"), StatusCode: tea.Int(429),
			}},
			retryable: true,
		},
		{
			name: "forbidden",
			f: &fakeModerator{err: &tea.SDKError{
				Code: tea.String("Forbidden.RAM"), Message: tea.String("no permission"), StatusCode: tea.Int(403),
			}},
			retryable: false,
		},
		{
			name:      "network",
			f:         &fakeModerator{err: errors.New("dial tcp: connection refused")},
			retryable: true,
		},
		{
			name: "body code",
			f: &fakeModerator{resp: &green.ImageModerationResponse{
				Body: &green.ImageModerationResponseBody{Code: tea.Int32(400), Msg: tea.String("bad url")},
			}},
			retryable: false,
		},
		{
			name:      "empty body",
			f:         &fakeModerator{resp: &green.ImageModerationResponse{}},
			retryable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(tt.f)
			_, err := p.Analyze(context.Background(), providers.AnalyzeRequest{ImageURL: "https://x/a.jpg"})
			require.Error(t, err)
			assert.True(t, censor.IsProviderError(err))
			assert.Equal(t, tt.retryable, censor.IsRetryable(err))
		})
	}
}

func TestAnalyze_CanceledContext(t *testing.T) {
	f := &fakeModerator{}
	p := newTestProvider(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Analyze(ctx, providers.AnalyzeRequest{ImageURL: "https://x/a.jpg"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.req)
}

func TestTranslate_Nil(t *testing.T) {
	assert.Empty(t, translate(nil))
}
