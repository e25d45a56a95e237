package tencent

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

type fakeModerator struct {
	req  *ims.ImageModerationRequest
	resp *ims.ImageModerationResponse
	err  error
}

func (f *fakeModerator) ImageModerationWithContext(_ context.Context, req *ims.ImageModerationRequest) (*ims.ImageModerationResponse, error) {
	f.req = req
	return f.resp, f.err
}

func response(p *ims.ImageModerationResponseParams) *ims.ImageModerationResponse {
	resp := ims.NewImageModerationResponse()
	resp.Response = p
	return resp
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, censor.ErrMissingConfig)
}

func TestAnalyze_Bytes(t *testing.T) {
	f := &fakeModerator{resp: response(&ims.ImageModerationResponseParams{
		Suggestion: common.StringPtr("Review"),
		Label:      common.StringPtr("Porn"),
		Score:      common.Int64Ptr(77),
		LabelResults: []*ims.LabelResult{
			{Label: common.StringPtr("Porn"), Score: common.Int64Ptr(77)},
			{Label: common.StringPtr("Sexy"), Score: common.Int64Ptr(91)},
			{Label: common.StringPtr("Normal"), Score: common.Int64Ptr(99)},
			{Label: common.StringPtr("Ad"), Score: common.Int64Ptr(5)},
		},
		RequestId: common.StringPtr("tc-req"),
	})}
	p := &Provider{config: Config{BizType: "adult_policy"}, client: f}

	got, err := p.Analyze(context.Background(), providers.AnalyzeRequest{
		RequestID: "req-7",
		Image:     []byte("jpeg"),
	})
	require.NoError(t, err)

	assert.Equal(t, []censor.DetectionRecord{
		{Category: censor.CategoryBreast, Confidence: 91},
		{Category: censor.CategoryGenitalia, Confidence: 77},
		{Category: "tencent:Ad", Confidence: 5},
	}, got.Records)
	assert.Equal(t, "Review", got.Raw["suggestion"])

	require.NotNil(t, f.req.FileContent)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), *f.req.FileContent)
	assert.Nil(t, f.req.FileUrl)
	assert.Equal(t, "req-7", *f.req.DataId)
	assert.Equal(t, "adult_policy", *f.req.BizType)
}

func TestAnalyze_TopLevelLabel(t *testing.T) {
	f := &fakeModerator{resp: response(&ims.ImageModerationResponseParams{
		Label: common.StringPtr("Minor"),
		Score: common.Int64Ptr(64),
	})}
	p := &Provider{client: f}

	got, err := p.Analyze(context.Background(), providers.AnalyzeRequest{ImageURL: "https://x/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []censor.DetectionRecord{{Category: censor.CategoryChild, Confidence: 64}}, got.Records)
	assert.Equal(t, "https://x/a.jpg", *f.req.FileUrl)
}

func TestAnalyze_TooLarge(t *testing.T) {
	p := &Provider{client: &fakeModerator{}}
	_, err := p.Analyze(context.Background(), providers.AnalyzeRequest{Image: make([]byte, maxImageBytes+1)})
	assert.Equal(t, censor.ErrorCategoryValidation, censor.GetErrorCategory(err))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err       error
		category  censor.ErrorCategory
		retryable bool
	}{
		{sdkerrors.NewTencentCloudSDKError("RequestLimitExceeded", "too many", "r1"), censor.ErrorCategoryRateLimit, true},
		{sdkerrors.NewTencentCloudSDKError("AuthFailure.SignatureFailure", "bad sig", "r2"), censor.ErrorCategoryAuth, false},
		{sdkerrors.NewTencentCloudSDKError("InternalError", "oops", "r3"), censor.ErrorCategoryInternal, true},
		{sdkerrors.NewTencentCloudSDKError("InvalidParameter.ImageSizeTooSmall", "small", "r4"), censor.ErrorCategoryValidation, false},
		{errors.New("dial tcp: i/o timeout"), censor.ErrorCategoryNetwork, true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := mapError(tt.err)
			assert.Equal(t, tt.category, censor.GetErrorCategory(err))
			assert.Equal(t, tt.retryable, censor.IsRetryable(err))
		})
	}
}
