// Package nudenet implements the client for the self-hosted NudeNet analysis
// server. The server runs nudity detection, face analysis and a child-safety
// pass, and exposes its configuration over HTTP.
package nudenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/syncer"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
	"github.com/phoenix4ge/censor/utils"
)

// ProviderName is the default provider name, also used as sync target.
const ProviderName = "nudenet"

// Config configures the NudeNet client.
type Config struct {
	// Name overrides ProviderName, for deployments running several servers.
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	ModelID int           `mapstructure:"model_id"`
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxImageBytes rejects larger uploads before they are sent.
	MaxImageBytes int `mapstructure:"max_image_bytes"`

	// HTTPClient replaces the default HTTP client, e.g. in tests.
	HTTPClient *http.Client `mapstructure:"-"`
}

// DefaultConfig returns the default configuration for a local server.
func DefaultConfig() Config {
	return Config{
		Name:          ProviderName,
		BaseURL:       "http://127.0.0.1:5000",
		ModelID:       1,
		Timeout:       30 * time.Second,
		MaxImageBytes: 20 << 20,
	}
}

// Labels maps the server's detector classes to registry categories.
var Labels = providers.LabelMap{
	"BREAST_EXPOSED":           censor.CategoryBreast,
	"FEMALE_BREAST_EXPOSED":    censor.CategoryBreast,
	"GENITALIA":                censor.CategoryGenitalia,
	"FEMALE_GENITALIA_EXPOSED": censor.CategoryGenitalia,
	"MALE_GENITALIA_EXPOSED":   censor.CategoryGenitalia,
	"BUTTOCKS_EXPOSED":         censor.CategoryButtocks,
	"ANUS_EXPOSED":             censor.CategoryAnus,
	"FACE_DETECTED":            censor.CategoryFace,
	"FACE_FEMALE":              censor.CategoryFace,
	"FACE_MALE":                censor.CategoryFace,
}

// formFields maps categories to the server's per-request switches.
var formFields = map[string]string{
	censor.CategoryBreast:           "enable_breast_detection",
	censor.CategoryGenitalia:        "enable_genitalia_detection",
	censor.CategoryButtocks:         "enable_buttocks_detection",
	censor.CategoryAnus:             "enable_anus_detection",
	censor.CategoryFace:             "enable_face_detection",
	censor.CategoryChild:            "enable_child_detection",
	censor.CategoryAgeEstimation:    "enable_age_estimation",
	censor.CategoryImageDescription: "enable_image_description",
}

// Client is a NudeNet server client. It is both an analyzer and the remote
// side of config synchronization.
type Client struct {
	name   string
	config Config
	http   *resty.Client
}

// New creates a new NudeNet client.
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("%w: nudenet base URL", censor.ErrMissingConfig)
	}
	def := DefaultConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.ModelID == 0 {
		config.ModelID = def.ModelID
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	var rc *resty.Client
	if config.HTTPClient != nil {
		rc = resty.NewWithClient(config.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")
	if config.APIKey != "" {
		rc.SetAuthToken(config.APIKey)
	}

	return &Client{name: config.Name, config: config, http: rc}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Capability returns what the server detects.
func (c *Client) Capability() providers.Capability {
	cats := make([]string, 0, len(formFields))
	for _, cat := range threshold.Categories() {
		if _, ok := formFields[cat.Name]; ok {
			cats = append(cats, cat.Name)
		}
	}
	return providers.Capability{
		Provider:      c.name,
		Categories:    cats,
		AcceptsBytes:  true,
		MaxImageBytes: c.config.MaxImageBytes,
		Configurable:  true,
	}
}

type analyzeResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`

	NudityDetection struct {
		DetectedParts map[string]float64 `json:"detected_parts"`
		NudityScore   float64            `json:"nudity_score"`
	} `json:"nudity_detection"`

	FaceAnalysis struct {
		FacesDetected bool `json:"faces_detected"`
		FaceCount     int  `json:"face_count"`
		MinAge        *int `json:"min_age"`
	} `json:"face_analysis"`

	ChildAnalysis struct {
		ContainsChildren   bool     `json:"contains_children"`
		ChildKeywordsFound []string `json:"child_keywords_found"`
		UnderageDetected   bool     `json:"underage_detected"`
		MinDetectedAge     *int     `json:"min_detected_age"`
	} `json:"child_analysis"`

	ImageDescription struct {
		Description string `json:"description"`
	} `json:"image_description"`
}

// Analyze uploads one image and returns the raw detections.
func (c *Client) Analyze(ctx context.Context, req providers.AnalyzeRequest) (providers.Analysis, error) {
	if err := providers.ValidateRequest(c, req); err != nil {
		return providers.Analysis{}, err
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	version, err := utils.Fingerprint(req.Params)
	if err != nil {
		return providers.Analysis{}, fmt.Errorf("nudenet: fingerprint params: %w", err)
	}

	filename := req.Filename
	if filename == "" {
		filename = "image.jpg"
	}

	r := c.http.R().
		SetContext(ctx).
		SetFileReader("image", filename, bytes.NewReader(req.Image)).
		SetFormData(c.formData(req, version))

	resp, err := r.Post("/analyze")
	body, err := c.check(ctx, "analyze", resp, err)
	if err != nil {
		return providers.Analysis{}, err
	}

	var (
		out analyzeResponse
		raw map[string]any
	)
	for _, v := range []any{&out, &raw} {
		if err := json.Unmarshal(body, v); err != nil {
			return providers.Analysis{}, censor.NewProviderError(c.name, "invalid_response", err.Error()).
				WithStatusCode(resp.StatusCode()).WithCause(err)
		}
	}
	if out.Success != nil && !*out.Success {
		return providers.Analysis{}, censor.NewRemoteRejectionError(c.name, resp.StatusCode(), out.Error)
	}

	signals := censor.ChildSignals{
		ContainsChildren: out.ChildAnalysis.ContainsChildren,
		UnderageDetected: out.ChildAnalysis.UnderageDetected,
		KeywordsFound:    out.ChildAnalysis.ChildKeywordsFound,
		MinAge:           out.ChildAnalysis.MinDetectedAge,
		Description:      out.ImageDescription.Description,
	}
	if signals.MinAge == nil {
		signals.MinAge = out.FaceAnalysis.MinAge
	}

	return providers.Analysis{
		Provider:      c.name,
		RequestID:     req.RequestID,
		Records:       Labels.Records(c.name, out.NudityDetection.DetectedParts, 1),
		Signals:       signals,
		ConfigVersion: version,
		Raw:           raw,
	}, nil
}

// formData builds the per-request switches. Categories the parameter set
// does not request are switched off; child protection never is.
func (c *Client) formData(req providers.AnalyzeRequest, version string) map[string]string {
	uc := req.Context
	if uc == "" {
		uc = req.Params.Context()
	}
	form := map[string]string{
		"context_type":   string(uc),
		"model_id":       strconv.Itoa(c.config.ModelID),
		"config_version": version,
	}
	for cat, field := range formFields {
		on := req.Params.IsZero() || req.Params.Requests(cat) || threshold.IsAlwaysOn(cat)
		form[field] = strconv.FormatBool(on)
	}
	if !req.Params.IsZero() {
		form["nudity_score_threshold"] = strconv.Itoa(req.Params.NudityScoreThreshold())
		form["child_risk_threshold"] = strconv.Itoa(req.Params.ChildRiskThreshold())
		form["child_keywords"] = strings.Join(req.Params.ChildSafetyKeywords(), ",")
	}
	return form
}

type configResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Config  json.RawMessage `json:"active_config"`
}

// Fetch returns the server's active configuration for uc. A server that was
// never configured returns the zero parameter set.
func (c *Client) Fetch(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, error) {
	if err := c.checkTarget(target); err != nil {
		return translate.RemoteParameterSet{}, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("context", string(uc)).
		Get("/config/{context}")
	body, err := c.check(ctx, "fetch_config", resp, err)
	if err != nil {
		return translate.RemoteParameterSet{}, err
	}

	var out configResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return translate.RemoteParameterSet{}, censor.NewProviderError(c.name, "invalid_response", err.Error()).
			WithStatusCode(resp.StatusCode()).WithCause(err)
	}
	if !out.Success {
		return translate.RemoteParameterSet{}, censor.NewRemoteRejectionError(c.name, resp.StatusCode(), out.Error)
	}

	var params translate.RemoteParameterSet
	if len(out.Config) == 0 || string(out.Config) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(out.Config, &params); err != nil {
		return translate.RemoteParameterSet{}, censor.NewProviderError(c.name, "invalid_config", err.Error()).
			WithStatusCode(resp.StatusCode()).WithCause(err)
	}
	return params, nil
}

// Apply replaces the server's active configuration. The server swaps the
// whole document at once, so a failed Apply leaves the old one in place.
func (c *Client) Apply(ctx context.Context, target string, params translate.RemoteParameterSet) error {
	if err := c.checkTarget(target); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post("/config")
	body, err := c.check(ctx, "apply_config", resp, err)
	if err != nil {
		return err
	}

	var out configResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return censor.NewProviderError(c.name, "invalid_response", err.Error()).
			WithStatusCode(resp.StatusCode()).WithCause(err)
	}
	if !out.Success {
		return censor.NewRemoteRejectionError(c.name, resp.StatusCode(), out.Error)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	body, err := c.check(ctx, "health", resp, err)
	if err != nil {
		return err
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Status != "healthy" {
		return censor.NewTransientRemoteError(c.name, "health", fmt.Errorf("server reports status %q", out.Status))
	}
	return nil
}

func (c *Client) checkTarget(target string) error {
	if target != c.name {
		return fmt.Errorf("%w: %s", censor.ErrRemoteNotFound, target)
	}
	return nil
}

// check maps transport failures and HTTP status codes onto the error types
// callers branch on: network trouble, timeouts, 429 and 5xx are transient,
// any other non-2xx status is a rejection. A done ctx is returned as is.
func (c *Client) check(ctx context.Context, op string, resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, censor.NewTransientRemoteError(c.name, op, censor.WrapNetworkError(err))
	}

	code := resp.StatusCode()
	body := resp.Body()
	switch {
	case code >= 200 && code < 300:
		return body, nil
	case code == http.StatusTooManyRequests:
		return nil, censor.NewTransientRemoteError(c.name, op,
			fmt.Errorf("%w: status %d", censor.ErrRateLimited, code))
	case code == http.StatusRequestTimeout || code >= 500:
		return nil, censor.NewTransientRemoteError(c.name, op,
			censor.NewProviderError(c.name, strconv.Itoa(code), errorMessage(body)).WithStatusCode(code))
	default:
		return nil, censor.NewRemoteRejectionError(c.name, code, errorMessage(body))
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

var (
	_ providers.Analyzer = (*Client)(nil)
	_ syncer.Remote      = (*Client)(nil)
)
