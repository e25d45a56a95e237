// Package aliyun provides Alibaba Cloud image moderation integration.
package aliyun

import (
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
)

// Config holds the configuration for Aliyun provider.
type Config struct {
	providers.ProviderConfig `mapstructure:",squash"`

	// Service is the Green image moderation service code.
	Service string `mapstructure:"service"`
}

// DefaultConfig returns the default Aliyun configuration.
func DefaultConfig() Config {
	return Config{
		ProviderConfig: providers.ProviderConfig{
			Region:   "cn-shanghai",
			Endpoint: "green-cip.cn-shanghai.aliyuncs.com",
			Timeout:  30 * time.Second,
		},
		Service: "baselineCheck",
	}
}

// Aliyun image labels to registry categories.
// Based on Aliyun Green image moderation documentation:
// https://help.aliyun.com/document_detail/467829.html
var labels = providers.LabelMap{
	// Pornography (色情)
	"pornographic_adultContent":     censor.CategoryGenitalia,
	"pornographic_adultContent_tii": censor.CategoryGenitalia,

	// Sexual hint (性感)
	"sexual_breastBump":  censor.CategoryBreast,
	"sexual_cleavage":    censor.CategoryBreast,
	"sexual_maleTopless": censor.CategoryBreast,

	// Faces (人脸)
	"face_human": censor.CategoryFace,

	// Minor safety (未成年)
	"minor_child": censor.CategoryChild,
}

// passLabels carry no detection.
var passLabels = map[string]bool{
	"nonLabel": true,
	"normal":   true,
}
