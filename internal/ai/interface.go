// interface.go - Name extraction provider interface for the AI fallback

package ai

import (
	"context"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ratelimit"
)

// NameExtractor asks a generative model for the medicine names in a block of
// recognized prescription text. Gemini and Mistral implement it.
type NameExtractor interface {
	// ExtractMedicineNames returns the names the model found, in the model's
	// order, plus the tokens the call consumed.
	ExtractMedicineNames(ctx context.Context, text string, reqCtx *common.RequestContext) ([]string, *common.TokenUsage, error)

	// GetProviderName returns the name of the provider (e.g., "gemini", "mistral")
	GetProviderName() string
}

// ProviderConfig contains configuration shared by the providers
type ProviderConfig struct {
	APIKey   string
	Model    string
	Endpoint string

	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration

	// Limiter guards outbound calls; nil uses the global limiter.
	Limiter *ratelimit.RateLimiter
	Retry   RetryConfig
}

func (c ProviderConfig) limiter() *ratelimit.RateLimiter {
	if c.Limiter != nil {
		return c.Limiter
	}
	return ratelimit.Global()
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 500
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryConfig
	}
	return c
}
