// gemini_retry.go - Retry logic and error handling for AI provider calls

package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"google.golang.org/api/googleapi"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig fits inside AI_FALLBACK_TIMEOUT
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// ProviderError represents a categorized provider API error
type ProviderError struct {
	Provider      string
	OriginalError error
	Category      string
	StatusCode    int
	Message       string
	Retryable     bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s [%s] %s (status: %d, retryable: %v)", e.Provider, e.Category, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// HTTPStatusError is returned by plain HTTP providers for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// categorizeError analyzes error and determines retry strategy
func categorizeError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	providerErr := &ProviderError{
		Provider:      provider,
		OriginalError: err,
		Category:      "unknown",
		Message:       err.Error(),
	}

	statusCode := 0
	var apiErr *googleapi.Error
	var httpErr *HTTPStatusError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.Code
	case errors.As(err, &httpErr):
		statusCode = httpErr.StatusCode
	}

	if statusCode != 0 {
		providerErr.StatusCode = statusCode
		switch statusCode {
		case 400:
			providerErr.Category = "bad_request"
			providerErr.Message = "Invalid request format or parameters"
		case 401:
			providerErr.Category = "unauthorized"
			providerErr.Message = "Invalid API key or authentication failed"
		case 403:
			providerErr.Category = "forbidden"
			providerErr.Message = "API key lacks required permissions"
		case 404:
			providerErr.Category = "not_found"
			providerErr.Message = "Model not found or invalid endpoint"
		case 429:
			providerErr.Category = "rate_limit"
			providerErr.Message = "Rate limit exceeded - too many requests"
			providerErr.Retryable = true
		case 500, 502, 503, 504:
			providerErr.Category = "server_error"
			providerErr.Message = fmt.Sprintf("%s server error (%d)", provider, statusCode)
			providerErr.Retryable = true
		default:
			providerErr.Category = "unknown_api_error"
			providerErr.Retryable = statusCode >= 500
		}
		return providerErr
	}

	// Check for context errors
	if errors.Is(err, context.DeadlineExceeded) {
		providerErr.Category = "timeout"
		providerErr.Message = "Request timeout - processing took too long"
		providerErr.Retryable = true
		return providerErr
	}
	if errors.Is(err, context.Canceled) {
		providerErr.Category = "canceled"
		providerErr.Message = "Request was canceled"
		return providerErr
	}

	// Check error message for common patterns
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "quota") {
		providerErr.Category = "quota_exceeded"
		providerErr.Message = "API quota exceeded - daily or monthly limit reached"
		return providerErr
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline") {
		providerErr.Category = "timeout"
		providerErr.Message = "Request timeout"
		providerErr.Retryable = true
		return providerErr
	}
	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") {
		providerErr.Category = "network_error"
		providerErr.Message = "Network connection error"
		providerErr.Retryable = true
		return providerErr
	}

	return providerErr
}

// callWithRetry executes a provider call with retry logic
func callWithRetry[T any](
	ctx context.Context,
	provider string,
	reqCtx *common.RequestContext,
	config RetryConfig,
	call func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr *ProviderError

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if attempt > 1 {
			reqCtx.LogInfo("Retry attempt %d/%d", attempt, config.MaxAttempts)
		}

		resp, err := call(ctx)
		if err == nil {
			if attempt > 1 {
				reqCtx.LogInfo("✅ Retry succeeded on attempt %d", attempt)
			}
			return resp, nil
		}

		lastErr = categorizeError(provider, err)
		reqCtx.LogWarning("API call failed (attempt %d/%d): %s", attempt, config.MaxAttempts, lastErr.Error())

		if !lastErr.Retryable {
			return zero, lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, config)
		if lastErr.Category == "rate_limit" {
			delay *= 2
			reqCtx.LogWarning("Rate limit hit, waiting %v before retry", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context canceled during retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s API call failed after %d attempts: %w", provider, config.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff delay
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiple := config.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(multiple, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
