// factory.go - AI fallback provider factory

package ai

import (
	"fmt"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"go.uber.org/zap"
)

func geminiConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:          configs.GEMINI_API_KEY,
		Model:           configs.FALLBACK_MODEL_NAME,
		Endpoint:        configs.GEMINI_ENDPOINT,
		Temperature:     configs.AI_FALLBACK_TEMPERATURE,
		MaxOutputTokens: configs.AI_FALLBACK_MAX_TOKENS,
		Timeout:         configs.AI_FALLBACK_TIMEOUT,
	}
}

func mistralConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:          configs.MISTRAL_API_KEY,
		Model:           configs.MISTRAL_MODEL_NAME,
		Endpoint:        configs.MISTRAL_ENDPOINT,
		Temperature:     configs.AI_FALLBACK_TEMPERATURE,
		MaxOutputTokens: configs.AI_FALLBACK_MAX_TOKENS,
		Timeout:         configs.AI_FALLBACK_TIMEOUT,
	}
}

// CreateNameExtractor creates the configured provider. It returns nil
// without error when the provider has no API key: the fallback is disabled.
func CreateNameExtractor() (NameExtractor, error) {
	switch configs.FALLBACK_PROVIDER {
	case "gemini", "":
		if configs.GEMINI_API_KEY == "" {
			return nil, nil
		}
		common.Logger().Info("🔵 Creating Gemini fallback provider", zap.String("model", configs.FALLBACK_MODEL_NAME))
		return NewGeminiProvider(geminiConfig()), nil

	case "mistral":
		if configs.MISTRAL_API_KEY == "" {
			return nil, nil
		}
		common.Logger().Info("🔷 Creating Mistral fallback provider", zap.String("model", configs.MISTRAL_MODEL_NAME))
		return NewMistralProvider(mistralConfig()), nil

	default:
		return nil, fmt.Errorf("unsupported fallback provider: %s (supported: gemini, mistral)", configs.FALLBACK_PROVIDER)
	}
}

// CreateNameExtractorWithFallback creates the primary provider and, when the
// other provider has credentials, a secondary one tried after a failure.
func CreateNameExtractorWithFallback() (primary NameExtractor, fallback NameExtractor, err error) {
	primary, err = CreateNameExtractor()
	if err != nil || primary == nil {
		return primary, nil, err
	}

	switch primary.GetProviderName() {
	case "gemini":
		if configs.MISTRAL_API_KEY != "" {
			fallback = NewMistralProvider(mistralConfig())
			common.Logger().Info("✅ Fallback provider configured: Mistral")
		}
	case "mistral":
		if configs.GEMINI_API_KEY != "" {
			fallback = NewGeminiProvider(geminiConfig())
			common.Logger().Info("✅ Fallback provider configured: Gemini")
		}
	}
	return primary, fallback, nil
}
