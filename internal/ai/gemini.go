// gemini.go - Gemini client for AI fallback medicine name extraction

package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements NameExtractor using the Gemini API
type GeminiProvider struct {
	cfg ProviderConfig
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	return &GeminiProvider{cfg: cfg.withDefaults()}
}

// GetProviderName returns "gemini"
func (g *GeminiProvider) GetProviderName() string {
	return "gemini"
}

// ExtractMedicineNames sends the recognized text to Gemini and parses the
// JSON array of names from its answer.
func (g *GeminiProvider) ExtractMedicineNames(ctx context.Context, text string, reqCtx *common.RequestContext) ([]string, *common.TokenUsage, error) {
	if g.cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("gemini API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if err := g.cfg.limiter().Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqCtx.StartSubStep("init_gemini_client")
	opts := []option.ClientOption{option.WithAPIKey(g.cfg.APIKey)}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		reqCtx.EndSubStep("❌ FAILED")
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     ptr(float32(g.cfg.Temperature)),
		MaxOutputTokens: ptr(int32(g.cfg.MaxOutputTokens)),
	}
	reqCtx.EndSubStep(fmt.Sprintf("model=%s", g.cfg.Model))

	reqCtx.StartSubStep("call_gemini_api")
	prompt := BuildMedicineExtractionPrompt(text)
	resp, err := callWithRetry(ctx, g.GetProviderName(), reqCtx, g.cfg.Retry,
		func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			return model.GenerateContent(ctx, genai.Text(prompt))
		})
	if err != nil {
		reqCtx.EndSubStep("❌ FAILED")
		return nil, nil, err
	}
	reqCtx.EndSubStep("")

	var usage *common.TokenUsage
	if resp.UsageMetadata != nil {
		cost := common.CalculateTokenCost(
			int(resp.UsageMetadata.PromptTokenCount),
			int(resp.UsageMetadata.CandidatesTokenCount),
		)
		usage = &cost
	}

	reqCtx.StartSubStep("parse_response")
	answer := responseText(resp)
	if answer == "" {
		reqCtx.EndSubStep("empty")
		return nil, usage, fmt.Errorf("no content in Gemini response")
	}
	names, err := ParseNameArray(answer)
	if err != nil {
		reqCtx.EndSubStep("❌ FAILED")
		return nil, usage, err
	}
	reqCtx.EndSubStep(fmt.Sprintf("%d names", len(names)))
	return names, usage, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

func ptr[T any](v T) *T {
	return &v
}
