// mistral.go - Mistral AI client for AI fallback medicine name extraction

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
)

const defaultMistralEndpoint = "https://api.mistral.ai/v1/chat/completions"

// MistralProvider implements NameExtractor using Mistral chat completions
type MistralProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewMistralProvider creates a new Mistral AI provider
func NewMistralProvider(cfg ProviderConfig) *MistralProvider {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultMistralEndpoint
	}
	return &MistralProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// GetProviderName returns "mistral"
func (m *MistralProvider) GetProviderName() string {
	return "mistral"
}

type mistralMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralChatRequest struct {
	Model       string           `json:"model"`
	Messages    []mistralMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

type mistralChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      mistralMessage `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type mistralErrorResponse struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ExtractMedicineNames sends the recognized text to Mistral and parses the
// JSON array of names from its answer.
func (m *MistralProvider) ExtractMedicineNames(ctx context.Context, text string, reqCtx *common.RequestContext) ([]string, *common.TokenUsage, error) {
	if m.cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("mistral API key not configured")
	}
	reqCtx.LogInfo("🔷 Using Mistral AI provider (model: %s)", m.cfg.Model)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.cfg.limiter().Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	request := mistralChatRequest{
		Model:       m.cfg.Model,
		Messages:    []mistralMessage{{Role: "user", Content: BuildMedicineExtractionPrompt(text)}},
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxOutputTokens,
	}

	reqCtx.StartSubStep("mistral_chat_api_call")
	response, err := callWithRetry(ctx, m.GetProviderName(), reqCtx, m.cfg.Retry,
		func(ctx context.Context) (*mistralChatResponse, error) {
			return m.callChatAPI(ctx, request)
		})
	if err != nil {
		reqCtx.EndSubStep("❌ FAILED")
		return nil, nil, fmt.Errorf("mistral chat API call failed: %w", err)
	}
	reqCtx.EndSubStep("")

	usage := common.CalculateTokenCost(response.Usage.PromptTokens, response.Usage.CompletionTokens)

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return nil, &usage, fmt.Errorf("no content in Mistral response")
	}
	names, err := ParseNameArray(response.Choices[0].Message.Content)
	if err != nil {
		return nil, &usage, err
	}
	return names, &usage, nil
}

// callChatAPI makes the HTTP request to the chat completions endpoint
func (m *MistralProvider) callChatAPI(ctx context.Context, request mistralChatRequest) (*mistralChatResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := string(body)
		var errorResp mistralErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil {
			if errorResp.Error.Message != "" {
				message = errorResp.Error.Message
			} else if errorResp.Message != "" {
				message = errorResp.Message
			}
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: message}
	}

	var response mistralChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse chat response: %w", err)
	}
	return &response, nil
}
