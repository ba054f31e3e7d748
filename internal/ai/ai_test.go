package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/processor"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ratelimit"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type mockExtractor struct {
	mock.Mock
	name string
}

func (m *mockExtractor) GetProviderName() string { return m.name }

func (m *mockExtractor) ExtractMedicineNames(ctx context.Context, text string, reqCtx *common.RequestContext) ([]string, *common.TokenUsage, error) {
	args := m.Called(ctx, text, reqCtx)
	names, _ := args.Get(0).([]string)
	usage, _ := args.Get(1).(*common.TokenUsage)
	return names, usage, args.Error(2)
}

func testCatalogue() *storage.Catalogue {
	return storage.NewCatalogue([]storage.Medicine{
		{Name: "Crocin", Substitutes: []string{"Pacimol 500"}},
		{Name: "Azithromycin"},
		{Name: "Paracetamol"},
	})
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiple: 2}
}

func TestParseNameArray(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
		wantErr  bool
	}{
		{"bare", `["Azithromycin", "Crocin"]`, []string{"Azithromycin", "Crocin"}, false},
		{"fenced", "```json\n[\n  \"Dolo 650\"\n]\n```", []string{"Dolo 650"}, false},
		{"prose", `Here you go: ["A1", 5, "", " B2 "] hope it helps [1]`, []string{"A1", "B2"}, false},
		{"empty array", `[]`, []string{}, false},
		{"no array", `I could not find any medicines.`, nil, true},
		{"empty", ``, nil, true},
		{"broken", `["Crocin", ]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNameArray(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildMedicineExtractionPrompt(t *testing.T) {
	prompt := BuildMedicineExtractionPrompt("Tab. Crocin 500")
	assert.Contains(t, prompt, "Prescription text:\nTab. Crocin 500\n")
	assert.Contains(t, prompt, "Return ONLY the JSON array")
}

func TestMatchName(t *testing.T) {
	catalogue := testCatalogue()

	exact, ok := MatchName("azithromycin", catalogue)
	require.True(t, ok)
	assert.Equal(t, processor.MatchAIExact, exact.Type)
	assert.Equal(t, 1.0, exact.Score)
	assert.Equal(t, "azithromycin", exact.Token)

	sub, ok := MatchName("Pacimol-500", catalogue)
	require.True(t, ok)
	assert.Equal(t, processor.MatchAISubstitute, sub.Type)
	assert.Equal(t, "Crocin", sub.Entry.Name)
	assert.Equal(t, 0.95, sub.Score)

	fuzzy, ok := MatchName("Paracitamol", catalogue)
	require.True(t, ok)
	assert.Equal(t, processor.MatchAIFuzzy, fuzzy.Type)
	assert.Equal(t, "Paracetamol", fuzzy.Entry.Name)
	assert.InDelta(t, 0.8, fuzzy.Score, 1e-9)

	_, ok = MatchName("Blorvax", catalogue)
	assert.False(t, ok)
	_, ok = MatchName("!!", catalogue)
	assert.False(t, ok)
}

func TestMatchNamesOnlyAddsNewEntries(t *testing.T) {
	catalogue := testCatalogue()
	crocin, _ := catalogue.Lookup("Crocin")
	existing := []processor.MatchCandidate{{Entry: crocin, Score: 1, Token: "Crocin", Type: processor.MatchExact}}

	got := MatchNames([]string{"Crocin", "Azithromycin", "azithromycin", "Pacimol 500", "Unknownium"}, catalogue, existing)
	require.Len(t, got, 1)
	assert.Equal(t, "Azithromycin", got[0].Entry.Name)
}

func TestReconcilerReturnsNetNewMatches(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	usage := &common.TokenUsage{InputTokens: 40, OutputTokens: 5, TotalTokens: 45}
	primary.On("ExtractMedicineNames", mock.Anything, "Crocin\nAzithrmycin", mock.Anything).
		Return([]string{"Crocin", "Azithromycin"}, usage, nil).Once()

	catalogue := testCatalogue()
	crocin, _ := catalogue.Lookup("Crocin")
	existing := []processor.MatchCandidate{{Entry: crocin, Score: 1, Token: "Crocin", Type: processor.MatchExact}}

	r := NewReconciler(primary, nil, time.Second, nil)
	out := r.Reconcile(context.Background(), "Crocin\nAzithrmycin", catalogue, existing, nil)

	require.NoError(t, out.Err)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, processor.MatchAIExact, out.Matches[0].Type)
	assert.Equal(t, "Azithromycin", out.Matches[0].Entry.Name)
	assert.Equal(t, []string{"Crocin", "Azithromycin"}, out.Names)
	assert.Equal(t, "gemini", out.Provider)
	assert.Same(t, usage, out.Tokens)
	primary.AssertExpectations(t)
}

func TestReconcilerFallsBackToSecondaryProvider(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	primary.On("ExtractMedicineNames", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("quota exhausted")).Once()
	secondary := &mockExtractor{name: "mistral"}
	secondary.On("ExtractMedicineNames", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"Paracetamol"}, nil, nil).Once()

	out := NewReconciler(primary, secondary, time.Second, nil).
		Reconcile(context.Background(), "Paracetmol", testCatalogue(), nil, nil)

	require.NoError(t, out.Err)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "mistral", out.Provider)
	primary.AssertExpectations(t)
	secondary.AssertExpectations(t)
}

func TestReconcilerNeverFails(t *testing.T) {
	failing := &mockExtractor{name: "gemini"}
	failing.On("ExtractMedicineNames", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil, ErrNoNameArray)

	out := NewReconciler(failing, nil, time.Second, nil).Reconcile(context.Background(), "x", testCatalogue(), nil, nil)
	assert.Empty(t, out.Matches)
	assert.ErrorIs(t, out.Err, ErrNoNameArray)

	panicking := &mockExtractor{name: "gemini"}
	panicking.On("ExtractMedicineNames", mock.Anything, mock.Anything, mock.Anything).
		Panic("boom")
	out = NewReconciler(panicking, nil, time.Second, nil).Reconcile(context.Background(), "x", testCatalogue(), nil, nil)
	assert.Empty(t, out.Matches)
	assert.Error(t, out.Err)

	var disabled *Reconciler
	assert.False(t, disabled.Enabled())
	out = NewReconciler(nil, nil, 0, nil).Reconcile(context.Background(), "x", testCatalogue(), nil, nil)
	assert.Empty(t, out.Matches)
	assert.NoError(t, out.Err)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err       error
		category  string
		retryable bool
	}{
		{&googleapi.Error{Code: 429}, "rate_limit", true},
		{&googleapi.Error{Code: 503}, "server_error", true},
		{&googleapi.Error{Code: 401}, "unauthorized", false},
		{&HTTPStatusError{StatusCode: 404}, "not_found", false},
		{&HTTPStatusError{StatusCode: 502}, "server_error", true},
		{context.DeadlineExceeded, "timeout", true},
		{context.Canceled, "canceled", false},
		{errors.New("dial tcp: connection refused"), "network_error", true},
		{errors.New("daily quota reached"), "quota_exceeded", false},
		{errors.New("weird"), "unknown", false},
	}
	for _, tt := range tests {
		got := categorizeError("gemini", tt.err)
		assert.Equal(t, tt.category, got.Category, tt.err.Error())
		assert.Equal(t, tt.retryable, got.Retryable, tt.err.Error())
		assert.ErrorIs(t, got, tt.err)
	}
	assert.Nil(t, categorizeError("gemini", nil))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiple: 2}
	assert.Equal(t, time.Second, calculateBackoff(1, cfg))
	assert.Equal(t, 2*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(3, cfg))
	assert.Equal(t, 5*time.Second, calculateBackoff(4, cfg))
}

func TestCallWithRetry(t *testing.T) {
	calls := 0
	got, err := callWithRetry(context.Background(), "gemini", nil, fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = callWithRetry(context.Background(), "gemini", nil, fastRetry(), func(context.Context) (string, error) {
		calls++
		return "", &googleapi.Error{Code: 400}
	})
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "bad_request", providerErr.Category)
	assert.Equal(t, 1, calls)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`["Crocin",`), genai.Text(` "Dolo 650"]`)}},
	}}}
	assert.Equal(t, `["Crocin", "Dolo 650"]`, responseText(resp))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
	assert.Equal(t, "", responseText(nil))
}

func TestGeminiWithoutKey(t *testing.T) {
	_, _, err := NewGeminiProvider(ProviderConfig{}).ExtractMedicineNames(context.Background(), "Crocin", nil)
	assert.Error(t, err)
}

func TestMistralProvider(t *testing.T) {
	var received mistralChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "mistral-small-latest",
			"choices": [{"message": {"role": "assistant", "content": "[\"Azithromycin\"]"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 52, "completion_tokens": 6, "total_tokens": 58}
		}`))
	}))
	defer server.Close()

	provider := NewMistralProvider(ProviderConfig{
		APIKey:          "test-key",
		Model:           "mistral-small-latest",
		Endpoint:        server.URL,
		Temperature:     0.1,
		MaxOutputTokens: 500,
		Limiter:         ratelimit.NewRateLimiter(5, time.Second),
		Retry:           fastRetry(),
	})
	names, usage, err := provider.ExtractMedicineNames(context.Background(), "Azithrmycin 500", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Azithromycin"}, names)
	require.NotNil(t, usage)
	assert.Equal(t, 58, usage.TotalTokens)

	assert.Equal(t, "mistral-small-latest", received.Model)
	assert.Equal(t, 500, received.MaxTokens)
	assert.InDelta(t, 0.1, received.Temperature, 1e-9)
	require.Len(t, received.Messages, 1)
	assert.Contains(t, received.Messages[0].Content, "Azithrmycin 500")
}

func TestMistralProviderErrorStatus(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Unauthorized"}`))
	}))
	defer server.Close()

	provider := NewMistralProvider(ProviderConfig{
		APIKey:   "bad",
		Endpoint: server.URL,
		Limiter:  ratelimit.NewRateLimiter(5, time.Second),
		Retry:    fastRetry(),
	})
	_, _, err := provider.ExtractMedicineNames(context.Background(), "Crocin", nil)
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusUnauthorized, providerErr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestCreateNameExtractor(t *testing.T) {
	saved := []string{configs.FALLBACK_PROVIDER, configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY}
	t.Cleanup(func() {
		configs.FALLBACK_PROVIDER, configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY = saved[0], saved[1], saved[2]
	})

	configs.FALLBACK_PROVIDER, configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY = "gemini", "", ""
	p, err := CreateNameExtractor()
	require.NoError(t, err)
	assert.Nil(t, p)

	configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY = "g-key", "m-key"
	primary, fallback, err := CreateNameExtractorWithFallback()
	require.NoError(t, err)
	assert.Equal(t, "gemini", primary.GetProviderName())
	assert.Equal(t, "mistral", fallback.GetProviderName())

	configs.FALLBACK_PROVIDER = "mistral"
	primary, fallback, err = CreateNameExtractorWithFallback()
	require.NoError(t, err)
	assert.Equal(t, "mistral", primary.GetProviderName())
	assert.Equal(t, "gemini", fallback.GetProviderName())

	configs.FALLBACK_PROVIDER = "openai"
	_, err = CreateNameExtractor()
	assert.Error(t, err)
}
