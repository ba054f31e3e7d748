// request_context.go - Request tracking and logging system

package common

import (
	"fmt"
	"sync"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestContext tracks one pipeline run with timing and AI token costs
type RequestContext struct {
	RequestID           string
	Source              string // "image" or "text"
	StartTime           time.Time
	Steps               []StepLog
	TotalTokens         TokenUsage
	CurrentStep         string
	CurrentStepStart    time.Time
	CurrentSubSteps     []SubStepLog
	CurrentSubStep      string
	CurrentSubStepStart time.Time

	logger *zap.Logger
	mu     sync.Mutex
}

// StepLog represents a single processing step
type StepLog struct {
	Name      string       `json:"name"`
	StartTime time.Time    `json:"start_time"`
	Duration  int64        `json:"duration_ms"`
	Status    string       `json:"status"` // "success", "failed", "skipped", "degraded"
	Tokens    *TokenUsage  `json:"tokens,omitempty"`
	Error     string       `json:"error,omitempty"`
	SubSteps  []SubStepLog `json:"sub_steps,omitempty"`
}

// SubStepLog represents a detailed sub-operation within a step
type SubStepLog struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Duration  int64     `json:"duration_ms"`
	Details   string    `json:"details,omitempty"`
}

// TokenUsage tracks API token consumption
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

var stepDescriptions = map[string]string{
	"recognize":       "🔍 Recognize prescription text",
	"load_catalogue":  "📚 Load medicine catalogue",
	"clean_text":      "🧹 Clean recognized text",
	"extract":         "✂️ Extract candidate tokens",
	"match":           "💊 Match against catalogue",
	"reconcile":       "🤖 AI fallback reconciliation",
	"assemble":        "📦 Assemble result",
	"preprocess":      "🔧 Preprocess image",
	"load_model":      "🧠 Load handwriting model",
	"infer":           "⚡ Run handwriting inference",
	"decode":          "🔡 Decode character sequence",
	"call_gemini_api": "🚀 Call Gemini API",
	"parse_response":  "🔄 Parse AI response",
}

// NewRequestContext creates a new request tracking context
func NewRequestContext(source string) *RequestContext {
	reqID := uuid.New().String()
	now := time.Now()

	logger := Logger().With(zap.String("request_id", reqID))
	logger.Info("🚀 New prescription analysis", zap.String("source", source))

	return &RequestContext{
		RequestID:   reqID,
		Source:      source,
		StartTime:   now,
		Steps:       []StepLog{},
		TotalTokens: TokenUsage{},
		logger:      logger,
	}
}

// Log returns the request-scoped logger. A nil context logs through the process logger.
func (rc *RequestContext) Log() *zap.Logger {
	if rc == nil || rc.logger == nil {
		return Logger()
	}
	return rc.logger
}

// StartStep begins tracking a new processing step
func (rc *RequestContext) StartStep(stepName string) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	rc.CurrentStep = stepName
	rc.CurrentStepStart = time.Now()
	rc.mu.Unlock()

	rc.Log().Debug("┌── "+describe(stepDescriptions, stepName), zap.String("step", stepName))
}

// EndStep completes the current step and records timing
func (rc *RequestContext) EndStep(status string, tokens *TokenUsage, err error) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	duration := time.Since(rc.CurrentStepStart)
	stepLog := StepLog{
		Name:      rc.CurrentStep,
		StartTime: rc.CurrentStepStart,
		Duration:  duration.Milliseconds(),
		Status:    status,
		Tokens:    tokens,
		SubSteps:  rc.CurrentSubSteps,
	}
	if tokens != nil {
		rc.TotalTokens.InputTokens += tokens.InputTokens
		rc.TotalTokens.OutputTokens += tokens.OutputTokens
		rc.TotalTokens.TotalTokens += tokens.TotalTokens
		rc.TotalTokens.CostUSD += tokens.CostUSD
	}
	if err != nil {
		stepLog.Error = err.Error()
	}
	rc.Steps = append(rc.Steps, stepLog)
	rc.CurrentStep = ""
	rc.CurrentSubSteps = []SubStepLog{}
	rc.mu.Unlock()

	fields := []zap.Field{
		zap.String("step", stepLog.Name),
		zap.String("status", status),
		zap.Duration("duration", duration),
	}
	if tokens != nil {
		fields = append(fields, zap.Int("input_tokens", tokens.InputTokens), zap.Int("output_tokens", tokens.OutputTokens))
	}
	if len(stepLog.SubSteps) > 0 {
		fields = append(fields, zap.Int("sub_steps", len(stepLog.SubSteps)))
	}
	if err != nil {
		rc.Log().Warn("❌ Step failed", append(fields, zap.Error(err))...)
		return
	}
	rc.Log().Info("└── ✅ Step finished", fields...)
}

// StartSubStep begins tracking a detailed sub-operation
func (rc *RequestContext) StartSubStep(subStepName string) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	rc.CurrentSubStep = subStepName
	rc.CurrentSubStepStart = time.Now()
	rc.mu.Unlock()

	rc.Log().Debug("   ├─ "+describe(stepDescriptions, subStepName), zap.String("sub_step", subStepName))
}

// EndSubStep completes the current sub-step and records timing
func (rc *RequestContext) EndSubStep(details string) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	if rc.CurrentSubStep == "" {
		rc.mu.Unlock()
		return
	}
	duration := time.Since(rc.CurrentSubStepStart)
	subStepLog := SubStepLog{
		Name:      rc.CurrentSubStep,
		StartTime: rc.CurrentSubStepStart,
		Duration:  duration.Milliseconds(),
		Details:   details,
	}
	rc.CurrentSubSteps = append(rc.CurrentSubSteps, subStepLog)
	rc.CurrentSubStep = ""
	rc.mu.Unlock()

	rc.Log().Debug("   └─ ✅", zap.String("sub_step", subStepLog.Name), zap.Duration("duration", duration), zap.String("details", details))
}

// LogInfo logs info-level message with request ID
func (rc *RequestContext) LogInfo(format string, args ...interface{}) {
	rc.Log().Info("ℹ️  " + fmt.Sprintf(format, args...))
}

// LogWarning logs warning-level message with request ID
func (rc *RequestContext) LogWarning(format string, args ...interface{}) {
	rc.Log().Warn("⚠️  " + fmt.Sprintf(format, args...))
}

// LogError logs error-level message with request ID
func (rc *RequestContext) LogError(format string, args ...interface{}) {
	rc.Log().Error("❌ " + fmt.Sprintf(format, args...))
}

// CalculateTokenCost computes the USD cost of an AI fallback call
func CalculateTokenCost(inputTokens, outputTokens int) TokenUsage {
	inputCost := float64(inputTokens) * configs.GEMINI_INPUT_PRICE_PER_MILLION / 1_000_000
	outputCost := float64(outputTokens) * configs.GEMINI_OUTPUT_PRICE_PER_MILLION / 1_000_000

	return TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      inputCost + outputCost,
	}
}

// GetSummary returns a final summary of the entire request
func (rc *RequestContext) GetSummary() map[string]interface{} {
	rc.mu.Lock()
	totalDuration := time.Since(rc.StartTime).Milliseconds()
	stepBreakdown := make(map[string]int64, len(rc.Steps))
	for _, step := range rc.Steps {
		stepBreakdown[step.Name] = step.Duration
	}
	totals := rc.TotalTokens
	steps := len(rc.Steps)
	rc.mu.Unlock()

	summary := map[string]interface{}{
		"request_id":         rc.RequestID,
		"source":             rc.Source,
		"total_duration_ms":  totalDuration,
		"total_duration_sec": float64(totalDuration) / 1000,
		"step_breakdown":     stepBreakdown,
		"total_steps":        steps,
		"token_usage": map[string]interface{}{
			"input_tokens":  totals.InputTokens,
			"output_tokens": totals.OutputTokens,
			"total_tokens":  totals.TotalTokens,
			"cost_usd":      fmt.Sprintf("$%.4f", totals.CostUSD),
		},
	}

	rc.Log().Info("🎯 Analysis summary",
		zap.Int64("total_duration_ms", totalDuration),
		zap.Int("steps", steps),
		zap.Int("total_tokens", totals.TotalTokens),
		zap.Float64("cost_usd", totals.CostUSD),
	)

	return summary
}

// GetPartialSummary returns a summary of completed steps (for timeout scenarios)
func (rc *RequestContext) GetPartialSummary() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	completedSteps := []string{}
	for _, step := range rc.Steps {
		if step.Status == "success" {
			completedSteps = append(completedSteps, step.Name)
		}
	}

	return map[string]interface{}{
		"completed_steps": completedSteps,
		"total_steps":     len(rc.Steps),
		"current_step":    rc.CurrentStep,
	}
}

func describe(descriptions map[string]string, name string) string {
	if desc := descriptions[name]; desc != "" {
		return desc
	}
	return name
}
