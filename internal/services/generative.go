package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

var (
	ErrGenerationInterrupted = errors.New("the generation request was interrupted")
	ErrServiceOverloaded     = errors.New("the generative service is overloaded, please retry in 20-60 seconds")
	ErrServiceUnavailable    = errors.New("the generative service is currently unavailable")
)

// modelFallbacks maps a model family prefix to the alternates tried, in
// order, when the requested model is rate limited.
var modelFallbacks = []struct {
	prefix    string
	fallbacks []string
}{
	{prefix: "gemini-", fallbacks: []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-2.5-flash-lite"}},
	{prefix: "gpt-", fallbacks: []string{"gpt-4.1-mini", "gpt-4o-mini"}},
	{prefix: "claude-", fallbacks: []string{"claude-sonnet-4-5", "claude-haiku-4-5"}},
}

func fallbacksFor(model string) []string {
	for _, family := range modelFallbacks {
		if strings.HasPrefix(model, family.prefix) {
			return family.fallbacks
		}
	}
	return nil
}

// CandidateModels returns the requested model followed by its family
// fallbacks, deduplicated with the primary first.
func CandidateModels(model string) []string {
	if model == "" {
		return nil
	}
	candidates := []string{model}
	seen := map[string]bool{model: true}
	for _, m := range fallbacksFor(model) {
		if !seen[m] {
			seen[m] = true
			candidates = append(candidates, m)
		}
	}
	return candidates
}

// InvokeResult is the raw output of one provider call.
type InvokeResult struct {
	Text     string
	Usage    models.TokenUsage
	Provider string
}

// Invoker performs a single call against one model.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (*InvokeResult, error)
}

// UsageRecorder persists per-attempt accounting. Implementations must not block.
type UsageRecorder interface {
	Record(log *models.AIUsageLog)
}

type GenerateRequest struct {
	Model    string
	Prompt   string
	Timeout  time.Duration
	Feature  string
	ReportID string
}

type GenerateResult struct {
	Text  string
	Usage models.TokenUsage
	// Model is the candidate that actually served the request.
	Model string
}

// GenerationError is the typed failure returned by GenerativeClient.Generate.
// errors.Is matches it against the Err* sentinels by class.
type GenerationError struct {
	Class ErrorClass
	Model string
	Code  string
	Err   error
}

func (e *GenerationError) Error() string {
	switch e.Class {
	case ErrorClassTimeout:
		return ErrGenerationInterrupted.Error()
	case ErrorClassRateLimited:
		return ErrServiceOverloaded.Error()
	case ErrorClassUnavailable:
		return ErrServiceUnavailable.Error()
	}
	msg := fmt.Sprintf("generation failed on model %s", e.Model)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrGenerationInterrupted:
		return e.Class == ErrorClassTimeout
	case ErrServiceOverloaded:
		return e.Class == ErrorClassRateLimited
	case ErrServiceUnavailable:
		return e.Class == ErrorClassUnavailable
	}
	return false
}

func (e *GenerationError) Unwrap() error { return e.Err }

// GenerativeClient calls the external text-generation service with a
// per-attempt timeout and automatic model fallback on overload.
type GenerativeClient struct {
	invoker        Invoker
	usage          UsageRecorder
	defaultModel   string
	defaultTimeout time.Duration
}

func NewGenerativeClient(invoker Invoker, usage UsageRecorder, defaultModel string, defaultTimeout time.Duration) *GenerativeClient {
	return &GenerativeClient{
		invoker:        invoker,
		usage:          usage,
		defaultModel:   defaultModel,
		defaultTimeout: defaultTimeout,
	}
}

// DefaultModel is the model used when a request names none.
func (c *GenerativeClient) DefaultModel() string {
	return c.defaultModel
}

func (c *GenerativeClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	if req.Timeout <= 0 {
		req.Timeout = c.defaultTimeout
	}

	candidates := CandidateModels(req.Model)
	if len(candidates) == 0 {
		return nil, &GenerationError{Class: ErrorClassFatal, Err: errors.New("no model configured")}
	}

	for i, model := range candidates {
		last := i == len(candidates)-1
		logger.Infof("[Generative] Attempt %d/%d: model=%s feature=%s prompt=%d chars",
			i+1, len(candidates), model, req.Feature, len(req.Prompt))

		res, err := c.attempt(ctx, model, req, i+1)
		if err == nil {
			if i > 0 {
				logger.Infof("[Generative] Served by fallback model %s (requested %s)", model, req.Model)
			}
			generativeAttempts.WithLabelValues(model, "success").Inc()
			return &GenerateResult{Text: res.Text, Usage: res.Usage, Model: model}, nil
		}

		class := ClassifyError(err)
		generativeAttempts.WithLabelValues(model, class.String()).Inc()

		switch class {
		case ErrorClassTimeout:
			logger.Warnf("[Generative] Model %s interrupted: %v", model, err)
			return nil, &GenerationError{Class: class, Model: model, Err: err}
		case ErrorClassRateLimited:
			if !last {
				logger.Warnf("[Generative] Model %s overloaded, falling back to %s", model, candidates[i+1])
				generativeFallbacks.Inc()
				continue
			}
			logger.Warnf("[Generative] All %d candidate models overloaded", len(candidates))
			return nil, &GenerationError{Class: class, Model: model, Err: err}
		case ErrorClassUnavailable:
			logger.Errorf("[Generative] Service unavailable for model %s: %v", model, err)
			return nil, &GenerationError{Class: class, Model: model, Err: err}
		default:
			logger.Errorf("[Generative] Model %s failed: %v", model, err)
			return nil, &GenerationError{Class: ErrorClassFatal, Model: model, Code: providerCode(err), Err: err}
		}
	}

	// Unreachable: the last candidate always returns above.
	return nil, &GenerationError{Class: ErrorClassFatal, Model: req.Model, Err: errors.New("no candidate succeeded")}
}

type invokeOutcome struct {
	res *InvokeResult
	err error
}

// attempt races one invocation against the timeout. The timer is released
// on every return path by the deferred cancel.
func (c *GenerativeClient) attempt(ctx context.Context, model string, req GenerateRequest, n int) (*InvokeResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan invokeOutcome, 1)
	go func() {
		res, err := c.invoker.Invoke(attemptCtx, model, req.Prompt)
		done <- invokeOutcome{res: res, err: err}
	}()

	var out invokeOutcome
	select {
	case out = <-done:
		if out.err != nil && attemptCtx.Err() != nil && !errors.Is(out.err, attemptCtx.Err()) {
			out.err = fmt.Errorf("%w: %v", attemptCtx.Err(), out.err)
		}
		if out.err == nil && out.res == nil {
			out.err = fmt.Errorf("empty response from model %s", model)
		}
	case <-attemptCtx.Done():
		out.err = attemptCtx.Err()
	}

	c.record(req, model, n, out, time.Since(start))
	return out.res, out.err
}

func (c *GenerativeClient) record(req GenerateRequest, model string, n int, out invokeOutcome, latency time.Duration) {
	if c.usage == nil {
		return
	}
	entry := &models.AIUsageLog{
		Feature:        req.Feature,
		Model:          model,
		RequestedModel: req.Model,
		Attempt:        n,
		LatencyMs:      latency.Milliseconds(),
		Success:        out.err == nil,
	}
	if req.ReportID != "" {
		id := req.ReportID
		entry.ReportID = &id
	}
	if out.res != nil {
		entry.Provider = out.res.Provider
		entry.PromptTokens = out.res.Usage.PromptTokens
		entry.CompletionTokens = out.res.Usage.CompletionTokens
		entry.TotalTokens = out.res.Usage.TotalTokens
	}
	if out.err != nil {
		entry.Provider = providerName(out.err, model)
		entry.ErrorClass = ClassifyError(out.err).String()
		entry.ErrorMessage = truncate(out.err.Error(), 500)
	}
	c.usage.Record(entry)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
