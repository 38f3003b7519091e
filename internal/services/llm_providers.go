package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/auditreport/internal/config"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

const geminiHost = "generativelanguage.googleapis.com"

// providerForModel routes a model name to the SDK that serves it.
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	default:
		return ProviderOllama
	}
}

// ProviderInvoker is the production Invoker: one SDK call per Invoke, with
// SDK errors normalized to *ProviderError.
type ProviderInvoker struct {
	cfg *config.LLMConfig
}

func NewProviderInvoker(cfg *config.LLMConfig) *ProviderInvoker {
	return &ProviderInvoker{cfg: cfg}
}

func (p *ProviderInvoker) Invoke(ctx context.Context, model, prompt string) (*InvokeResult, error) {
	provider := providerForModel(model)
	if provider == ProviderOpenAI && p.cfg.OpenAI.Azure {
		provider = ProviderAzure
	}
	logger.Debugf("[Generative] Using provider: %s, model: %s", provider, model)

	switch provider {
	case ProviderAnthropic:
		return p.callAnthropic(ctx, model, prompt)
	case ProviderGemini:
		return p.callGemini(ctx, model, prompt)
	case ProviderOllama:
		return p.callOllama(ctx, model, prompt)
	default:
		return p.callOpenAI(ctx, provider, model, prompt)
	}
}

// callOpenAI handles OpenAI, Azure OpenAI and OpenAI-compatible endpoints.
func (p *ProviderInvoker) callOpenAI(ctx context.Context, provider, model, prompt string) (*InvokeResult, error) {
	var clientConfig openai.ClientConfig
	if provider == ProviderAzure {
		// Model is used as the deployment name.
		clientConfig = openai.DefaultAzureConfig(p.cfg.OpenAI.APIKey, p.cfg.OpenAI.BaseURL)
	} else {
		clientConfig = openai.DefaultConfig(p.cfg.OpenAI.APIKey)
		if p.cfg.OpenAI.BaseURL != "" {
			clientConfig.BaseURL = p.cfg.OpenAI.BaseURL
		}
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, openAIError(provider, model, clientConfig.BaseURL, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: provider, Model: model, Message: "no choices in response"}
	}

	return &InvokeResult{
		Text:     resp.Choices[0].Message.Content,
		Provider: provider,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func openAIError(provider, model, baseURL string, err error) error {
	pe := &ProviderError{Provider: provider, Model: model, Host: hostOf(baseURL), Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
		if apiErr.Code != nil {
			pe.Code = fmt.Sprint(apiErr.Code)
		}
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}

// callAnthropic handles Anthropic Claude API using the native SDK.
func (p *ProviderInvoker) callAnthropic(ctx context.Context, model, prompt string) (*InvokeResult, error) {
	opts := []option.RequestOption{option.WithAPIKey(p.cfg.Anthropic.APIKey), option.WithMaxRetries(0)}
	if p.cfg.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.Anthropic.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		pe := &ProviderError{Provider: ProviderAnthropic, Model: model, Host: "api.anthropic.com", Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
		}
		return nil, pe
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &InvokeResult{
		Text:     content.String(),
		Provider: ProviderAnthropic,
		Usage:    models.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

// callGemini handles Google Gemini API using the native SDK.
func (p *ProviderInvoker) callGemini(ctx context.Context, model, prompt string) (*InvokeResult, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Model: model, Host: geminiHost, Err: err}
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		pe := &ProviderError{Provider: ProviderGemini, Model: model, Host: geminiHost, Err: err}
		var apiErr *genai.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.Code
			pe.Code = apiErr.Status
			pe.Message = apiErr.Message
		}
		return nil, pe
	}

	result := &InvokeResult{Text: resp.Text(), Provider: ProviderGemini}
	if md := resp.UsageMetadata; md != nil {
		result.Usage = models.TokenUsage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return result, nil
}

// callOllama handles Ollama API using the native SDK.
func (p *ProviderInvoker) callOllama(ctx context.Context, model, prompt string) (*InvokeResult, error) {
	baseURL := p.cfg.Ollama.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	stream := false
	var content strings.Builder
	var usage models.TokenUsage
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Stream:   &stream,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Options:  map[string]interface{}{"temperature": 0.3},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
			usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		pe := &ProviderError{Provider: ProviderOllama, Model: model, Host: u.Host, Err: err}
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			pe.StatusCode = statusErr.StatusCode
			pe.Message = statusErr.ErrorMessage
		}
		return nil, pe
	}

	return &InvokeResult{Text: content.String(), Provider: ProviderOllama, Usage: usage}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
