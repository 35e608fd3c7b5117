// Package openai implements [llm.Provider] with the official OpenAI Go SDK.
//
// Besides api.openai.com it targets any server that speaks the Chat
// Completions protocol (LM Studio, vLLM, llama.cpp's llama-server). Such
// local servers usually ignore the API key, so one is only required when no
// base URL is configured.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// localAPIKey is sent to OpenAI-compatible servers configured without a key.
// The SDK refuses to build requests with an empty Authorization header.
const localAPIKey = "earshot-local"

// Provider answers completion requests through the Chat Completions API.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
}

type settings struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server, e.g.
// "http://localhost:1234/v1/".
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTimeout bounds each HTTP request. Zero leaves the SDK default.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries sets how often the SDK itself retries a failed request.
// The default is 0: the assistant's fallback group decides what happens
// after a failure, and SDK retries would only delay the spoken reply.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = max(n, 0) }
}

// New creates a Provider for model. apiKey may be empty only together with
// [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" {
		if s.baseURL == "" {
			return nil, errors.New("openai: api key required when no base URL is set")
		}
		apiKey = localAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(s.maxRetries),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}

	slog.Info("openai: provider ready", "model", model, "base_url", s.baseURL)
	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		baseURL: s.baseURL,
	}, nil
}

// Model returns the model identifier sent with every request.
func (p *Provider) Model() string { return p.model }

// Complete sends one non-streaming chat completion and returns the first
// choice, trimmed. A reply cut off by the token limit is still returned, but
// logged, because the assistant will speak an unfinished sentence.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai %s: build params: %w", p.model, err)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai %s: chat completion: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai %s: %w", p.model, llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		slog.Warn("openai: reply truncated by token limit", "model", p.model, "max_tokens", req.MaxTokens)
	}
	out := &llm.CompletionResponse{
		Content: strings.TrimSpace(choice.Message.Content),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	slog.Debug("openai: completion done",
		"model", p.model,
		"chars", len(out.Content),
		"tokens", out.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown role %q", m.Role)
}
