package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/auilabs/aui/pkg/observability"
	"github.com/auilabs/aui/pkg/protocol"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to OpenAI-compatible chat-completion endpoints.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) DefaultModel() string { return p.model }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	tracer := observability.GetTracer("aui.llms")
	ctx, span := tracer.Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String(observability.AttrModel, model),
			attribute.String("provider", "openai"),
		))
	defer span.End()

	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, providerErr("openai", "Complete", "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, providerErr("openai", "Complete", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, providerErr("openai", "Complete", "request failed", protocol.ErrAdapterFailure)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providerErr("openai", "Complete", "read response", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, providerErr("openai", "Complete",
			fmt.Sprintf("decode response (status %d)", httpResp.StatusCode), err)
	}
	if parsed.Error != nil {
		apiErr := providerErr("openai", "Complete", parsed.Error.Message, protocol.ErrAdapterFailure)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, parsed.Error.Message)
		return nil, apiErr
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, providerErr("openai", "Complete",
			fmt.Sprintf("status %d: %s", httpResp.StatusCode, truncate(string(raw), 200)),
			protocol.ErrAdapterFailure)
	}
	if len(parsed.Choices) == 0 {
		return nil, providerErr("openai", "Complete", "empty choices", protocol.ErrAdapterFailure)
	}

	resp := &Response{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if resp.InputTokens == 0 {
		resp.InputTokens = EstimateTokens(req.SystemPrompt + req.UserPrompt)
	}
	if resp.OutputTokens == 0 {
		resp.OutputTokens = EstimateTokens(resp.Text)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, resp.InputTokens),
		attribute.Int(observability.AttrTokensOutput, resp.OutputTokens),
	)
	span.SetStatus(codes.Ok, "success")
	return resp, nil
}
