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

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server over its chat API.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	if host == "" {
		host = defaultOllamaHost
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		baseURL:    strings.TrimSuffix(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) DefaultModel() string { return p.model }

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	tracer := observability.GetTracer("aui.llms")
	ctx, span := tracer.Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String(observability.AttrModel, model),
			attribute.String("provider", "ollama"),
		))
	defer span.End()

	var messages []ollamaMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.UserPrompt})

	body := ollamaRequest{Model: model, Messages: messages, Stream: false}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	var parsed ollamaResponse
	if err := p.post(ctx, "/api/chat", body, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if parsed.Error != "" {
		err := providerErr("ollama", "Complete", parsed.Error, protocol.ErrAdapterFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, parsed.Error)
		return nil, err
	}

	resp := &Response{
		Text:         parsed.Message.Content,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
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

func (p *OllamaProvider) post(ctx context.Context, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return providerErr("ollama", "Complete", "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return providerErr("ollama", "Complete", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return providerErr("ollama", "Complete", "request failed", protocol.ErrAdapterFailure)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providerErr("ollama", "Complete", "read response", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return providerErr("ollama", "Complete",
			fmt.Sprintf("status %d: %s", httpResp.StatusCode, truncate(string(raw), 200)),
			protocol.ErrAdapterFailure)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providerErr("ollama", "Complete", "decode response", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
