// Package embedder provides the embedding adapter interface and an Ollama
// implementation.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auilabs/aui/pkg/protocol"
)

// Node pairs a node id with the text to embed.
type Node struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// NodeEmbedding is one embedded node.
type NodeEmbedding struct {
	NodeID    string    `json:"node_id"`
	Embedding []float32 `json:"embedding"`
}

// Embedder is the embedding adapter interface.
type Embedder interface {
	EmbedNodes(ctx context.Context, nodes []Node) ([]NodeEmbedding, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Model() string
}

const (
	defaultOllamaHost = "http://localhost:11434"
	maxRetries        = 3
	retryBackoff      = 500 * time.Millisecond
)

// Ollama embeds through a local Ollama server's embeddings API.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewOllama(host, model string, timeout time.Duration) *Ollama {
	if host == "" {
		host = defaultOllamaHost
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Ollama{
		baseURL:    strings.TrimSuffix(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Model() string { return o.model }

func (o *Ollama) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		vec, err := o.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (o *Ollama) EmbedNodes(ctx context.Context, nodes []Node) ([]NodeEmbedding, error) {
	out := make([]NodeEmbedding, 0, len(nodes))
	for _, node := range nodes {
		vec, err := o.EmbedText(ctx, node.Text)
		if err != nil {
			return nil, protocol.NewComponentError("embedder", "EmbedNodes",
				fmt.Sprintf("node %s", node.ID), err)
		}
		out = append(out, NodeEmbedding{NodeID: node.ID, Embedding: vec})
	}
	return out, nil
}

func (o *Ollama) embedOnce(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewComponentError("embedder", "EmbedText", "request failed", protocol.ErrAdapterFailure)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, protocol.NewComponentError("embedder", "EmbedText",
			fmt.Sprintf("status %d", resp.StatusCode), protocol.ErrAdapterFailure)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, protocol.NewComponentError("embedder", "EmbedText", parsed.Error, protocol.ErrAdapterFailure)
	}
	if len(parsed.Embedding) == 0 {
		return nil, protocol.NewComponentError("embedder", "EmbedText", "empty embedding", protocol.ErrAdapterFailure)
	}
	return parsed.Embedding, nil
}
