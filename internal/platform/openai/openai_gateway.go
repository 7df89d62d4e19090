// Package openai implements gateway.Gateway against any OpenAI-compatible
// chat completions endpoint. Prompts come from the shared catalog.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ErrIndexUnsupported is returned by IndexContent.
var ErrIndexUnsupported = fmt.Errorf("%w: knowledge indexing not supported by chat completions", domain.ErrExternalService)

// Gateway wraps an OpenAI-compatible API client per capability key.
type Gateway struct {
	baseURL string
	model   string
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewGateway creates a Gateway. An empty baseURL uses the OpenAI default.
func NewGateway(baseURL, model string, logger *slog.Logger) *Gateway {
	if model == "" {
		model = DefaultModel
	}
	return &Gateway{
		baseURL: baseURL,
		model:   model,
		logger:  logger.With("component", "openai_gateway"),
		clients: make(map[string]*openai.Client),
	}
}

func (g *Gateway) client(apiKey string) *openai.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c
	}
	config := openai.DefaultConfig(apiKey)
	if g.baseURL != "" {
		config.BaseURL = g.baseURL
	}
	c := openai.NewClientWithConfig(config)
	g.clients[apiKey] = c
	return c
}

// RunWorkflow implements gateway.Gateway.
func (g *Gateway) RunWorkflow(ctx context.Context, req gateway.WorkflowRequest) (*gateway.WorkflowResult, error) {
	prompt, err := gateway.RenderPrompt(req.Capability, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: 0.4,
		User:        req.ActorID,
	}
	// grading answers with a single object; generation answers with an array
	if req.Capability == gateway.CapabilityGrading {
		chatReq.Temperature = 0.1
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client(req.APIKey).CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", domain.ErrExternalService, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat completion returned no choices", domain.ErrExternalService)
	}

	raw := resp.Choices[0].Message.Content
	g.logger.DebugContext(ctx, "chat completion response",
		"capability", req.Capability,
		"length", len(raw))
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: chat completion returned empty content", domain.ErrExternalService)
	}
	return &gateway.WorkflowResult{RunID: resp.ID, Text: raw}, nil
}

// IndexContent implements gateway.Gateway.
func (g *Gateway) IndexContent(context.Context, string, string, string, string) error {
	return ErrIndexUnsupported
}
