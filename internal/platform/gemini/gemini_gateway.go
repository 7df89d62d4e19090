package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// contentGenerator is the subset of *genai.Models the gateway uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// clientFactory builds a generator for an API key.
type clientFactory func(ctx context.Context, apiKey string) (contentGenerator, error)

// Config holds the Gemini settings.
type Config struct {
	Model string
	// MaxRetries is the number of retries after the first call for transient errors.
	MaxRetries int
	// RetryDelay is the base backoff delay.
	RetryDelay time.Duration
}

// Gateway implements gateway.Gateway using the Gemini API. Clients are created
// lazily per API key because keys are resolved per capability at call time.
type Gateway struct {
	logger  *slog.Logger
	config  Config
	factory clientFactory

	mu      sync.Mutex
	clients map[string]contentGenerator
}

// NewGateway creates a Gemini-backed gateway.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return newGateway(cfg, logger, func(ctx context.Context, apiKey string) (contentGenerator, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create Gemini client: %v", domain.ErrConfiguration, err)
		}
		return client.Models, nil
	}), nil
}

func newGateway(cfg Config, logger *slog.Logger, factory clientFactory) *Gateway {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Gateway{
		logger:  logger.With("component", "gemini_gateway"),
		config:  cfg,
		factory: factory,
		clients: make(map[string]contentGenerator),
	}
}

func (g *Gateway) client(ctx context.Context, apiKey string) (contentGenerator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := g.factory(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	g.clients[apiKey] = c
	return c, nil
}

// RunWorkflow implements gateway.Gateway.
func (g *Gateway) RunWorkflow(ctx context.Context, req gateway.WorkflowRequest) (*gateway.WorkflowResult, error) {
	prompt, err := gateway.RenderPrompt(req.Capability, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	client, err := g.client(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	text, err := g.generateWithRetry(ctx, client, prompt)
	if err != nil {
		return nil, err
	}
	return &gateway.WorkflowResult{Text: text}, nil
}

// IndexContent implements gateway.Gateway.
func (g *Gateway) IndexContent(context.Context, string, string, string, string) error {
	return ErrIndexUnsupported
}

// generateWithRetry makes a call to the Gemini API with exponential backoff retry logic.
// Permanent errors (blocked or malformed responses) are returned immediately.
func (g *Gateway) generateWithRetry(ctx context.Context, client contentGenerator, prompt gateway.Prompt) (string, error) {
	temperature := float32(0.4)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: prompt.System}},
		},
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt.User}},
	}}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 0; ; attempt++ {
		resp, err := client.GenerateContent(ctx, g.config.Model, contents, cfg)
		var text string
		if err == nil {
			text, err = responseText(resp)
			if err != nil {
				g.logger.WarnContext(ctx, "permanent gemini error, not retrying", "error", err)
				return "", err
			}
			return text, nil
		}

		g.logger.ErrorContext(ctx, "gemini API call failed",
			"attempt", attempt+1,
			"max_attempts", g.config.MaxRetries+1,
			"error", err)

		if attempt >= g.config.MaxRetries {
			return "", fmt.Errorf("%w: %v", ErrTransientFailure, err)
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(g.config.RetryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTransientFailure, ctx.Err())
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty text in response", ErrInvalidResponse)
	}
	return b.String(), nil
}
