package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-exam/internal/domain"
	"golang.org/x/time/rate"
)

// Throttled wraps a Gateway with a shared rate limit, a per-call timeout and
// the placeholder-key check, so every backend fails fast the same way.
type Throttled struct {
	next    Gateway
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewThrottled limits next to perSecond calls with the given burst. A zero
// timeout leaves deadlines to the caller's context.
func NewThrottled(next Gateway, perSecond float64, burst int, timeout time.Duration, logger *slog.Logger) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		timeout: timeout,
		logger:  logger.With("component", "ai_gateway"),
	}
}

func (t *Throttled) begin(ctx context.Context, apiKey string, capability Capability) (context.Context, context.CancelFunc, error) {
	if IsPlaceholder(apiKey) {
		return nil, nil, fmt.Errorf("%w: %s key", domain.ErrConfigurationMissing, capability)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrExternalService, err)
	}
	if t.timeout > 0 {
		cctx, cancel := context.WithTimeout(ctx, t.timeout)
		return cctx, cancel, nil
	}
	cctx, cancel := context.WithCancel(ctx)
	return cctx, cancel, nil
}

// RunWorkflow implements Gateway.
func (t *Throttled) RunWorkflow(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error) {
	cctx, cancel, err := t.begin(ctx, req.APIKey, req.Capability)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start := time.Now()
	res, err := t.next.RunWorkflow(cctx, req)
	t.logger.Debug("workflow run finished",
		"capability", req.Capability,
		"actor_id", req.ActorID,
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", err == nil)
	return res, err
}

// IndexContent implements Gateway.
func (t *Throttled) IndexContent(ctx context.Context, apiKey, datasetID, text, label string) error {
	cctx, cancel, err := t.begin(ctx, apiKey, CapabilityKnowledge)
	if err != nil {
		return err
	}
	defer cancel()
	return t.next.IndexContent(cctx, apiKey, datasetID, text, label)
}
