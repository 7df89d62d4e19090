// Package gateway defines the contract between the pipeline and the AI
// provider: running a workflow for a capability, mirroring content into a
// knowledge index, and decoding the text the provider returns.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/scry-exam/internal/domain"
)

// Capability names an AI function with its own credential.
type Capability string

// Capabilities used by the pipeline.
const (
	CapabilityKnowledge  Capability = "knowledge"
	CapabilityGeneration Capability = "generation"
	CapabilityGrading    Capability = "grading"
)

// Inputs are the named workflow inputs.
type Inputs map[string]any

// WorkflowRequest is one blocking workflow run.
type WorkflowRequest struct {
	APIKey     string
	Capability Capability
	Inputs     Inputs
	// ActorID identifies the end user on whose behalf the run happens.
	ActorID string
}

// WorkflowResult is the outcome of a successful run.
type WorkflowResult struct {
	RunID string
	// Text is the primary textual output of the workflow.
	Text string
}

// Gateway runs AI workflows and indexes content. Implementations wrap remote
// failures in domain.ErrExternalService.
type Gateway interface {
	RunWorkflow(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error)
	IndexContent(ctx context.Context, apiKey, datasetID, text, label string) error
}

// Credentials supplies the configured key for a capability at call time.
type Credentials interface {
	APIKey(capability string) string
}

// IsPlaceholder reports whether key is empty or an obvious template value.
func IsPlaceholder(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return true
	}
	switch k {
	case "changeme", "change-me", "replace-me", "placeholder", "todo", "none", "null",
		"your-api-key", "your_api_key", "your-key-here", "api-key", "apikey",
		"app-xxx", "dataset-xxx", "sk-xxx":
		return true
	}
	if strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">") {
		return true
	}
	if strings.HasPrefix(k, "${") && strings.HasSuffix(k, "}") {
		return true
	}
	return strings.Trim(k, "x*-_") == "" || strings.HasSuffix(k, "-xxxx")
}

// ResolveKey returns the usable key for capability, or
// domain.ErrConfigurationMissing when it is absent or a placeholder.
func ResolveKey(creds Credentials, capability Capability) (string, error) {
	if creds == nil {
		return "", fmt.Errorf("%w: no credentials for %s", domain.ErrConfigurationMissing, capability)
	}
	key := strings.TrimSpace(creds.APIKey(string(capability)))
	if IsPlaceholder(key) {
		return "", fmt.Errorf("%w: %s key", domain.ErrConfigurationMissing, capability)
	}
	return key, nil
}
