// Package workflow implements gateway.Gateway against a hosted workflow API:
// each capability is a separately keyed workflow app, runs are executed in
// blocking mode, and knowledge content is indexed into a dataset by text.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
)

const maxErrorBody = 2048

// Client talks to the workflow API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for baseURL (for example https://api.example.com/v1).
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid workflow base url: %v", domain.ErrConfiguration, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "workflow_client"),
	}, nil
}

type runRequest struct {
	Inputs       map[string]any `json:"inputs"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

type runResponse struct {
	WorkflowRunID string `json:"workflow_run_id"`
	Data          struct {
		Status  string         `json:"status"`
		Outputs map[string]any `json:"outputs"`
		Error   *string        `json:"error"`
	} `json:"data"`
}

// RunWorkflow implements gateway.Gateway.
func (c *Client) RunWorkflow(ctx context.Context, req gateway.WorkflowRequest) (*gateway.WorkflowResult, error) {
	inputs := map[string]any(req.Inputs)
	if inputs == nil {
		inputs = map[string]any{}
	}
	body := runRequest{Inputs: inputs, ResponseMode: "blocking", User: req.ActorID}

	var resp runResponse
	if err := c.post(ctx, req.APIKey, "/workflows/run", body, &resp); err != nil {
		return nil, err
	}

	if resp.Data.Status != "" && resp.Data.Status != "succeeded" {
		msg := resp.Data.Status
		if resp.Data.Error != nil {
			msg += ": " + *resp.Data.Error
		}
		return nil, fmt.Errorf("%w: workflow run %s %s", domain.ErrExternalService, resp.WorkflowRunID, msg)
	}

	text, ok := outputText(resp.Data.Outputs)
	if !ok {
		return nil, fmt.Errorf("%w: workflow run %s returned no outputs", domain.ErrExternalService, resp.WorkflowRunID)
	}
	return &gateway.WorkflowResult{RunID: resp.WorkflowRunID, Text: text}, nil
}

type indexRequest struct {
	Name              string         `json:"name"`
	Text              string         `json:"text"`
	IndexingTechnique string         `json:"indexing_technique"`
	ProcessRule       map[string]any `json:"process_rule"`
}

// IndexContent implements gateway.Gateway.
func (c *Client) IndexContent(ctx context.Context, apiKey, datasetID, text, label string) error {
	if strings.TrimSpace(datasetID) == "" {
		return fmt.Errorf("%w: knowledge dataset id", domain.ErrConfigurationMissing)
	}
	body := indexRequest{
		Name:              label,
		Text:              text,
		IndexingTechnique: "high_quality",
		ProcessRule:       map[string]any{"mode": "automatic"},
	}
	path := "/datasets/" + url.PathEscape(datasetID) + "/document/create_by_text"
	return c.post(ctx, apiKey, path, body, nil)
}

func (c *Client) post(ctx context.Context, apiKey, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out", domain.ErrExternalService, path)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrExternalService, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("workflow api returned error status",
			"path", path,
			"status", resp.StatusCode,
			"body", string(snippet))
		return fmt.Errorf("%w: %s returned status %d", domain.ErrExternalService, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: malformed response: %v", domain.ErrExternalService, path, err)
	}
	return nil
}

// outputText picks the textual result of a run: a conventional key when
// present, the only string value otherwise, or the outputs re-encoded as JSON.
func outputText(outputs map[string]any) (string, bool) {
	if len(outputs) == 0 {
		return "", false
	}
	for _, key := range []string{"text", "result", "output", "answer"} {
		if s, ok := outputs[key].(string); ok {
			return s, true
		}
	}

	var strs []string
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := outputs[k].(string); ok {
			strs = append(strs, s)
		}
	}
	if len(strs) == 1 {
		return strs[0], true
	}

	raw, err := json.Marshal(outputs)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
