package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string, inspect func(r *http.Request, req map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunWorkflowGrading(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK,
		`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"score\":4,\"comment\":\"partial\"}"},"finish_reason":"stop"}]}`,
		func(r *http.Request, req map[string]any) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-grading", r.Header.Get("Authorization"))
			assert.Equal(t, "student-7", req["user"])
			format, _ := req["response_format"].(map[string]any)
			assert.Equal(t, "json_object", format["type"])
		})

	g := NewGateway(srv.URL, "", logger.Discard())
	res, err := g.RunWorkflow(context.Background(), gateway.WorkflowRequest{
		APIKey:     "sk-grading",
		Capability: gateway.CapabilityGrading,
		Inputs:     gateway.Inputs{"question": "q", "reference_answer": "a", "student_answer": "b", "max_score": "5"},
		ActorID:    "student-7",
	})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", res.RunID)
	assert.JSONEq(t, `{"score":4,"comment":"partial"}`, res.Text)
}

func TestRunWorkflowErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`},
		{"empty content", http.StatusOK, `{"id":"x","choices":[{"message":{"role":"assistant","content":"  "}}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, tc.status, tc.body, nil)
			g := NewGateway(srv.URL, "m", logger.Discard())

			_, err := g.RunWorkflow(context.Background(), gateway.WorkflowRequest{
				APIKey:     "sk-k",
				Capability: gateway.CapabilityGeneration,
				Inputs:     gateway.Inputs{"course": "c", "topic": "t", "count": 1, "difficulty": "easy", "types": "1"},
			})
			assert.ErrorIs(t, err, domain.ErrExternalService)
		})
	}
}

func TestClientCachedPerKey(t *testing.T) {
	t.Parallel()

	g := NewGateway("http://localhost", "", logger.Discard())
	assert.Same(t, g.client("a"), g.client("a"))
	assert.NotSame(t, g.client("a"), g.client("b"))
	assert.ErrorIs(t, g.IndexContent(context.Background(), "a", "d", "t", "l"), ErrIndexUnsupported)
}
