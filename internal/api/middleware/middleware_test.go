package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/api/shared"
	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/stretchr/testify/assert"
)

type mockValidator struct {
	ValidateFn func(ctx context.Context, token string) (*auth.Claims, error)
}

func (m *mockValidator) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	return m.ValidateFn(ctx, token)
}

func TestAuthenticate(t *testing.T) {
	userID := uuid.New()
	validator := &mockValidator{ValidateFn: func(_ context.Context, token string) (*auth.Claims, error) {
		switch token {
		case "good":
			return &auth.Claims{UserID: userID, Role: auth.RoleStudent}, nil
		case "old":
			return nil, auth.ErrExpiredToken
		}
		return nil, auth.ErrInvalidToken
	}}

	var seen shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewAuthMiddleware(validator).Authenticate(next)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer old", want: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid header", header: "Bearer good", want: http.StatusNoContent},
		{name: "query fallback", query: "?access_token=good", want: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = shared.Actor{}
			req := httptest.NewRequest(http.MethodGet, "/api/tasks/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.want, rr.Code)
			if tc.want == http.StatusNoContent {
				assert.Equal(t, userID, seen.UserID)
				assert.Equal(t, "student", seen.Role)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(auth.RoleTeacher, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for role, want := range map[string]int{
		"teacher": http.StatusOK,
		"admin":   http.StatusOK,
		"student": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(shared.WithActor(req.Context(), shared.Actor{UserID: uuid.New(), Role: role}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Code, role)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTraceMiddlewareSetsTraceID(t *testing.T) {
	var traceID string
	handler := NewTraceMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, traceID, 32)
	assert.Equal(t, traceID, rr.Header().Get("X-Trace-ID"))
}
