// Package testutils holds helpers shared by handler tests.
package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/api/middleware"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils/response"
	"github.com/stretchr/testify/require"
)

// NewRequest builds a JSON request; a nil body means no body at all.
func NewRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	return req
}

// AuthenticatedRequest attaches claims the way the auth middleware would.
func AuthenticatedRequest(t *testing.T, method, target string, body any, claims *models.Claims) *http.Request {
	t.Helper()

	req := NewRequest(t, method, target, body)
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, claims)

	return req.WithContext(ctx)
}

func UserClaims(userID uuid.UUID) *models.Claims {
	return &models.Claims{UserID: userID, Name: "Test User", Email: "user@example.com", Role: models.RoleUser}
}

func AdminClaims() *models.Claims {
	return &models.Claims{UserID: uuid.New(), Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin}
}

// DecodeResponse unmarshals the envelope and returns it; Data stays raw JSON
// inside the any, so callers re-marshal when they need a typed view.
func DecodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()

	var envelope response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))

	return envelope
}

// DataAs re-marshals the envelope's Data into dest.
func DataAs(t *testing.T, envelope response.APIResponse, dest any) {
	t.Helper()

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}
