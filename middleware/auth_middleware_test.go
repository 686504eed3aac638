package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-chat/backend/models"
	"crm-chat/backend/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTMiddleware(t *testing.T) {
	const secret = "middleware-secret"
	valid, err := utils.GenerateJWT("alice", []string{"sales"}, secret, time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateJWT("alice", nil, secret, -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.GenerateJWT("alice", nil, "other-secret", time.Hour)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.GetIdentityFromContext(r.Context())
		require.NoError(t, err)
		assert.Equal(t, "alice", id.UserID)
		assert.Equal(t, []string{"sales"}, id.Roles)
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTMiddleware(utils.NewJWTVerifier(secret))(next)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong signature", "Bearer " + foreign, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusUnauthorized {
				var resp models.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, models.CodeAuthFailed, resp.Code)
			}
		})
	}
}
