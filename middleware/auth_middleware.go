package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"crm-chat/backend/models"
	"crm-chat/backend/utils"
)

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	resp := models.ErrorResponse{Code: models.CodeAuthFailed, Message: message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}

// JWTMiddleware verifies the bearer token and puts the caller's identity
// into the request context.
func JWTMiddleware(verifier utils.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Authorization header required")
				return
			}

			// Authorization: Bearer <token>
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				unauthorized(w, "Invalid Authorization header format")
				return
			}

			identity, err := verifier.VerifyToken(parts[1])
			if err != nil {
				log.Printf("Invalid JWT token: %v", err)
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithIdentity(r.Context(), identity)))
		})
	}
}
