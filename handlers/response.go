package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"crm-chat/backend/models"
)

// statusFor maps an error code to its HTTP status.
func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeAuthFailed:
		return http.StatusUnauthorized
	case models.CodeForbidden:
		return http.StatusForbidden
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeRoomKindViolation:
		return http.StatusConflict
	case models.CodeValidation:
		return http.StatusBadRequest
	case models.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// sendJSONError writes err as {"code","message"} with the matching status.
func sendJSONError(w http.ResponseWriter, err error) {
	resp := models.ResponseOf(err)
	status := statusFor(resp.Code)
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	sendJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	sendJSONError(w, models.NewError(models.CodeValidation, format, args...))
}
