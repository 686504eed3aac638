// Package handlers serves the REST side of the chat service.
package handlers

import (
	"net/http"

	"crm-chat/backend/database"
	"crm-chat/backend/models"
	"crm-chat/backend/presence"
	"crm-chat/backend/rooms"
	"crm-chat/backend/upload"
	"crm-chat/backend/utils"
)

// RoomEvents pushes membership changes to live connections.
type RoomEvents interface {
	ParticipantAdded(roomID, userID string, role models.Role)
	ParticipantRemoved(roomID, userID string)
}

type Handler struct {
	Registry *rooms.Registry
	Tracker  *presence.Tracker
	Store    database.MessageStore
	Uploads  upload.Store
	Events   RoomEvents

	MaxUploadBytes int64
}

// RoomView is a room as one participant sees it.
type RoomView struct {
	models.Room
	Unread int `json:"unread"`
}

func (h *Handler) view(room models.Room, userID string) RoomView {
	return RoomView{Room: h.Tracker.Decorate(room), Unread: h.Tracker.Unread(room.ID, userID)}
}

// caller returns the authenticated user id, writing 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		sendJSONError(w, models.NewError(models.CodeAuthFailed, "Unauthorized: user ID not found in context"))
		return "", false
	}
	return userID, true
}

func Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
