package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"crm-chat/backend/models"
	"crm-chat/backend/rooms"

	"github.com/gorilla/mux"
)

// CreateDirectRequest names the other side of a one-to-one chat.
type CreateDirectRequest struct {
	UserID string `json:"userId"`
}

// CreateRoomRequest is the body for group and broadcast rooms.
type CreateRoomRequest struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds"`
}

// AddParticipantRequest adds one user with a role.
type AddParticipantRequest struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
}

// CreateDirectRoom returns the direct room between the caller and userId,
// creating it on first use.
func (h *Handler) CreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	room, created, err := h.Registry.GetOrCreateDirect(r.Context(), userID, req.UserID)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Printf("Direct room %s created for %s and %s", room.ID, userID, req.UserID)
	}
	sendJSON(w, status, h.view(room, userID))
}

func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	h.createRoom(w, r, h.Registry.CreateGroup)
}

func (h *Handler) CreateBroadcastRoom(w http.ResponseWriter, r *http.Request) {
	h.createRoom(w, r, h.Registry.CreateBroadcast)
}

type createFunc func(ctx context.Context, creator, name string, participantIDs []string) (models.Room, error)

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request, create createFunc) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	room, err := create(r.Context(), userID, req.Name, req.ParticipantIDs)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	log.Printf("Room %s (%s) created by %s with %d participants", room.ID, room.Kind, userID, len(room.Participants))
	sendJSON(w, http.StatusCreated, h.view(room, userID))
}

// GetUserChatRooms lists the caller's rooms, most recent activity first.
func (h *Handler) GetUserChatRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		sendJSONError(w, err)
		return
	}

	list, err := h.Registry.ListRoomsForUser(userID, limit, offset)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	views := make([]RoomView, 0, len(list))
	for _, room := range list {
		views = append(views, h.view(room, userID))
	}
	sendJSON(w, http.StatusOK, views)
}

// GetChatRoom returns one room to a participant.
func (h *Handler) GetChatRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	room, _, err := h.Registry.Participant(mux.Vars(r)["id"], userID)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, h.view(room, userID))
}

// AddParticipant lets a room admin add a user. Direct rooms refuse any
// third participant.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var req AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" {
		badRequest(w, "userId is required")
		return
	}

	before, p, err := h.Registry.Participant(roomID, userID)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	if before.Kind != models.RoomDirect && p.Role != models.RoleAdmin {
		sendJSONError(w, models.NewError(models.CodeForbidden, "only room admins can add participants"))
		return
	}

	room, err := h.Registry.AddParticipant(r.Context(), roomID, req.UserID, req.Role)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	if !before.HasParticipant(req.UserID) {
		added, _ := room.Participant(req.UserID)
		h.Events.ParticipantAdded(roomID, req.UserID, added.Role)
		log.Printf("User %s added %s to room %s", userID, req.UserID, roomID)
	}
	sendJSON(w, http.StatusOK, h.view(room, userID))
}

// RemoveParticipant removes a user. Users may remove themselves; admins
// may remove anyone.
func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	roomID, target := vars["id"], vars["userId"]

	_, p, err := h.Registry.Participant(roomID, userID)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	if target != userID && p.Role != models.RoleAdmin {
		sendJSONError(w, models.NewError(models.CodeForbidden, "only room admins can remove other participants"))
		return
	}

	room, err := h.Registry.RemoveParticipant(r.Context(), roomID, target)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	h.Events.ParticipantRemoved(roomID, target)
	log.Printf("User %s removed %s from room %s", userID, target, roomID)

	if target == userID {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	sendJSON(w, http.StatusOK, h.view(room, userID))
}

// UpdateSettings patches room settings. Group and broadcast rooms need an
// admin; either side of a direct room may change it.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var patch rooms.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	room, p, err := h.Registry.Participant(roomID, userID)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	if room.Kind != models.RoomDirect && p.Role != models.RoleAdmin {
		sendJSONError(w, models.NewError(models.CodeForbidden, "only room admins can change settings"))
		return
	}

	room, err = h.Registry.UpdateSettings(r.Context(), roomID, patch)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, h.view(room, userID))
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewError(models.CodeValidation, "%s must be an integer", name)
	}
	return n, nil
}
