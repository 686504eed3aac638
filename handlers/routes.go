package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the REST API on router. auth guards every route
// except health checks and file downloads.
func (h *Handler) RegisterRoutes(router *mux.Router, auth func(http.Handler) http.Handler) {
	router.HandleFunc("/health", Health).Methods("GET")
	router.HandleFunc("/files/{id}", h.DownloadFile).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(auth)
	api.HandleFunc("/rooms", h.GetUserChatRooms).Methods("GET")
	api.HandleFunc("/rooms/direct", h.CreateDirectRoom).Methods("POST")
	api.HandleFunc("/rooms/group", h.CreateGroupRoom).Methods("POST")
	api.HandleFunc("/rooms/broadcast", h.CreateBroadcastRoom).Methods("POST")
	api.HandleFunc("/rooms/{id}", h.GetChatRoom).Methods("GET")
	api.HandleFunc("/rooms/{id}/participants", h.AddParticipant).Methods("PUT")
	api.HandleFunc("/rooms/{id}/participants/{userId}", h.RemoveParticipant).Methods("DELETE")
	api.HandleFunc("/rooms/{id}/settings", h.UpdateSettings).Methods("PATCH")
	api.HandleFunc("/rooms/{id}/messages", h.GetChatHistory).Methods("GET")
	api.HandleFunc("/uploads", h.UploadFile).Methods("POST")
}
