package handlers

import (
	"net/http"
	"strconv"

	"crm-chat/backend/models"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatHistoryResponse is one page of a room's log.
type ChatHistoryResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

func querySeq(r *http.Request, name string) (int64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false, models.NewError(models.CodeValidation, "%s must be a non-negative sequence number", name)
	}
	return n, true, nil
}

// GetChatHistory pages through a room's messages. By default it walks
// back from the newest message (or from ?before); ?since returns what
// followed a sequence number, oldest first, for reconnect catch-up.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	if _, _, err := h.Registry.Participant(roomID, userID); err != nil {
		sendJSONError(w, err)
		return
	}

	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		sendJSONError(w, err)
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	before, _, err := querySeq(r, "before")
	if err != nil {
		sendJSONError(w, err)
		return
	}
	since, catchUp, err := querySeq(r, "since")
	if err != nil {
		sendJSONError(w, err)
		return
	}

	var messages []models.Message
	if catchUp {
		messages, err = h.Store.ListSince(r.Context(), roomID, since, limit)
	} else {
		messages, err = h.Store.ListBefore(r.Context(), roomID, before, limit)
	}
	if err != nil {
		sendJSONError(w, models.StoreError(err))
		return
	}

	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Redacted())
	}
	sendJSON(w, http.StatusOK, ChatHistoryResponse{Messages: out, HasMore: len(out) == limit})
}
