package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"crm-chat/backend/database"
	"crm-chat/backend/models"
	"crm-chat/backend/presence"
	"crm-chat/backend/rooms"
	"crm-chat/backend/upload"
	"crm-chat/backend/utils"

	"github.com/gorilla/websocket"
)

// Options tunes connection handling.
type Options struct {
	IdleTimeout      time.Duration // no frame or pong within this window closes the connection
	HandshakeTimeout time.Duration
	EditWindow       time.Duration
	TypingTTL        time.Duration
	MaxFrameBytes    int64
	SendBuffer       int
	MessageBurst     int
	MessageRate      int // requests per second after the burst
	AllowedOrigins   []string
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		EditWindow:       15 * time.Minute,
		TypingTTL:        6 * time.Second,
		MaxFrameBytes:    512 * 1024,
		SendBuffer:       256,
		MessageBurst:     20,
		MessageRate:      10,
	}
}

// roomChannel is the delivery set of one room. Holding mu serializes the
// room's store writes with their fan-out, which keeps delivery order equal
// to append order.
type roomChannel struct {
	mu      sync.Mutex
	members map[*Client]struct{}
}

type typingKey struct {
	roomID string
	userID string
}

// Hub owns every live connection and routes room events to them.
type Hub struct {
	registry *rooms.Registry
	store    database.MessageStore
	tracker  *presence.Tracker
	uploads  upload.Store
	verifier utils.TokenVerifier
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.RWMutex
	channels map[string]*roomChannel

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	typingMu sync.Mutex
	typing   map[typingKey]time.Time // expiry
}

func NewHub(registry *rooms.Registry, store database.MessageStore, tracker *presence.Tracker,
	uploads upload.Store, verifier utils.TokenVerifier, opts Options) *Hub {
	h := &Hub{
		registry: registry,
		store:    store,
		tracker:  tracker,
		uploads:  uploads,
		verifier: verifier,
		opts:     opts,
		now:      time.Now,
		channels: make(map[string]*roomChannel),
		clients:  make(map[*Client]struct{}),
		typing:   make(map[typingKey]time.Time),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.Printf("Rejected websocket origin %s", origin)
	return false
}

func (h *Hub) channel(roomID string) *roomChannel {
	h.mu.RLock()
	rc, ok := h.channels[roomID]
	h.mu.RUnlock()
	if ok {
		return rc
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if rc, ok = h.channels[roomID]; !ok {
		rc = &roomChannel{members: make(map[*Client]struct{})}
		h.channels[roomID] = rc
	}
	return rc
}

func (h *Hub) encode(ev models.Event) []byte {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshalling %s event: %v", ev.Type, err)
		return nil
	}
	return data
}

// fanout pushes ev to every member of rc except connections of skipUser.
// The caller holds rc.mu. A member whose buffer is full is dropped from the
// room and closed; its read pump then unregisters it everywhere else.
func (h *Hub) fanout(roomID string, rc *roomChannel, ev models.Event, skipUser string) int {
	ev.RoomID = roomID
	payload := h.encode(ev)
	if payload == nil {
		return 0
	}

	delivered := 0
	for c := range rc.members {
		if skipUser != "" && c.UserID == skipUser {
			continue
		}
		if c.deliver(payload) {
			delivered++
			continue
		}
		delete(rc.members, c)
		log.Printf("Client %s too slow in room %s, closing connection", c.ID, roomID)
		c.shutdown(websocket.ClosePolicyViolation, "send buffer full")
	}
	return delivered
}

// Broadcast delivers a room event outside of any request flow.
func (h *Hub) Broadcast(roomID string, ev models.Event) int {
	rc := h.channel(roomID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return h.fanout(roomID, rc, ev, "")
}

func (h *Hub) register(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()

	h.tracker.Connected(c.UserID)
	log.Printf("Client %s registered for user %s. Total clients: %d", c.ID, c.UserID, total)
}

// unregister removes c from every room, then tells the presence tracker.
// Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	if c.setState(StateClosed) == StateClosed {
		return
	}

	joined := c.joinedRooms()
	for _, roomID := range joined {
		rc := h.channel(roomID)
		rc.mu.Lock()
		delete(rc.members, c)
		rc.mu.Unlock()
		h.clearTyping(roomID, c.UserID, c)
	}

	h.clientsMu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.clientsMu.Unlock()

	if known {
		h.tracker.Disconnected(c.UserID, joined)
		log.Printf("Client %s unregistered for user %s. Total clients: %d", c.ID, c.UserID, total)
	}
	c.shutdown(websocket.CloseNormalClosure, "")
}

// ConnectionCount reports the number of authenticated connections.
func (h *Hub) ConnectionCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection, used on server stop.
func (h *Hub) Shutdown() {
	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

// ParticipantAdded announces a new member to the room.
func (h *Hub) ParticipantAdded(roomID, userID string, role models.Role) {
	h.Broadcast(roomID, models.Event{Type: models.EventParticipantAdded, UserID: userID, Role: role})
}

// ParticipantRemoved announces the removal and detaches the user's
// connections from the room.
func (h *Hub) ParticipantRemoved(roomID, userID string) {
	rc := h.channel(roomID)
	rc.mu.Lock()
	h.fanout(roomID, rc, models.Event{Type: models.EventParticipantRemoved, UserID: userID}, "")
	var detached []*Client
	for c := range rc.members {
		if c.UserID == userID {
			delete(rc.members, c)
			detached = append(detached, c)
		}
	}
	rc.mu.Unlock()

	for _, c := range detached {
		if c.forgetRoom(roomID) {
			h.tracker.Left(roomID, userID)
		}
	}
	h.tracker.Forget(roomID, userID)
	h.clearTyping(roomID, userID, nil)
}

// setTyping records a typing indicator and reports whether it is new.
func (h *Hub) setTyping(roomID, userID string) bool {
	h.typingMu.Lock()
	defer h.typingMu.Unlock()
	key := typingKey{roomID, userID}
	_, active := h.typing[key]
	h.typing[key] = h.now().Add(h.opts.TypingTTL)
	return !active
}

// stopTyping drops the indicator and reports whether one was active.
func (h *Hub) stopTyping(roomID, userID string) bool {
	h.typingMu.Lock()
	defer h.typingMu.Unlock()
	key := typingKey{roomID, userID}
	_, active := h.typing[key]
	delete(h.typing, key)
	return active
}

// clearTyping stops an indicator and tells the room, unless the user still
// has another connection in it. gone is the connection being removed.
func (h *Hub) clearTyping(roomID, userID string, gone *Client) {
	rc := h.channel(roomID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for c := range rc.members {
		if c.UserID == userID && c != gone {
			return
		}
	}
	if h.stopTyping(roomID, userID) {
		h.fanout(roomID, rc, models.Event{Type: models.EventTypingStop, UserID: userID}, userID)
	}
}

// ExpireTyping emits typing_stop for indicators not refreshed within the
// typing TTL.
func (h *Hub) ExpireTyping() int {
	now := h.now()
	h.typingMu.Lock()
	var expired []typingKey
	for key, until := range h.typing {
		if !now.Before(until) {
			expired = append(expired, key)
			delete(h.typing, key)
		}
	}
	h.typingMu.Unlock()

	for _, key := range expired {
		rc := h.channel(key.roomID)
		rc.mu.Lock()
		h.fanout(key.roomID, rc, models.Event{Type: models.EventTypingStop, UserID: key.userID}, key.userID)
		rc.mu.Unlock()
	}
	return len(expired)
}
