package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crm-chat/backend/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// CloseAuthFailed is the close code sent after a failed handshake.
const CloseAuthFailed = 4401

// ConnState is the lifecycle of one connection:
// Connecting -> Authenticated -> Joined -> Closed.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one live connection of an authenticated user.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done is closed once; send is never closed because the fan-out of
	// every joined room writes to it.
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	state    atomic.Int32
	limiter  *rateLimiter
	ID       string
	UserID   string
	identity models.Identity

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	buffer := h.opts.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: newRateLimiter(h.opts.MessageBurst, h.opts.MessageRate),
		ID:      uuid.NewString(),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// setState moves the connection to s and returns the previous state.
// Closed is terminal.
func (c *Client) setState(s ConnState) ConnState {
	for {
		prev := ConnState(c.state.Load())
		if prev == StateClosed {
			return prev
		}
		if c.state.CompareAndSwap(int32(prev), int32(s)) {
			return prev
		}
	}
}

// deliver queues payload without blocking. It fails when the buffer is
// full or the connection is closing.
func (c *Client) deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown asks the write pump to send a close frame and stop.
func (c *Client) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *Client) joinRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	c.setState(StateJoined)
	return true
}

// forgetRoom drops roomID from the client's set and reports whether it was
// joined.
func (c *Client) forgetRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	if len(c.rooms) == 0 && c.State() == StateJoined {
		c.state.CompareAndSwap(int32(StateJoined), int32(StateAuthenticated))
	}
	return true
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// reply sends an ack, pong or error to this connection only.
func (c *Client) reply(ev models.Event) {
	payload := c.hub.encode(ev)
	if payload == nil {
		return
	}
	if !c.deliver(payload) {
		log.Printf("Client %s send buffer full, closing connection", c.ID)
		c.shutdown(websocket.ClosePolicyViolation, "send buffer full")
	}
}

func (c *Client) ack(requestID, roomID string, data any) {
	c.reply(models.Event{Type: models.EventAck, RequestID: requestID, RoomID: roomID, Data: data})
}

func (c *Client) replyError(requestID, roomID string, err error) {
	resp := models.ResponseOf(err)
	switch resp.Code {
	case models.CodeStoreUnavailable, models.CodeInternal:
		log.Printf("Request %s from user %s failed: %v", requestID, c.UserID, err)
	}
	c.reply(models.Event{Type: models.EventError, RequestID: requestID, RoomID: roomID, Error: resp})
}

func (c *Client) extendDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.IdleTimeout))
}

// readPump reads frames and runs each request to completion before
// reading the next, so one connection's requests are handled in order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.hub.opts.MaxFrameBytes)
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error { c.extendDeadline(); return nil })
	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Client %s disconnected gracefully.", c.ID)
			} else {
				log.Printf("Error reading from client %s: %v", c.ID, err)
			}
			break
		}
		c.extendDeadline()

		var req models.Request
		if err := json.Unmarshal(p, &req); err != nil {
			c.replyError("", "", models.NewError(models.CodeValidation, "malformed frame"))
			continue
		}
		if !c.limiter.allow() {
			c.replyError(req.RequestID, req.RoomID, models.NewError(models.CodeRateLimited, "too many requests"))
			continue
		}
		c.hub.handle(c, req)
	}
}

// writePump drains the send buffer to the socket and keeps the peer alive
// with pings.
func (c *Client) writePump() {
	pingPeriod := (c.hub.opts.IdleTimeout * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Error writing to client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			if c.closeCode != websocket.ClosePolicyViolation {
				c.flush()
			}
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued before the close frame.
func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

// tokenFromRequest reads the bearer token from the query or the
// Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// authenticate resolves the connection's identity, waiting for an auth
// frame when the upgrade request carried no token.
func (h *Hub) authenticate(conn *websocket.Conn, r *http.Request) (models.Identity, string, error) {
	token := tokenFromRequest(r)
	if token != "" {
		id, err := h.verifier.VerifyToken(token)
		return id, "", err
	}

	conn.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	_, p, err := conn.ReadMessage()
	if err != nil {
		return models.Identity{}, "", models.NewError(models.CodeAuthFailed, "no auth frame received")
	}
	var req models.Request
	if err := json.Unmarshal(p, &req); err != nil || req.Type != models.RequestAuth {
		return models.Identity{}, req.RequestID, models.NewError(models.CodeAuthFailed, "first frame must be auth")
	}
	id, err := h.verifier.VerifyToken(req.Token)
	return id, req.RequestID, err
}

func (h *Hub) rejectHandshake(conn *websocket.Conn, requestID string, err error) {
	resp := models.ResponseOf(err)
	if resp.Code != models.CodeAuthFailed {
		resp = &models.ErrorResponse{Code: models.CodeAuthFailed, Message: resp.Message}
	}
	payload := h.encode(models.Event{Type: models.EventError, RequestID: requestID, Error: resp})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if payload != nil {
		conn.WriteMessage(websocket.TextMessage, payload)
	}
	msg := websocket.FormatCloseMessage(CloseAuthFailed, string(models.CodeAuthFailed))
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// ServeWS upgrades the request to the live channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	identity, requestID, err := h.authenticate(conn, r)
	if err != nil {
		log.Printf("WebSocket handshake rejected: %v", err)
		h.rejectHandshake(conn, requestID, err)
		return
	}

	client := newClient(h, conn)
	client.identity = identity
	client.UserID = identity.UserID
	client.setState(StateAuthenticated)
	h.register(client)
	client.ack(requestID, "", map[string]string{"userId": client.UserID, "connectionId": client.ID})

	go client.writePump()
	client.readPump()
}
