package websocket

import (
	"context"
	"log"
	"strings"
	"time"

	"crm-chat/backend/models"
	"crm-chat/backend/upload"
)

const (
	storeTimeout    = 5 * time.Second
	maxContentBytes = 16 * 1024
	maxEmojiBytes   = 32
)

// storeContext bounds a store call. It is detached from the connection so a
// write accepted before the sender disconnects still completes and fans out.
func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// handle dispatches one request. Every request gets an ack, a pong or an
// error reply carrying its request id.
func (h *Hub) handle(c *Client, req models.Request) {
	var err error
	switch req.Type {
	case models.RequestPing:
		c.reply(models.Event{Type: models.EventPong, RequestID: req.RequestID})
	case models.RequestAuth:
		err = models.NewError(models.CodeValidation, "connection is already authenticated")
	case models.RequestJoinRoom:
		err = h.joinRoom(c, req)
	case models.RequestLeaveRoom:
		err = h.leaveRoom(c, req)
	case models.RequestChatMessage:
		err = h.chatMessage(c, req)
	case models.RequestTypingStart:
		err = h.typingIndicator(c, req, true)
	case models.RequestTypingStop:
		err = h.typingIndicator(c, req, false)
	case models.RequestReadReceipt:
		err = h.readReceipt(c, req)
	case models.RequestReaction:
		err = h.reaction(c, req)
	case models.RequestEdit:
		err = h.editMessage(c, req)
	case models.RequestDelete:
		err = h.deleteMessage(c, req)
	default:
		err = models.NewError(models.CodeValidation, "unknown request type %q", req.Type)
	}
	if err != nil {
		c.replyError(req.RequestID, req.RoomID, err)
	}
}

// member checks that the user may act in the room.
func (h *Hub) member(roomID, userID string) (models.Room, models.Participant, error) {
	if roomID == "" {
		return models.Room{}, models.Participant{}, models.NewError(models.CodeValidation, "roomId is required")
	}
	room, p, err := h.registry.Participant(roomID, userID)
	if err != nil {
		return room, p, err
	}
	if room.Settings.Archived {
		return room, p, models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}
	return room, p, nil
}

// lockMember takes the room lock and checks membership while holding it.
// Removals update the registry before taking the same lock, so a user who
// passes here is detached by any removal that follows. On success the
// caller must unlock rc.mu.
func (h *Hub) lockMember(roomID, userID string) (*roomChannel, models.Room, models.Participant, error) {
	rc := h.channel(roomID)
	rc.mu.Lock()
	room, p, err := h.member(roomID, userID)
	if err != nil {
		rc.mu.Unlock()
		return nil, room, p, err
	}
	return rc, room, p, nil
}

func canPost(room models.Room, p models.Participant) error {
	if p.Role == models.RoleViewer || (room.Kind == models.RoomBroadcast && p.Role != models.RoleAdmin) {
		return models.NewError(models.CodeForbidden, "only admins can post in room %s", room.ID)
	}
	return nil
}

// roomMessage loads messageID and checks it belongs to roomID.
func (h *Hub) roomMessage(roomID, messageID string) (models.Message, error) {
	if messageID == "" {
		return models.Message{}, models.NewError(models.CodeValidation, "messageId is required")
	}
	ctx, cancel := storeContext()
	defer cancel()
	msg, err := h.store.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, models.StoreError(err)
	}
	if msg.RoomID != roomID {
		return models.Message{}, models.NewError(models.CodeNotFound, "message %s not found in room %s", messageID, roomID)
	}
	return msg, nil
}

func (h *Hub) joinRoom(c *Client, req models.Request) error {
	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	if c.State() == StateClosed {
		rc.mu.Unlock()
		return nil
	}
	rc.members[c] = struct{}{}
	if c.joinRoom(req.RoomID) {
		h.tracker.Joined(req.RoomID, c.UserID)
	}
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, map[string]int{"unread": h.tracker.Unread(req.RoomID, c.UserID)})
	return nil
}

func (h *Hub) leaveRoom(c *Client, req models.Request) error {
	if req.RoomID == "" {
		return models.NewError(models.CodeValidation, "roomId is required")
	}
	rc := h.channel(req.RoomID)
	rc.mu.Lock()
	delete(rc.members, c)
	left := c.forgetRoom(req.RoomID)
	rc.mu.Unlock()

	if left {
		h.tracker.Left(req.RoomID, c.UserID)
		h.clearTyping(req.RoomID, c.UserID, c)
	}
	c.ack(req.RequestID, req.RoomID, nil)
	return nil
}

func (h *Hub) buildMessage(c *Client, req models.Request) (models.Message, error) {
	msgType := req.MessageType
	if msgType == "" {
		msgType = models.MessageText
		if req.Attachment != nil {
			msgType = upload.TypeFor(req.Attachment.ContentType)
		}
	}
	if !msgType.Valid() {
		return models.Message{}, models.NewError(models.CodeValidation, "unknown message type %q", msgType)
	}
	if len(req.Content) > maxContentBytes {
		return models.Message{}, models.NewError(models.CodeValidation, "content exceeds %d bytes", maxContentBytes)
	}

	msg := models.Message{
		AuthorID:  c.UserID,
		Content:   req.Content,
		Type:      msgType,
		ReplyTo:   req.ReplyTo,
		Timestamp: h.now(),
	}

	if !msgType.IsMedia() {
		if strings.TrimSpace(req.Content) == "" {
			return models.Message{}, models.NewError(models.CodeValidation, "content must not be empty")
		}
		return msg, nil
	}

	switch {
	case req.Attachment != nil:
		if h.uploads == nil {
			return models.Message{}, models.NewError(models.CodeValidation, "uploads are not enabled")
		}
		ctx, cancel := storeContext()
		defer cancel()
		blob := upload.Blob{Name: req.Attachment.Name, ContentType: req.Attachment.ContentType, Data: req.Attachment.Data}
		url, err := h.uploads.Store(ctx, blob)
		if err != nil {
			return models.Message{}, models.StoreError(err)
		}
		msg.Metadata = &models.MessageMetadata{
			FileURL:  url,
			FileName: req.Attachment.Name,
			MimeType: req.Attachment.ContentType,
			Size:     int64(len(req.Attachment.Data)),
		}
	case req.Metadata != nil && req.Metadata.FileURL != "":
		meta := *req.Metadata
		msg.Metadata = &meta
	default:
		return models.Message{}, models.NewError(models.CodeValidation, "%s message needs a file", msgType)
	}
	return msg, nil
}

// checkReplyTo requires the parent to exist in the same room.
func (h *Hub) checkReplyTo(roomID, parentID string) error {
	ctx, cancel := storeContext()
	defer cancel()
	parent, err := h.store.Get(ctx, parentID)
	if err != nil {
		return models.StoreError(err)
	}
	if parent.RoomID != roomID {
		return models.NewError(models.CodeValidation, "replyTo must reference a message in the same room")
	}
	return nil
}

func (h *Hub) chatMessage(c *Client, req models.Request) error {
	room, p, err := h.member(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	if err := canPost(room, p); err != nil {
		return err
	}

	msg, err := h.buildMessage(c, req)
	if err != nil {
		return err
	}
	if msg.ReplyTo != "" {
		if err := h.checkReplyTo(room.ID, msg.ReplyTo); err != nil {
			return err
		}
	}

	rc, room, p, err := h.lockMember(room.ID, c.UserID)
	if err != nil {
		return err
	}
	if err := canPost(room, p); err != nil {
		rc.mu.Unlock()
		return err
	}
	ctx, cancel := storeContext()
	stored, err := h.store.Append(ctx, room.ID, msg)
	cancel()
	if err != nil {
		rc.mu.Unlock()
		return models.StoreError(err)
	}

	if err := h.registry.Touch(room.ID, stored.ID, stored.Timestamp); err != nil {
		log.Printf("Error updating last activity of room %s: %v", room.ID, err)
	}
	h.tracker.MessageAppended(room.ID, c.UserID, stored.ID, room.ParticipantIDs())
	h.fanout(room.ID, rc, models.Event{Type: models.EventMessage, Message: &stored, Timestamp: stored.Timestamp}, "")
	if h.stopTyping(room.ID, c.UserID) {
		h.fanout(room.ID, rc, models.Event{Type: models.EventTypingStop, UserID: c.UserID}, c.UserID)
	}
	rc.mu.Unlock()

	c.ack(req.RequestID, room.ID, map[string]any{"messageId": stored.ID, "seq": stored.Seq})
	return nil
}

func (h *Hub) typingIndicator(c *Client, req models.Request, start bool) error {
	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	if start {
		if h.setTyping(req.RoomID, c.UserID) {
			h.fanout(req.RoomID, rc, models.Event{Type: models.EventTypingStart, UserID: c.UserID}, c.UserID)
		}
	} else if h.stopTyping(req.RoomID, c.UserID) {
		h.fanout(req.RoomID, rc, models.Event{Type: models.EventTypingStop, UserID: c.UserID}, c.UserID)
	}
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, nil)
	return nil
}

func (h *Hub) readReceipt(c *Client, req models.Request) error {
	if _, _, err := h.member(req.RoomID, c.UserID); err != nil {
		return err
	}
	msg, err := h.roomMessage(req.RoomID, req.MessageID)
	if err != nil {
		return err
	}

	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext()
	err = h.store.MarkRead(ctx, req.MessageID, c.UserID)
	cancel()
	if err != nil {
		rc.mu.Unlock()
		return models.StoreError(err)
	}
	if h.tracker.ReadReceipt(req.RoomID, c.UserID, req.MessageID) {
		ctx, cancel := storeContext()
		if err := h.store.SaveReadCursor(ctx, req.RoomID, c.UserID, msg.Seq); err != nil {
			log.Printf("Error saving read cursor of %s in room %s: %v", c.UserID, req.RoomID, err)
		}
		cancel()
	}
	h.fanout(req.RoomID, rc, models.Event{Type: models.EventReadReceipt, MessageID: req.MessageID, UserID: c.UserID}, c.UserID)
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, map[string]int{"unread": h.tracker.Unread(req.RoomID, c.UserID)})
	return nil
}

func (h *Hub) reaction(c *Client, req models.Request) error {
	if _, _, err := h.member(req.RoomID, c.UserID); err != nil {
		return err
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes {
		return models.NewError(models.CodeValidation, "emoji must be 1 to %d bytes", maxEmojiBytes)
	}
	msg, err := h.roomMessage(req.RoomID, req.MessageID)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return models.NewError(models.CodeValidation, "message %s was deleted", msg.ID)
	}
	if msg.HasReaction(c.UserID, emoji) {
		c.ack(req.RequestID, req.RoomID, nil)
		return nil
	}

	reaction := models.Reaction{UserID: c.UserID, Emoji: emoji, Timestamp: h.now()}
	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext()
	_, err = h.store.AddReaction(ctx, msg.ID, reaction)
	cancel()
	if err != nil {
		rc.mu.Unlock()
		return models.StoreError(err)
	}
	h.fanout(req.RoomID, rc, models.Event{
		Type:      models.EventMessageReaction,
		MessageID: msg.ID,
		UserID:    c.UserID,
		Emoji:     emoji,
		Timestamp: reaction.Timestamp,
	}, "")
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, nil)
	return nil
}

func (h *Hub) editMessage(c *Client, req models.Request) error {
	if _, _, err := h.member(req.RoomID, c.UserID); err != nil {
		return err
	}
	msg, err := h.roomMessage(req.RoomID, req.MessageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != c.UserID {
		return models.NewError(models.CodeForbidden, "only the author can edit message %s", msg.ID)
	}
	if msg.Deleted {
		return models.NewError(models.CodeValidation, "message %s was deleted", msg.ID)
	}
	now := h.now()
	if h.opts.EditWindow > 0 && now.Sub(msg.Timestamp) > h.opts.EditWindow {
		return models.NewError(models.CodeValidation, "edit window of %s has passed", h.opts.EditWindow)
	}
	if len(req.Content) > maxContentBytes {
		return models.NewError(models.CodeValidation, "content exceeds %d bytes", maxContentBytes)
	}
	if !msg.Type.IsMedia() && strings.TrimSpace(req.Content) == "" {
		return models.NewError(models.CodeValidation, "content must not be empty")
	}

	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext()
	edited, err := h.store.MarkEdited(ctx, msg.ID, req.Content, now)
	cancel()
	if err != nil {
		rc.mu.Unlock()
		return models.StoreError(err)
	}
	h.fanout(req.RoomID, rc, models.Event{
		Type:      models.EventMessageEdited,
		MessageID: edited.ID,
		Content:   edited.Content,
		EditedAt:  edited.EditedAt,
	}, "")
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, nil)
	return nil
}

func (h *Hub) deleteMessage(c *Client, req models.Request) error {
	_, p, err := h.member(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	msg, err := h.roomMessage(req.RoomID, req.MessageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != c.UserID && p.Role != models.RoleAdmin {
		return models.NewError(models.CodeForbidden, "only the author or a room admin can delete message %s", msg.ID)
	}
	if msg.Deleted {
		c.ack(req.RequestID, req.RoomID, nil)
		return nil
	}

	rc, _, _, err := h.lockMember(req.RoomID, c.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext()
	_, err = h.store.MarkDeleted(ctx, msg.ID, h.now())
	cancel()
	if err != nil {
		rc.mu.Unlock()
		return models.StoreError(err)
	}
	h.fanout(req.RoomID, rc, models.Event{Type: models.EventMessageDeleted, MessageID: msg.ID}, "")
	rc.mu.Unlock()

	c.ack(req.RequestID, req.RoomID, nil)
	return nil
}
