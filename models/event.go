package models

import (
	"time"
)

// RequestType names a client-to-server frame on the live channel.
type RequestType string

const (
	RequestAuth        RequestType = "auth"
	RequestJoinRoom    RequestType = "join_room"
	RequestLeaveRoom   RequestType = "leave_room"
	RequestChatMessage RequestType = "chat_message"
	RequestTypingStart RequestType = "typing_start"
	RequestTypingStop  RequestType = "typing_stop"
	RequestReadReceipt RequestType = "read_receipt"
	RequestReaction    RequestType = "message_reaction"
	RequestEdit        RequestType = "message_edit"
	RequestDelete      RequestType = "message_delete"
	RequestPing        RequestType = "ping"
)

// Attachment carries an inline file for a media message. Data is base64 on
// the wire.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data"`
}

// Request is a client frame. Which fields are used depends on Type.
type Request struct {
	Type        RequestType      `json:"type"`
	RequestID   string           `json:"requestId,omitempty"`
	Token       string           `json:"token,omitempty"`
	RoomID      string           `json:"roomId,omitempty"`
	MessageID   string           `json:"messageId,omitempty"`
	Content     string           `json:"content,omitempty"`
	MessageType MessageType      `json:"messageType,omitempty"`
	ReplyTo     string           `json:"replyTo,omitempty"`
	Metadata    *MessageMetadata `json:"metadata,omitempty"`
	Attachment  *Attachment      `json:"attachment,omitempty"`
	Emoji       string           `json:"emoji,omitempty"`
}

// EventType names a server-to-client frame.
type EventType string

const (
	EventMessage            EventType = "message"
	EventTypingStart        EventType = "typing_start"
	EventTypingStop         EventType = "typing_stop"
	EventReadReceipt        EventType = "read_receipt"
	EventMessageEdited      EventType = "message_edited"
	EventMessageDeleted     EventType = "message_deleted"
	EventMessageReaction    EventType = "message_reaction"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventAck                EventType = "ack"
	EventError              EventType = "error"
	EventPong               EventType = "pong"
)

// Event is a server frame: either a room event pushed to joined connections
// or a reply (ack/error) to one request.
type Event struct {
	Type      EventType      `json:"type"`
	RoomID    string         `json:"roomId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Message   *Message       `json:"message,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Content   string         `json:"content,omitempty"`
	EditedAt  *time.Time     `json:"editedAt,omitempty"`
	Emoji     string         `json:"emoji,omitempty"`
	Role      Role           `json:"role,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      any            `json:"data,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
}
