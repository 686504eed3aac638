package models

import (
	"time"
)

// MessageType is the content kind of a chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

// IsMedia reports whether the message must reference an uploaded file.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageText
}

type Reaction struct {
	UserID    string    `bson:"userId" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// MessageMetadata describes the file behind a media message.
type MessageMetadata struct {
	FileURL  string `bson:"fileUrl,omitempty" json:"fileUrl,omitempty"`
	FileName string `bson:"fileName,omitempty" json:"fileName,omitempty"`
	MimeType string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message is one entry of a room's ordered log. Seq is assigned by the
// store and strictly increases within a room.
type Message struct {
	ID        string           `bson:"_id" json:"id"`
	RoomID    string           `bson:"roomId" json:"roomId"`
	Seq       int64            `bson:"seq" json:"seq"`
	AuthorID  string           `bson:"authorId" json:"authorId"`
	Content   string           `bson:"content" json:"content"`
	Type      MessageType      `bson:"type" json:"type"`
	ReplyTo   string           `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Metadata  *MessageMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp time.Time        `bson:"timestamp" json:"timestamp"`
	IsEdited  bool             `bson:"isEdited" json:"isEdited"`
	EditedAt  *time.Time       `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Deleted   bool             `bson:"deleted" json:"deleted"`
	DeletedAt *time.Time       `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	Reactions []Reaction       `bson:"reactions" json:"reactions"`
	ReadBy    []string         `bson:"readBy" json:"readBy"`
}

// Redacted strips the content of a tombstoned message. Identity, position
// and read state are kept.
func (m Message) Redacted() Message {
	if !m.Deleted {
		return m
	}
	m.Content = ""
	m.Metadata = nil
	m.Reactions = nil
	return m
}

func (m Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
