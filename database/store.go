package database

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"time"

	"crm-chat/backend/models"
)

// MessageStore is the durable, per-room ordered message log.
//
// Lookups of unknown ids fail with models.ErrNotFound; every other failure
// is an infrastructure error the caller reports as StoreUnavailable.
type MessageStore interface {
	// Append assigns the message id and the next room sequence number.
	Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
	// MarkEdited replaces the content of a live message.
	MarkEdited(ctx context.Context, messageID, content string, at time.Time) (models.Message, error)
	// MarkDeleted tombstones a message. Deleting a tombstone is a no-op.
	MarkDeleted(ctx context.Context, messageID string, at time.Time) (models.Message, error)
	// AddReaction records a (user, emoji) pair at most once.
	AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (models.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) error
	// ListSince returns messages with seq > cursor, oldest first.
	ListSince(ctx context.Context, roomID string, cursor int64, limit int) ([]models.Message, error)
	// ListBefore returns messages with seq < cursor, newest first. A zero
	// cursor starts at the newest message.
	ListBefore(ctx context.Context, roomID string, cursor int64, limit int) ([]models.Message, error)
	// SaveReadCursor advances the seq up to which userID has read roomID.
	// A lower seq than the stored one is ignored.
	SaveReadCursor(ctx context.Context, roomID, userID string, seq int64) error
	// ReadCursors returns the read cursor of every user of roomID.
	ReadCursors(ctx context.Context, roomID string) (map[string]int64, error)
}

// RoomStore persists room registry snapshots.
type RoomStore interface {
	SaveRoom(ctx context.Context, room models.Room) error
	// TouchRoom updates only the last message id and last activity.
	TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error
	LoadRooms(ctx context.Context) ([]models.Room, error)
}
