package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatErrorMatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", NewError(CodeForbidden, "user %s is not in room %s", "u1", "r1"))

	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeForbidden, CodeOf(err))
	assert.Equal(t, "user u1 is not in room r1", ResponseOf(err).Message)
}

func TestStoreErrorWrapsPlainErrors(t *testing.T) {
	plain := errors.New("connection reset")

	err := StoreError(plain)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, plain))
	assert.NotContains(t, ResponseOf(err).Message, "connection reset")

	assert.True(t, errors.Is(StoreError(ErrNotFound), ErrNotFound))
	assert.NoError(t, StoreError(nil))
	assert.Equal(t, CodeInternal, CodeOf(plain))
}

func TestRedactedKeepsIdentity(t *testing.T) {
	now := time.Now()
	msg := Message{
		ID:        "m1",
		RoomID:    "r1",
		Seq:       7,
		Content:   "secret",
		Type:      MessageImage,
		Metadata:  &MessageMetadata{FileURL: "http://x/files/1"},
		Reactions: []Reaction{{UserID: "u2", Emoji: "👍", Timestamp: now}},
		ReadBy:    []string{"u2"},
	}

	assert.Equal(t, msg, msg.Redacted(), "live messages are untouched")

	msg.Deleted = true
	red := msg.Redacted()
	assert.Equal(t, "m1", red.ID)
	assert.Equal(t, int64(7), red.Seq)
	assert.Empty(t, red.Content)
	assert.Nil(t, red.Metadata)
	assert.Empty(t, red.Reactions)
	assert.Equal(t, []string{"u2"}, red.ReadBy)
}

func TestUnreadCountsDefaultZero(t *testing.T) {
	u := UnreadCounts{}
	assert.Equal(t, 0, u.Get("nobody"))

	u.Increment("b")
	u.Increment("b")
	assert.Equal(t, 2, u.Get("b"))

	u.Reset("b")
	assert.Equal(t, 0, u.Get("b"))

	var empty UnreadCounts
	assert.Equal(t, 0, empty.Get("b"))
}

func TestRoomHelpers(t *testing.T) {
	room := Room{
		Participants: []Participant{
			{UserID: "a", Role: RoleAdmin},
			{UserID: "b", Role: RoleMember},
		},
		Metadata: RoomMetadata{Tags: []string{"sales"}},
	}

	assert.True(t, room.IsAdmin("a"))
	assert.False(t, room.IsAdmin("b"))
	assert.False(t, room.HasParticipant("c"))
	assert.Equal(t, []string{"a", "b"}, room.ParticipantIDs())

	clone := room.Clone()
	clone.Participants[0].Role = RoleViewer
	clone.Metadata.Tags[0] = "ops"
	assert.Equal(t, RoleAdmin, room.Participants[0].Role)
	assert.Equal(t, "sales", room.Metadata.Tags[0])

	assert.True(t, MessageFile.IsMedia())
	assert.False(t, MessageText.IsMedia())
	assert.False(t, MessageType("sticker").Valid())
	assert.False(t, Role("owner").Valid())
}
