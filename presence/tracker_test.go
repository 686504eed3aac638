package presence

import (
	"context"
	"testing"
	"time"

	"crm-chat/backend/models"
	"crm-chat/backend/presence/mocks"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestUnreadScenario(t *testing.T) {
	tr := NewTracker(nil)
	participants := []string{"a", "b", "c"}

	tr.MessageAppended("sales", "a", "m1", participants)

	assert.Equal(t, 0, tr.Unread("sales", "a"))
	assert.Equal(t, 1, tr.Unread("sales", "b"))
	assert.Equal(t, 1, tr.Unread("sales", "c"))

	assert.True(t, tr.ReadReceipt("sales", "b", "m1"))
	assert.Equal(t, 0, tr.Unread("sales", "b"))
	assert.Equal(t, 1, tr.Unread("sales", "c"))
}

func TestStaleReceiptDoesNotClear(t *testing.T) {
	tr := NewTracker(nil)
	participants := []string{"a", "b"}

	tr.MessageAppended("r", "a", "m1", participants)
	tr.MessageAppended("r", "a", "m2", participants)

	assert.False(t, tr.ReadReceipt("r", "b", "m1"))
	assert.Equal(t, 2, tr.Unread("r", "b"))

	assert.True(t, tr.ReadReceipt("r", "b", "m2"))
	assert.Equal(t, 0, tr.Unread("r", "b"))

	assert.True(t, tr.ReadReceipt("r", "b", "m2"))
	assert.Equal(t, 0, tr.Unread("r", "b"), "repeated receipts never go negative")
	assert.False(t, tr.ReadReceipt("r", "b", ""))
}

func TestJoinedDoesNotMeanRead(t *testing.T) {
	tr := NewTracker(nil)
	tr.Joined("r", "b")

	tr.MessageAppended("r", "a", "m1", []string{"a", "b"})
	assert.Equal(t, 1, tr.Unread("r", "b"))
}

func TestPresenceFollowsConnections(t *testing.T) {
	tr := NewTracker(nil)

	tr.Connected("a")
	tr.Connected("a")
	tr.Joined("r1", "a")
	tr.Joined("r1", "a")
	tr.Joined("r2", "a")
	assert.True(t, tr.IsOnline("a"))
	assert.True(t, tr.OnlineIn("r1", "a"))

	tr.Disconnected("a", []string{"r1", "r2"})
	assert.True(t, tr.IsOnline("a"), "second connection is still open")
	assert.True(t, tr.OnlineIn("r1", "a"))
	assert.False(t, tr.OnlineIn("r2", "a"))

	tr.Disconnected("a", []string{"r1"})
	assert.False(t, tr.IsOnline("a"))
	assert.False(t, tr.OnlineIn("r1", "a"))

	tr.Disconnected("ghost", nil)
	assert.False(t, tr.IsOnline("ghost"))
}

func TestDecorate(t *testing.T) {
	tr := NewTracker(nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Joined("r", "a")
	room := tr.Decorate(models.Room{
		ID:           "r",
		Participants: []models.Participant{{UserID: "a"}, {UserID: "b"}},
	})

	assert.True(t, room.Participants[0].Online)
	assert.Equal(t, fixed, room.Participants[0].LastSeen)
	assert.False(t, room.Participants[1].Online)
	assert.True(t, room.Participants[1].LastSeen.IsZero())
}

func TestRebuildFromReadCursors(t *testing.T) {
	tr := NewTracker(nil)
	joined := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return joined.Add(time.Duration(min) * time.Minute) }
	participants := []models.Participant{
		{UserID: "a", JoinedAt: joined},
		{UserID: "b", JoinedAt: joined},
		{UserID: "c", JoinedAt: joined},
		{UserID: "d", JoinedAt: at(3)},
	}
	newestFirst := []models.Message{
		{ID: "m4", Seq: 4, AuthorID: "a", Timestamp: at(4)},
		{ID: "m3", Seq: 3, AuthorID: "b", Timestamp: at(3), Deleted: true},
		{ID: "m2", Seq: 2, AuthorID: "a", Timestamp: at(2), ReadBy: []string{"b", "c"}},
		{ID: "m1", Seq: 1, AuthorID: "c", Timestamp: at(1), ReadBy: []string{"a", "b"}},
	}
	cursors := map[string]int64{"a": 1, "b": 2}

	tr.Rebuild("r", participants, newestFirst, cursors)

	assert.Equal(t, 1, tr.Unread("r", "a"), "m3 only; cursor at m1")
	assert.Equal(t, 1, tr.Unread("r", "b"), "m4 only")
	assert.Equal(t, 3, tr.Unread("r", "c"), "read-by without a cursor clears nothing")
	assert.Equal(t, 2, tr.Unread("r", "d"), "messages before joining do not count")

	assert.True(t, tr.ReadReceipt("r", "c", "m4"), "newest pointer is restored")
	assert.Equal(t, 0, tr.Unread("r", "c"))
}

func TestRebuildMatchesLiveCountsAfterStaleReceipt(t *testing.T) {
	live := NewTracker(nil)
	ids := []string{"a", "b"}
	var newestFirst []models.Message
	for i, id := range []string{"m1", "m2", "m3"} {
		live.MessageAppended("r", "a", id, ids)
		newestFirst = append([]models.Message{{ID: id, Seq: int64(i + 1), AuthorID: "a"}}, newestFirst...)
	}
	assert.False(t, live.ReadReceipt("r", "b", "m2"))
	newestFirst[1].ReadBy = []string{"b"}

	restarted := NewTracker(nil)
	restarted.Rebuild("r", []models.Participant{{UserID: "a"}, {UserID: "b"}}, newestFirst, map[string]int64{})
	assert.Equal(t, live.Unread("r", "b"), restarted.Unread("r", "b"))
	assert.Equal(t, 3, restarted.Unread("r", "b"))
}

func TestForgetClearsRemovedParticipant(t *testing.T) {
	tr := NewTracker(nil)
	tr.Joined("r", "b")
	tr.MessageAppended("r", "a", "m1", []string{"a", "b"})
	tr.Left("r", "b")

	tr.Forget("r", "b")
	assert.Equal(t, 0, tr.Unread("r", "b"))
	room := tr.Decorate(models.Room{ID: "r", Participants: []models.Participant{{UserID: "b"}}})
	assert.True(t, room.Participants[0].LastSeen.IsZero())

	tr.MessageAppended("r", "a", "m2", []string{"a", "b"})
	assert.Equal(t, 1, tr.Unread("r", "b"), "re-added user starts from zero")
}

func TestUnreadSnapshotIsACopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.MessageAppended("r", "a", "m1", []string{"a", "b"})

	snap := tr.UnreadSnapshot("r")
	snap.Increment("b")
	assert.Equal(t, 1, tr.Unread("r", "b"))
}

func TestMirrorReceivesUpdates(t *testing.T) {
	ctrl := gomock.NewController(t)
	mirror := mocks.NewMockMirror(ctrl)
	tr := NewTracker(mirror)

	done := make(chan struct{}, 4)
	presenceDone := func(context.Context, string, bool, time.Time) { done <- struct{}{} }
	unreadDone := func(context.Context, string, string, int) { done <- struct{}{} }

	gomock.InOrder(
		mirror.EXPECT().PublishPresence(gomock.Any(), "b", true, gomock.Any()).Return(nil).Do(presenceDone),
		mirror.EXPECT().PublishUnread(gomock.Any(), "r", "b", 1).Return(nil).Do(unreadDone),
		mirror.EXPECT().PublishUnread(gomock.Any(), "r", "b", 0).Return(nil).Do(unreadDone),
		mirror.EXPECT().PublishPresence(gomock.Any(), "b", false, gomock.Any()).Return(nil).Do(presenceDone),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Connected("b")
	tr.MessageAppended("r", "a", "m1", []string{"a", "b"})
	tr.ReadReceipt("r", "b", "m1")
	tr.Disconnected("b", nil)

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("mirror update %d not delivered", i+1)
		}
	}
}
