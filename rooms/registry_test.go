package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crm-chat/backend/database"
	"crm-chat/backend/database/mocks"
	"crm-chat/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// tickingClock advances one second per call so joinedAt values are ordered.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestRegistry(opts ...Option) *Registry {
	return NewRegistry(append([]Option{WithClock(tickingClock())}, opts...)...)
}

func TestGetOrCreateDirectIsIdempotentAndUnordered(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, created, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoomDirect, first.Kind)
	assert.Equal(t, "alice", first.CreatedBy)
	assert.Len(t, first.Participants, 2)

	again, created, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	reversed, _, err := r.GetOrCreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, reversed.ID)
}

func TestGetOrCreateDirectConcurrent(t *testing.T) {
	r := newTestRegistry()
	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			room, _, err := r.GetOrCreateDirect(context.Background(), a, b)
			assert.NoError(t, err)
			ids <- room.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestGetOrCreateDirectSeparatesColonIDs(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, created, err := r.GetOrCreateDirect(ctx, "a:b", "c")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.GetOrCreateDirect(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.HasParticipant("a"))
	assert.True(t, second.HasParticipant("b:c"))
	assert.False(t, second.HasParticipant("a:b"))
}

func TestGetOrCreateDirectValidation(t *testing.T) {
	r := newTestRegistry()
	_, _, err := r.GetOrCreateDirect(context.Background(), "alice", "alice")
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, _, err = r.GetOrCreateDirect(context.Background(), "", "bob")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestDirectRoomRejectsThirdParticipant(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	room, _, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = r.AddParticipant(ctx, room.ID, "carol", models.RoleMember)
	assert.True(t, errors.Is(err, models.ErrRoomKindViolation))

	same, err := r.AddParticipant(ctx, room.ID, "bob", models.RoleMember)
	assert.NoError(t, err, "re-adding an existing participant is a no-op")
	assert.Len(t, same.Participants, 2)

	_, err = r.RemoveParticipant(ctx, room.ID, "bob")
	assert.True(t, errors.Is(err, models.ErrRoomKindViolation))
}

func TestCreateGroup(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b", "c", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, models.RoomGroup, room.Kind)
	assert.Equal(t, []string{"a", "b", "c"}, room.ParticipantIDs())
	assert.True(t, room.IsAdmin("a"))
	assert.False(t, room.IsAdmin("b"))

	for _, tc := range []struct {
		name    string
		creator string
		group   string
		members []string
	}{
		{"no participants", "a", "Sales", nil},
		{"only the creator", "a", "Sales", []string{"a"}},
		{"blank name", "a", "  ", []string{"b"}},
		{"no creator", "", "Sales", []string{"b"}},
	} {
		_, err := r.CreateGroup(ctx, tc.creator, tc.group, tc.members)
		assert.True(t, errors.Is(err, models.ErrValidation), tc.name)
	}
}

func TestCreateBroadcastMakesViewers(t *testing.T) {
	r := newTestRegistry()
	room, err := r.CreateBroadcast(context.Background(), "a", "Announcements", []string{"b"})
	require.NoError(t, err)

	p, ok := room.Participant("b")
	require.True(t, ok)
	assert.Equal(t, models.RoleViewer, p.Role)
	assert.Equal(t, models.RoomBroadcast, room.Kind)
}

func TestAddParticipant(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)

	updated, err := r.AddParticipant(ctx, room.ID, "c", "")
	require.NoError(t, err)
	p, ok := updated.Participant("c")
	require.True(t, ok)
	assert.Equal(t, models.RoleMember, p.Role)

	again, err := r.AddParticipant(ctx, room.ID, "c", models.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, again.Participants, 3)
	p, _ = again.Participant("c")
	assert.Equal(t, models.RoleMember, p.Role, "idempotent add keeps the existing entry")

	_, err = r.AddParticipant(ctx, room.ID, "d", models.Role("owner"))
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = r.AddParticipant(ctx, "missing", "d", models.RoleMember)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	archived := true
	_, err = r.UpdateSettings(ctx, room.ID, SettingsPatch{Archived: &archived})
	require.NoError(t, err)
	_, err = r.AddParticipant(ctx, room.ID, "d", models.RoleMember)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRemoveLastAdminPromotesMostSenior(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)
	_, err = r.AddParticipant(ctx, room.ID, "c", models.RoleMember)
	require.NoError(t, err)

	updated, err := r.RemoveParticipant(ctx, room.ID, "a")
	require.NoError(t, err)
	assert.False(t, updated.HasParticipant("a"))
	assert.True(t, updated.IsAdmin("b"))
	assert.False(t, updated.IsAdmin("c"))
}

func TestRemoveParticipantKeepsOtherAdmins(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)
	_, err = r.AddParticipant(ctx, room.ID, "c", models.RoleAdmin)
	require.NoError(t, err)

	updated, err := r.RemoveParticipant(ctx, room.ID, "a")
	require.NoError(t, err)
	assert.False(t, updated.IsAdmin("b"))
	assert.True(t, updated.IsAdmin("c"))

	_, err = r.RemoveParticipant(ctx, room.ID, "zed")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRemovingEveryoneArchives(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)

	_, err = r.RemoveParticipant(ctx, room.ID, "a")
	require.NoError(t, err)
	last, err := r.RemoveParticipant(ctx, room.ID, "b")
	require.NoError(t, err)
	assert.True(t, last.Settings.Archived)

	_, err = r.Get(room.ID)
	assert.NoError(t, err, "archived rooms are never dropped")
}

func TestListRoomsForUser(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		room, err := r.CreateGroup(ctx, "a", fmt.Sprintf("room-%d", i), []string{"b"})
		require.NoError(t, err)
		ids = append(ids, room.ID)
	}
	other, err := r.CreateGroup(ctx, "x", "elsewhere", []string{"y"})
	require.NoError(t, err)

	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Touch(ids[0], "m0", base.Add(3*time.Hour)))
	require.NoError(t, r.Touch(ids[1], "m1", base.Add(time.Hour)))
	require.NoError(t, r.Touch(ids[2], "m2", base.Add(time.Hour)))
	require.NoError(t, r.Touch(ids[3], "m3", base.Add(2*time.Hour)))

	archived := true
	_, err = r.UpdateSettings(ctx, ids[3], SettingsPatch{Archived: &archived})
	require.NoError(t, err)

	all, err := r.ListRoomsForUser("b", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[0], all[0].ID)
	tied := []string{ids[1], ids[2]}
	if tied[1] < tied[0] {
		tied[0], tied[1] = tied[1], tied[0]
	}
	assert.Equal(t, tied, []string{all[1].ID, all[2].ID}, "ties are ordered by room id")
	for _, room := range all {
		assert.NotEqual(t, other.ID, room.ID)
	}

	page, err := r.ListRoomsForUser("b", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[2].ID, page[0].ID)

	beyond, err := r.ListRoomsForUser("b", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	_, err = r.ListRoomsForUser("b", 2, -1)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	r := newTestRegistry()
	room, err := r.CreateGroup(context.Background(), "a", "Sales", []string{"b"})
	require.NoError(t, err)

	room.Participants[0].Role = models.RoleViewer
	fresh, err := r.Get(room.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsAdmin("a"))
}

func TestRegistryPersistsAndReloads(t *testing.T) {
	store := database.NewMemoryRoomStore()
	ctx := context.Background()

	r := newTestRegistry(WithRoomStore(store))
	direct, _, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	group, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)
	_, err = r.AddParticipant(ctx, group.ID, "c", models.RoleMember)
	require.NoError(t, err)

	reloaded := newTestRegistry(WithRoomStore(store))
	n, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again, created, err := reloaded.GetOrCreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, direct.ID, again.ID)

	g, err := reloaded.Get(group.ID)
	require.NoError(t, err)
	assert.True(t, g.HasParticipant("c"))
}

func TestTouchIsFlushedInBatches(t *testing.T) {
	store := database.NewMemoryRoomStore()
	ctx := context.Background()
	r := newTestRegistry(WithRoomStore(store))

	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.Touch(room.ID, "m1", at))
	require.NoError(t, r.Touch(room.ID, "m2", at.Add(time.Second)))

	snap, err := r.Get(room.ID)
	require.NoError(t, err)
	assert.Equal(t, "m2", snap.LastMessageID)

	saved, err := store.LoadRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved[0].LastMessageID, "touch does not write through")

	assert.Equal(t, 1, r.FlushActivity(ctx))
	saved, err = store.LoadRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", saved[0].LastMessageID)
	assert.True(t, saved[0].LastActivity.Equal(at.Add(time.Second)))

	assert.Equal(t, 0, r.FlushActivity(ctx), "nothing pending")

	require.NoError(t, r.Touch(room.ID, "m3", at.Add(2*time.Second)))
	_, err = r.AddParticipant(ctx, room.ID, "c", models.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, 0, r.FlushActivity(ctx), "full saves clear pending activity")
	saved, err = store.LoadRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m3", saved[0].LastMessageID)
}

func TestFlushActivityRetriesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	store.EXPECT().SaveRoom(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	ctx := context.Background()
	r := newTestRegistry(WithRoomStore(store))
	room, err := r.CreateGroup(ctx, "a", "Sales", []string{"b"})
	require.NoError(t, err)
	require.NoError(t, r.Touch(room.ID, "m1", time.Now()))

	gomock.InOrder(
		store.EXPECT().TouchRoom(gomock.Any(), room.ID, "m1", gomock.Any()).Return(errors.New("connection reset")),
		store.EXPECT().TouchRoom(gomock.Any(), room.ID, "m1", gomock.Any()).Return(nil),
	)
	assert.Equal(t, 0, r.FlushActivity(ctx))
	assert.Equal(t, 1, r.FlushActivity(ctx))
}

func TestTouchUnknownRoom(t *testing.T) {
	r := newTestRegistry()
	assert.True(t, errors.Is(r.Touch("missing", "m", time.Now()), models.ErrNotFound))
	assert.Equal(t, 0, r.FlushActivity(context.Background()))
}
