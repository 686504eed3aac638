// Package rooms is the in-memory table of chat rooms and their participants.
//
// Every write to a room is serialized by that room's mutex; lookups read an
// immutable snapshot published through an atomic pointer and never block
// writers. No operation takes a lock spanning more than one room, except the
// short table lock used to insert a room.
package rooms

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crm-chat/backend/database"
	"crm-chat/backend/models"
	"crm-chat/backend/utils"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type entry struct {
	mu    sync.Mutex // serializes writers
	snap  atomic.Pointer[models.Room]
	dirty bool // activity not yet in the room store; guarded by mu
}

func (e *entry) load() models.Room {
	return e.snap.Load().Clone()
}

// Registry owns room lifecycle and membership.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*entry
	direct map[utils.Pair]string // room id by sorted pair

	persist database.RoomStore // optional
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithRoomStore writes every mutated room through to store.
func WithRoomStore(store database.RoomStore) Option {
	return func(r *Registry) { r.persist = store }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:  make(map[string]*entry),
		direct: make(map[utils.Pair]string),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load seeds the registry from the room store.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.persist == nil {
		return 0, nil
	}
	rooms, err := r.persist.LoadRooms(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range rooms {
		room := rooms[i]
		e := &entry{}
		e.snap.Store(&room)
		r.rooms[room.ID] = e
		if room.Kind == models.RoomDirect && len(room.Participants) == 2 {
			r.direct[utils.PairKey(room.Participants[0].UserID, room.Participants[1].UserID)] = room.ID
		}
	}
	log.Printf("Loaded %d rooms from the room store", len(rooms))
	return len(rooms), nil
}

func (r *Registry) save(ctx context.Context, room models.Room) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveRoom(ctx, room); err != nil {
		log.Printf("Error persisting room %s: %v", room.ID, err)
	}
}

func (r *Registry) lookup(roomID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[roomID]
	return e, ok
}

func (r *Registry) insert(room models.Room) {
	e := &entry{}
	e.snap.Store(&room)
	r.rooms[room.ID] = e
}

// GetOrCreateDirect returns the single direct room shared by a and b,
// creating it with createdBy = a on first use. The second return value
// reports whether the room was created.
func (r *Registry) GetOrCreateDirect(ctx context.Context, userA, userB string) (models.Room, bool, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return models.Room{}, false, models.NewError(models.CodeValidation, "both users are required")
	}
	if userA == userB {
		return models.Room{}, false, models.NewError(models.CodeValidation, "a direct room needs two distinct users")
	}

	key := utils.PairKey(userA, userB)

	r.mu.Lock()
	if id, ok := r.direct[key]; ok {
		e := r.rooms[id]
		r.mu.Unlock()
		return e.load(), false, nil
	}

	now := r.now()
	room := models.Room{
		ID:        uuid.NewString(),
		Kind:      models.RoomDirect,
		CreatedBy: userA,
		Participants: []models.Participant{
			{UserID: userA, Role: models.RoleMember, JoinedAt: now},
			{UserID: userB, Role: models.RoleMember, JoinedAt: now},
		},
		LastActivity: now,
		Settings:     models.RoomSettings{NotificationsEnabled: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.insert(room)
	r.direct[key] = room.ID
	r.mu.Unlock()

	log.Printf("Direct room %s created for %s and %s", room.ID, userA, userB)
	r.save(ctx, room)
	return room.Clone(), true, nil
}

// CreateGroup makes a group room whose creator is its first admin.
func (r *Registry) CreateGroup(ctx context.Context, creator, name string, initialParticipants []string) (models.Room, error) {
	return r.createMulti(ctx, models.RoomGroup, creator, name, initialParticipants, models.RoleMember)
}

// CreateBroadcast makes a room where only admins post; everyone else joins
// as a viewer.
func (r *Registry) CreateBroadcast(ctx context.Context, creator, name string, initialParticipants []string) (models.Room, error) {
	return r.createMulti(ctx, models.RoomBroadcast, creator, name, initialParticipants, models.RoleViewer)
}

func (r *Registry) createMulti(ctx context.Context, kind models.RoomKind, creator, name string, initial []string, role models.Role) (models.Room, error) {
	creator = strings.TrimSpace(creator)
	name = strings.TrimSpace(name)
	if creator == "" {
		return models.Room{}, models.NewError(models.CodeValidation, "creator is required")
	}
	if name == "" {
		return models.Room{}, models.NewError(models.CodeValidation, "room name is required")
	}

	var others []string
	for _, id := range utils.DedupeIDs(initial) {
		if id != creator {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return models.Room{}, models.NewError(models.CodeValidation, "at least one participant besides the creator is required")
	}

	now := r.now()
	participants := make([]models.Participant, 0, len(others)+1)
	participants = append(participants, models.Participant{UserID: creator, Role: models.RoleAdmin, JoinedAt: now})
	for _, id := range others {
		participants = append(participants, models.Participant{UserID: id, Role: role, JoinedAt: now})
	}

	room := models.Room{
		ID:           uuid.NewString(),
		Name:         name,
		Kind:         kind,
		CreatedBy:    creator,
		Participants: participants,
		LastActivity: now,
		Settings:     models.RoomSettings{NotificationsEnabled: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.insert(room)
	r.mu.Unlock()

	log.Printf("%s room %s (%q) created by %s with %d participants", kind, room.ID, name, creator, len(participants))
	r.save(ctx, room)
	return room.Clone(), nil
}

// update runs fn on a private copy of the room under the room's lock and
// publishes the result. fn returning changed=false leaves the room untouched.
func (r *Registry) update(ctx context.Context, roomID string, fn func(room *models.Room) (bool, error)) (models.Room, error) {
	e, ok := r.lookup(roomID)
	if !ok {
		return models.Room{}, models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}

	e.mu.Lock()
	room := e.load()
	changed, err := fn(&room)
	if err != nil || !changed {
		e.mu.Unlock()
		if err != nil {
			return models.Room{}, err
		}
		return room, nil
	}
	room.UpdatedAt = r.now()
	published := room.Clone()
	e.snap.Store(&published)
	e.dirty = false
	e.mu.Unlock()

	r.save(ctx, published)
	return room, nil
}

// AddParticipant adds user with role. Adding a present user is a no-op.
func (r *Registry) AddParticipant(ctx context.Context, roomID, userID string, role models.Role) (models.Room, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.Room{}, models.NewError(models.CodeValidation, "user is required")
	}
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return models.Room{}, models.NewError(models.CodeValidation, "unknown role %q", role)
	}

	return r.update(ctx, roomID, func(room *models.Room) (bool, error) {
		if room.Settings.Archived {
			return false, models.NewError(models.CodeNotFound, "room %s is archived", roomID)
		}
		if room.HasParticipant(userID) {
			return false, nil
		}
		if room.Kind == models.RoomDirect {
			return false, models.NewError(models.CodeRoomKindViolation, "direct rooms have exactly two participants")
		}
		room.Participants = append(room.Participants, models.Participant{UserID: userID, Role: role, JoinedAt: r.now()})
		return true, nil
	})
}

// RemoveParticipant drops user from a group or broadcast room. When the last
// admin leaves, the earliest-joined remaining participant becomes admin; when
// nobody is left, the room is archived.
func (r *Registry) RemoveParticipant(ctx context.Context, roomID, userID string) (models.Room, error) {
	return r.update(ctx, roomID, func(room *models.Room) (bool, error) {
		if room.Kind == models.RoomDirect {
			return false, models.NewError(models.CodeRoomKindViolation, "participants cannot leave a direct room")
		}

		idx := -1
		for i, p := range room.Participants {
			if p.UserID == userID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, models.NewError(models.CodeNotFound, "user %s is not in room %s", userID, roomID)
		}

		room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)
		if len(room.Participants) == 0 {
			room.Settings.Archived = true
			log.Printf("Room %s archived: last participant left", roomID)
			return true, nil
		}

		for _, p := range room.Participants {
			if p.Role == models.RoleAdmin {
				return true, nil
			}
		}
		senior := 0
		for i, p := range room.Participants {
			if p.JoinedAt.Before(room.Participants[senior].JoinedAt) {
				senior = i
			}
		}
		room.Participants[senior].Role = models.RoleAdmin
		log.Printf("User %s promoted to admin of room %s", room.Participants[senior].UserID, roomID)
		return true, nil
	})
}

// SettingsPatch carries the settings fields to change; nil means keep.
type SettingsPatch struct {
	NotificationsEnabled *bool `json:"notificationsEnabled,omitempty"`
	Muted                *bool `json:"muted,omitempty"`
	Pinned               *bool `json:"pinned,omitempty"`
	Archived             *bool `json:"archived,omitempty"`
}

func (r *Registry) UpdateSettings(ctx context.Context, roomID string, patch SettingsPatch) (models.Room, error) {
	return r.update(ctx, roomID, func(room *models.Room) (bool, error) {
		before := room.Settings
		set := func(dst *bool, v *bool) {
			if v != nil {
				*dst = *v
			}
		}
		set(&room.Settings.NotificationsEnabled, patch.NotificationsEnabled)
		set(&room.Settings.Muted, patch.Muted)
		set(&room.Settings.Pinned, patch.Pinned)
		set(&room.Settings.Archived, patch.Archived)
		return room.Settings != before, nil
	})
}

// Touch records messageID as the room's latest message. Only the snapshot
// changes; FlushActivity writes it to the room store later.
func (r *Registry) Touch(roomID, messageID string, at time.Time) error {
	e, ok := r.lookup(roomID)
	if !ok {
		return models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}

	e.mu.Lock()
	room := e.load()
	room.LastMessageID = messageID
	if at.After(room.LastActivity) {
		room.LastActivity = at
	}
	e.snap.Store(&room)
	e.dirty = r.persist != nil
	e.mu.Unlock()
	return nil
}

// FlushActivity persists the last activity of every room touched since the
// previous flush and returns how many rooms were written. Failed rooms stay
// pending for the next flush.
func (r *Registry) FlushActivity(ctx context.Context) int {
	if r.persist == nil {
		return 0
	}

	r.mu.RLock()
	entries := make(map[string]*entry, len(r.rooms))
	for id, e := range r.rooms {
		entries[id] = e
	}
	r.mu.RUnlock()

	written := 0
	for id, e := range entries {
		e.mu.Lock()
		if !e.dirty {
			e.mu.Unlock()
			continue
		}
		e.dirty = false
		snap := e.load()
		e.mu.Unlock()

		err := r.persist.TouchRoom(ctx, id, snap.LastMessageID, snap.LastActivity)
		if errors.Is(err, models.ErrNotFound) {
			err = r.persist.SaveRoom(ctx, snap)
		}
		if err != nil {
			log.Printf("Error flushing activity of room %s: %v", id, err)
			e.mu.Lock()
			e.dirty = true
			e.mu.Unlock()
			continue
		}
		written++
	}
	return written
}

// Get returns a snapshot of the room.
func (r *Registry) Get(roomID string) (models.Room, error) {
	e, ok := r.lookup(roomID)
	if !ok {
		return models.Room{}, models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}
	return e.load(), nil
}

// Participant returns userID's membership in the room, failing with
// Forbidden when the user is not a participant.
func (r *Registry) Participant(roomID, userID string) (models.Room, models.Participant, error) {
	room, err := r.Get(roomID)
	if err != nil {
		return models.Room{}, models.Participant{}, err
	}
	p, ok := room.Participant(userID)
	if !ok {
		return room, models.Participant{}, models.NewError(models.CodeForbidden, "user %s is not a participant of room %s", userID, roomID)
	}
	return room, p, nil
}

// ListRoomsForUser pages through the user's non-archived rooms, most recent
// activity first with ties broken by room id.
func (r *Registry) ListRoomsForUser(userID string, limit, offset int) ([]models.Room, error) {
	if offset < 0 {
		return nil, models.NewError(models.CodeValidation, "offset must not be negative")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var rooms []models.Room
	for _, e := range entries {
		snap := e.snap.Load()
		if snap.Settings.Archived || !snap.HasParticipant(userID) {
			continue
		}
		rooms = append(rooms, snap.Clone())
	}

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastActivity.Equal(rooms[j].LastActivity) {
			return rooms[i].LastActivity.After(rooms[j].LastActivity)
		}
		return rooms[i].ID < rooms[j].ID
	})

	if offset >= len(rooms) {
		return []models.Room{}, nil
	}
	end := offset + limit
	if end > len(rooms) {
		end = len(rooms)
	}
	return rooms[offset:end], nil
}

// RoomIDs lists every known room id, archived included.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
