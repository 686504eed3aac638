package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm-chat/backend/models"

	"github.com/google/uuid"
)

// MemoryMessageStore is a process-local MessageStore for tests and
// single-node development.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	rooms    map[string][]*models.Message // seq order
	cursors  map[string]map[string]int64  // room -> user -> seq
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*models.Message),
		rooms:    make(map[string][]*models.Message),
		cursors:  make(map[string]map[string]int64),
	}
}

func copyMessage(m *models.Message) models.Message {
	out := *m
	out.Reactions = append([]models.Reaction{}, m.Reactions...)
	out.ReadBy = append([]string{}, m.ReadBy...)
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}

func (s *MemoryMessageStore) Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.rooms[roomID]
	stored := copyMessage(&msg)
	stored.ID = uuid.NewString()
	stored.RoomID = roomID
	stored.Seq = int64(len(entries) + 1)

	s.messages[stored.ID] = &stored
	s.rooms[roomID] = append(entries, &stored)
	return copyMessage(&stored), nil
}

func (s *MemoryMessageStore) Get(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, models.NewError(models.CodeNotFound, "message %s not found", messageID)
	}
	return copyMessage(m), nil
}

// mutate runs fn on the stored message under the write lock.
func (s *MemoryMessageStore) mutate(messageID string, fn func(m *models.Message) error) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, models.NewError(models.CodeNotFound, "message %s not found", messageID)
	}
	if err := fn(m); err != nil {
		return models.Message{}, err
	}
	return copyMessage(m), nil
}

func (s *MemoryMessageStore) MarkEdited(_ context.Context, messageID, content string, at time.Time) (models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if m.Deleted {
			return models.NewError(models.CodeNotFound, "message %s was deleted", messageID)
		}
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &at
		return nil
	})
}

func (s *MemoryMessageStore) MarkDeleted(_ context.Context, messageID string, at time.Time) (models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.Deleted {
			m.Deleted = true
			m.DeletedAt = &at
		}
		return nil
	})
}

func (s *MemoryMessageStore) AddReaction(_ context.Context, messageID string, reaction models.Reaction) (models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.HasReaction(reaction.UserID, reaction.Emoji) {
			m.Reactions = append(m.Reactions, reaction)
		}
		return nil
	})
}

func (s *MemoryMessageStore) MarkRead(_ context.Context, messageID, userID string) error {
	_, err := s.mutate(messageID, func(m *models.Message) error {
		if !m.ReadByUser(userID) {
			m.ReadBy = append(m.ReadBy, userID)
		}
		return nil
	})
	return err
}

func (s *MemoryMessageStore) ListSince(_ context.Context, roomID string, cursor int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rooms[roomID]
	start := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > cursor })
	out := []models.Message{}
	for i := start; i < len(entries); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyMessage(entries[i]))
	}
	return out, nil
}

func (s *MemoryMessageStore) ListBefore(_ context.Context, roomID string, cursor int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rooms[roomID]
	end := len(entries)
	if cursor > 0 {
		end = sort.Search(len(entries), func(i int) bool { return entries[i].Seq >= cursor })
	}
	out := []models.Message{}
	for i := end - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyMessage(entries[i]))
	}
	return out, nil
}

func (s *MemoryMessageStore) SaveReadCursor(_ context.Context, roomID, userID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.cursors[roomID]
	if !ok {
		users = make(map[string]int64)
		s.cursors[roomID] = users
	}
	if seq > users[userID] {
		users[userID] = seq
	}
	return nil
}

func (s *MemoryMessageStore) ReadCursors(_ context.Context, roomID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.cursors[roomID]))
	for user, seq := range s.cursors[roomID] {
		out[user] = seq
	}
	return out, nil
}

// MemoryRoomStore keeps room snapshots in a map.
type MemoryRoomStore struct {
	mu    sync.Mutex
	rooms map[string]models.Room
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[string]models.Room)}
}

func (s *MemoryRoomStore) SaveRoom(_ context.Context, room models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *MemoryRoomStore) TouchRoom(_ context.Context, roomID, lastMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}
	room.LastMessageID = lastMessageID
	if at.After(room.LastActivity) {
		room.LastActivity = at
	}
	s.rooms[roomID] = room
	return nil
}

func (s *MemoryRoomStore) LoadRooms(_ context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}
