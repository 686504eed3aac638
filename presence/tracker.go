// Package presence derives online state and unread counters from connection
// and room events.
package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"crm-chat/backend/models"
)

//go:generate mockgen -source=tracker.go -destination=mocks/mock_mirror.go -package=mocks

// Mirror receives every presence and unread change so services outside
// this process can read them.
type Mirror interface {
	PublishUnread(ctx context.Context, roomID, userID string, count int) error
	PublishPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

type mirrorUpdate struct {
	presence bool
	roomID   string
	userID   string
	count    int
	online   bool
	at       time.Time
}

type roomState struct {
	mu       sync.Mutex
	joined   map[string]int // user -> connections joined to the room
	lastSeen map[string]time.Time
	unread   models.UnreadCounts
	newest   string // id of the latest appended message
}

type userState struct {
	conns    int
	lastSeen time.Time
}

// Tracker holds per-room state behind per-room locks; the table locks are
// only held to find or create an entry.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	usersMu sync.Mutex
	users   map[string]*userState

	mirror Mirror
	queue  chan mirrorUpdate
	now    func() time.Time
}

// NewTracker builds a tracker. mirror may be nil.
func NewTracker(mirror Mirror) *Tracker {
	return &Tracker{
		rooms:  make(map[string]*roomState),
		users:  make(map[string]*userState),
		mirror: mirror,
		queue:  make(chan mirrorUpdate, 1024),
		now:    time.Now,
	}
}

func (t *Tracker) room(roomID string) *roomState {
	t.mu.RLock()
	rs, ok := t.rooms[roomID]
	t.mu.RUnlock()
	if ok {
		return rs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rs, ok = t.rooms[roomID]; !ok {
		rs = &roomState{
			joined:   make(map[string]int),
			lastSeen: make(map[string]time.Time),
			unread:   models.UnreadCounts{},
		}
		t.rooms[roomID] = rs
	}
	return rs
}

func (t *Tracker) enqueue(u mirrorUpdate) {
	if t.mirror == nil {
		return
	}
	select {
	case t.queue <- u:
	default:
		log.Printf("Presence mirror queue full, dropping update for user %s", u.userID)
	}
}

// Run forwards queued updates to the mirror until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if t.mirror == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-t.queue:
			t.publish(ctx, u)
		}
	}
}

func (t *Tracker) publish(ctx context.Context, u mirrorUpdate) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var err error
	if u.presence {
		err = t.mirror.PublishPresence(ctx, u.userID, u.online, u.at)
	} else {
		err = t.mirror.PublishUnread(ctx, u.roomID, u.userID, u.count)
	}
	if err != nil {
		log.Printf("Error mirroring presence state for user %s: %v", u.userID, err)
	}
}

// Connected records a new authenticated connection for userID.
func (t *Tracker) Connected(userID string) {
	now := t.now()
	t.usersMu.Lock()
	us, ok := t.users[userID]
	if !ok {
		us = &userState{}
		t.users[userID] = us
	}
	us.conns++
	us.lastSeen = now
	first := us.conns == 1
	t.usersMu.Unlock()

	if first {
		t.enqueue(mirrorUpdate{presence: true, userID: userID, online: true, at: now})
	}
}

// Disconnected records a closed connection and leaves every room it had
// joined. It returns once presence reflects the close.
func (t *Tracker) Disconnected(userID string, joinedRooms []string) {
	for _, roomID := range joinedRooms {
		t.Left(roomID, userID)
	}

	now := t.now()
	t.usersMu.Lock()
	us, ok := t.users[userID]
	offline := false
	if ok {
		us.conns--
		us.lastSeen = now
		if us.conns <= 0 {
			us.conns = 0
			offline = true
		}
	}
	t.usersMu.Unlock()

	if offline {
		t.enqueue(mirrorUpdate{presence: true, userID: userID, online: false, at: now})
	}
}

// Joined marks userID online in roomID.
func (t *Tracker) Joined(roomID, userID string) {
	rs := t.room(roomID)
	rs.mu.Lock()
	rs.joined[userID]++
	rs.lastSeen[userID] = t.now()
	rs.mu.Unlock()
}

// Left marks one of userID's connections as gone from roomID.
func (t *Tracker) Left(roomID, userID string) {
	rs := t.room(roomID)
	rs.mu.Lock()
	if rs.joined[userID] <= 1 {
		delete(rs.joined, userID)
	} else {
		rs.joined[userID]--
	}
	rs.lastSeen[userID] = t.now()
	rs.mu.Unlock()
}

// IsOnline reports whether userID has any live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.usersMu.Lock()
	defer t.usersMu.Unlock()
	us, ok := t.users[userID]
	return ok && us.conns > 0
}

// OnlineIn reports whether userID has a connection joined to roomID.
func (t *Tracker) OnlineIn(roomID, userID string) bool {
	rs := t.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.joined[userID] > 0
}

// MessageAppended counts messageID as unread for every participant except
// the author. Being joined to the room does not count as reading.
func (t *Tracker) MessageAppended(roomID, authorID, messageID string, participants []string) {
	rs := t.room(roomID)
	var updates []mirrorUpdate

	rs.mu.Lock()
	rs.newest = messageID
	for _, userID := range participants {
		if userID == authorID {
			continue
		}
		rs.unread.Increment(userID)
		updates = append(updates, mirrorUpdate{roomID: roomID, userID: userID, count: rs.unread.Get(userID)})
	}
	rs.mu.Unlock()

	for _, u := range updates {
		t.enqueue(u)
	}
}

// ReadReceipt clears userID's counter when messageID is the newest message
// of the room. Receipts for older messages change nothing. It reports
// whether the counter was cleared.
func (t *Tracker) ReadReceipt(roomID, userID, messageID string) bool {
	rs := t.room(roomID)

	rs.mu.Lock()
	cleared := messageID != "" && messageID == rs.newest
	if cleared {
		rs.unread.Reset(userID)
	}
	rs.mu.Unlock()

	if cleared {
		t.enqueue(mirrorUpdate{roomID: roomID, userID: userID, count: 0})
	}
	return cleared
}

func (t *Tracker) Unread(roomID, userID string) int {
	rs := t.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.unread.Get(userID)
}

// UnreadSnapshot copies the room's non-zero counters.
func (t *Tracker) UnreadSnapshot(roomID string) models.UnreadCounts {
	rs := t.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(models.UnreadCounts, len(rs.unread))
	for user, n := range rs.unread {
		out[user] = n
	}
	return out
}

// Rebuild recomputes a room's counters from its log, newest message first,
// and the persisted read cursors. A participant's count is the number of
// messages by others above their cursor and sent since they joined.
func (t *Tracker) Rebuild(roomID string, participants []models.Participant, newestFirst []models.Message, cursors map[string]int64) {
	rs := t.room(roomID)
	unread := models.UnreadCounts{}
	for _, p := range participants {
		for _, m := range newestFirst {
			if m.Seq <= cursors[p.UserID] {
				break
			}
			if m.AuthorID != p.UserID && !m.Timestamp.Before(p.JoinedAt) {
				unread.Increment(p.UserID)
			}
		}
	}

	rs.mu.Lock()
	rs.unread = unread
	if len(newestFirst) > 0 {
		rs.newest = newestFirst[0].ID
	}
	rs.mu.Unlock()
}

// Forget drops what the room knows about a removed participant.
func (t *Tracker) Forget(roomID, userID string) {
	rs := t.room(roomID)
	rs.mu.Lock()
	_, had := rs.unread[userID]
	delete(rs.unread, userID)
	delete(rs.lastSeen, userID)
	rs.mu.Unlock()

	if had {
		t.enqueue(mirrorUpdate{roomID: roomID, userID: userID, count: 0})
	}
}

// Decorate fills the derived Online and LastSeen fields of a room snapshot.
func (t *Tracker) Decorate(room models.Room) models.Room {
	rs := t.room(room.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i := range room.Participants {
		p := &room.Participants[i]
		p.Online = rs.joined[p.UserID] > 0
		p.LastSeen = rs.lastSeen[p.UserID]
	}
	return room
}

// Resync republishes every known counter and presence entry to the mirror.
func (t *Tracker) Resync() {
	if t.mirror == nil {
		return
	}

	t.mu.RLock()
	ids := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	for _, roomID := range ids {
		for userID, n := range t.UnreadSnapshot(roomID) {
			t.enqueue(mirrorUpdate{roomID: roomID, userID: userID, count: n})
		}
	}

	t.usersMu.Lock()
	var updates []mirrorUpdate
	for userID, us := range t.users {
		updates = append(updates, mirrorUpdate{presence: true, userID: userID, online: us.conns > 0, at: us.lastSeen})
	}
	t.usersMu.Unlock()
	for _, u := range updates {
		t.enqueue(u)
	}
}
