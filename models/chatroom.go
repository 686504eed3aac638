package models

import (
	"time"
)

// RoomKind distinguishes one-to-one chats from multi-participant rooms.
type RoomKind string

const (
	RoomDirect    RoomKind = "direct"
	RoomGroup     RoomKind = "group"
	RoomBroadcast RoomKind = "broadcast" // only admins post
)

// Role is a participant's permission level inside a room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Participant is a user's membership record in a room. Online and LastSeen
// are derived from live connections and are never persisted.
type Participant struct {
	UserID   string    `bson:"userId" json:"userId"`
	Role     Role      `bson:"role" json:"role"`
	JoinedAt time.Time `bson:"joinedAt" json:"joinedAt"`
	LastSeen time.Time `bson:"-" json:"lastSeen"`
	Online   bool      `bson:"-" json:"online"`
}

type RoomSettings struct {
	NotificationsEnabled bool `bson:"notificationsEnabled" json:"notificationsEnabled"`
	Muted                bool `bson:"muted" json:"muted"`
	Pinned               bool `bson:"pinned" json:"pinned"`
	Archived             bool `bson:"archived" json:"archived"`
}

type RoomMetadata struct {
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Avatar      string   `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
}

// Room is a participant-scoped container for an ordered message stream.
type Room struct {
	ID            string        `bson:"_id" json:"id"`
	Name          string        `bson:"name" json:"name"`
	Kind          RoomKind      `bson:"kind" json:"kind"`
	CreatedBy     string        `bson:"createdBy" json:"createdBy"`
	Participants  []Participant `bson:"participants" json:"participants"`
	LastMessageID string        `bson:"lastMessageId,omitempty" json:"lastMessageId,omitempty"`
	LastActivity  time.Time     `bson:"lastActivity" json:"lastActivity"`
	Settings      RoomSettings  `bson:"settings" json:"settings"`
	Metadata      RoomMetadata  `bson:"metadata" json:"metadata"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Clone returns a deep copy so snapshots can be handed out safely.
func (r Room) Clone() Room {
	out := r
	out.Participants = append([]Participant(nil), r.Participants...)
	out.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	return out
}

// Participant looks up the membership record for userID.
func (r Room) Participant(userID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (r Room) HasParticipant(userID string) bool {
	_, ok := r.Participant(userID)
	return ok
}

func (r Room) IsAdmin(userID string) bool {
	p, ok := r.Participant(userID)
	return ok && p.Role == RoleAdmin
}

// ParticipantIDs returns user ids in membership order.
func (r Room) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// UnreadCounts maps a user id to the number of unread messages.
// Users without an entry have zero unread messages.
type UnreadCounts map[string]int

func (u UnreadCounts) Get(userID string) int {
	return u[userID]
}

func (u UnreadCounts) Increment(userID string) {
	u[userID]++
}

func (u UnreadCounts) Reset(userID string) {
	delete(u, userID)
}
