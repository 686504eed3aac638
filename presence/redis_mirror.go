package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror stores unread counters as one hash per room
// (<prefix>unread:<roomId> user -> count) and presence as one hash per user
// (<prefix>presence:<userId> online, lastSeen).
type RedisMirror struct {
	client      *redis.Client
	prefix      string
	presenceTTL time.Duration
}

// NewRedisMirror wraps client. Presence keys expire after presenceTTL unless
// refreshed, so a crashed node cannot leave users online forever.
func NewRedisMirror(client *redis.Client, prefix string, presenceTTL time.Duration) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix, presenceTTL: presenceTTL}
}

func (m *RedisMirror) unreadKey(roomID string) string {
	return m.prefix + "unread:" + roomID
}

func (m *RedisMirror) presenceKey(userID string) string {
	return m.prefix + "presence:" + userID
}

func (m *RedisMirror) PublishUnread(ctx context.Context, roomID, userID string, count int) error {
	key := m.unreadKey(roomID)
	var err error
	if count <= 0 {
		err = m.client.HDel(ctx, key, userID).Err()
	} else {
		err = m.client.HSet(ctx, key, userID, count).Err()
	}
	if err != nil {
		return fmt.Errorf("redis unread update: %w", err)
	}
	return nil
}

func (m *RedisMirror) PublishPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	key := m.presenceKey(userID)
	flag := "0"
	if online {
		flag = "1"
	}
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "online", flag, "lastSeen", lastSeen.Unix())
		pipe.Expire(ctx, key, m.presenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence update: %w", err)
	}
	return nil
}

// Unread reads a mirrored counter; missing entries read as zero.
func (m *RedisMirror) Unread(ctx context.Context, roomID, userID string) (int, error) {
	n, err := m.client.HGet(ctx, m.unreadKey(roomID), userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis unread read: %w", err)
	}
	return n, nil
}

// Online reads a mirrored presence flag.
func (m *RedisMirror) Online(ctx context.Context, userID string) (bool, error) {
	flag, err := m.client.HGet(ctx, m.presenceKey(userID), "online").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis presence read: %w", err)
	}
	return flag == "1", nil
}

// Ping checks if the Redis connection is healthy.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
