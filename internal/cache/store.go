package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ecochat/internal/observability"
	"ecochat/models"
)

const keyPrefix = "ecochat"

// Store reads and writes snapshots. A Store without a client is a no-op.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps client. client may be nil.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Enabled reports whether a Redis client is attached.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// Ping checks Redis reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}

func roomsKey(memberID int64) string {
	return fmt.Sprintf("%s:member:%d:rooms", keyPrefix, memberID)
}

func roomInfoKey(roomID int64) string {
	return fmt.Sprintf("%s:room:%d:info", keyPrefix, roomID)
}

// SaveRooms stores the latest directory snapshot of a member.
func (s *Store) SaveRooms(ctx context.Context, memberID int64, rooms []models.Room) {
	s.set(ctx, roomsKey(memberID), rooms)
}

// LoadRooms returns the cached directory snapshot, if any.
func (s *Store) LoadRooms(ctx context.Context, memberID int64) ([]models.Room, bool) {
	var rooms []models.Room
	if !s.get(ctx, roomsKey(memberID), &rooms) {
		return nil, false
	}
	return rooms, true
}

// SaveRoomInfo stores room metadata.
func (s *Store) SaveRoomInfo(ctx context.Context, info *models.RoomInfo) {
	if info == nil {
		return
	}
	s.set(ctx, roomInfoKey(info.ChatRoomID), info)
}

// LoadRoomInfo returns cached room metadata, if any.
func (s *Store) LoadRoomInfo(ctx context.Context, roomID int64) (*models.RoomInfo, bool) {
	var info models.RoomInfo
	if !s.get(ctx, roomInfoKey(roomID), &info) {
		return nil, false
	}
	return &info, true
}

// ForgetRoom drops cached metadata of a room the member left or was removed from.
func (s *Store) ForgetRoom(ctx context.Context, roomID int64) {
	if !s.Enabled() {
		return
	}
	if err := s.client.Del(ctx, roomInfoKey(roomID)).Err(); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache delete failed", slog.Int64("room_id", roomID), slog.String("error", err.Error()))
	}
}

func (s *Store) set(ctx context.Context, key string, v any) {
	if !s.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *Store) get(ctx context.Context, key string, out any) bool {
	if !s.Enabled() {
		return false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.GlobalLogger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}
