package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecochat/models"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestStore_RoomsRoundTrip(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	last := models.NewTime(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	rooms := []models.Room{
		{ChatRoomID: 1, RoomType: models.RoomGroup, Title: "Plogging crew", Favorite: true, UnreadCount: 3, LastMessageAt: &last},
		{ChatRoomID: 2, RoomType: models.RoomSingle, OtherMemberName: "Mina", InvitationStatus: models.InvitationPending},
	}
	store.SaveRooms(ctx, 42, rooms)

	assert.True(t, mr.Exists("ecochat:member:42:rooms"))

	got, ok := store.LoadRooms(ctx, 42)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "Plogging crew", got[0].Title)
	require.NotNil(t, got[0].LastMessageAt)
	assert.True(t, last.Equal(got[0].LastMessageAt.Time))
	assert.Nil(t, got[1].LastMessageAt)

	_, ok = store.LoadRooms(ctx, 43)
	assert.False(t, ok)
}

func TestStore_EntriesExpire(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	store.SaveRoomInfo(ctx, &models.RoomInfo{ChatRoomID: 5, Title: "Zero waste"})
	info, ok := store.LoadRoomInfo(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, "Zero waste", info.Title)

	mr.FastForward(2 * time.Minute)
	_, ok = store.LoadRoomInfo(ctx, 5)
	assert.False(t, ok)
}

func TestStore_ForgetRoom(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	store.SaveRoomInfo(ctx, &models.RoomInfo{ChatRoomID: 8})
	store.ForgetRoom(ctx, 8)
	_, ok := store.LoadRoomInfo(ctx, 8)
	assert.False(t, ok)
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	require.NoError(t, mr.Set("ecochat:room:9:info", "{not json"))

	_, ok := store.LoadRoomInfo(context.Background(), 9)
	assert.False(t, ok)
}

func TestStore_NilClientIsNoop(t *testing.T) {
	store := NewStore(nil, 0)
	ctx := context.Background()

	assert.False(t, store.Enabled())
	store.SaveRooms(ctx, 1, []models.Room{{ChatRoomID: 1}})
	_, ok := store.LoadRooms(ctx, 1)
	assert.False(t, ok)
	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.Close())

	var nilStore *Store
	assert.False(t, nilStore.Enabled())
}

func TestInitRedis_UnreachableReturnsNil(t *testing.T) {
	assert.Nil(t, InitRedis(""))
	assert.Nil(t, InitRedis("redis://%zz"))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := InitRedis("redis://" + mr.Addr())
	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}
