package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecochat/internal/cache"
	"ecochat/internal/notifications"
	"ecochat/models"
)

type apiStub struct {
	listRoomsFn func(ctx context.Context, memberID int64) ([]models.Room, error)
	favoriteFn  func(ctx context.Context, roomID, memberID int64) error
	acceptFn    func(ctx context.Context, roomID, memberID int64) error
	rejectFn    func(ctx context.Context, roomID, memberID int64) error
}

func (s *apiStub) ListRooms(ctx context.Context, memberID int64) ([]models.Room, error) {
	if s.listRoomsFn == nil {
		return nil, nil
	}
	return s.listRoomsFn(ctx, memberID)
}

func (s *apiStub) ToggleFavorite(ctx context.Context, roomID, memberID int64) error {
	if s.favoriteFn == nil {
		return nil
	}
	return s.favoriteFn(ctx, roomID, memberID)
}

func (s *apiStub) AcceptInvitation(ctx context.Context, roomID, memberID int64) error {
	if s.acceptFn == nil {
		return nil
	}
	return s.acceptFn(ctx, roomID, memberID)
}

func (s *apiStub) RejectInvitation(ctx context.Context, roomID, memberID int64) error {
	if s.rejectFn == nil {
		return nil
	}
	return s.rejectFn(ctx, roomID, memberID)
}

type recorder struct {
	mu      sync.Mutex
	alerts  []string
	entered []int64
}

func (r *recorder) Alert(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, title+": "+message)
}
func (r *recorder) BlockingAlert(title, message string) { r.Alert(title, message) }
func (r *recorder) Toast(string, string)                {}
func (r *recorder) ConnectionState(bool)                {}
func (r *recorder) EnterRoom(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entered = append(r.entered, roomID)
}
func (r *recorder) LeaveRoom(int64) {}

type pendingStub struct{ cleared []int64 }

func (p *pendingStub) ClearRoom(roomID int64) int {
	p.cleared = append(p.cleared, roomID)
	return 1
}

func at(hour int) *models.Time {
	t := models.NewTime(time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC))
	return &t
}

func fakeRoom(id int64) models.Room {
	return models.Room{
		ChatRoomID:         id,
		RoomType:           models.RoomGroup,
		Title:              gofakeit.Company(),
		MemberCount:        gofakeit.Number(2, 20),
		LastMessageContent: gofakeit.Sentence(4),
		LastMessageType:    models.MessageText,
	}
}

func TestSortRooms_FavoritesThenRecency(t *testing.T) {
	a := fakeRoom(1)
	a.LastMessageAt = at(10)
	b := fakeRoom(2)
	b.Favorite = true
	b.LastMessageAt = at(9)
	c := fakeRoom(3)
	c.LastMessageAt = at(11)
	empty := fakeRoom(4)

	sorted := SortRooms([]models.Room{empty, a, b, c})

	ids := make([]int64, 0, len(sorted))
	for _, r := range sorted {
		ids = append(ids, r.ChatRoomID)
	}
	assert.Equal(t, []int64{2, 3, 1, 4}, ids)
}

func TestDirectory_LoadSumsUnreadAndPartitions(t *testing.T) {
	invited := fakeRoom(7)
	invited.InvitationStatus = models.InvitationPending
	invited.UnreadCount = 1
	joined := fakeRoom(8)
	joined.UnreadCount = 4
	joined.LastMessageAt = at(12)

	api := &apiStub{listRoomsFn: func(_ context.Context, memberID int64) ([]models.Room, error) {
		assert.Equal(t, int64(42), memberID)
		return []models.Room{invited, joined}, nil
	}}
	d := New(Options{API: api, MemberID: 42})

	changes := 0
	d.OnChange(func() { changes++ })

	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, 5, d.TotalUnread())
	assert.Equal(t, 1, changes)
	require.Len(t, d.Invited(), 1)
	assert.Equal(t, int64(7), d.Invited()[0].ChatRoomID)
	require.Len(t, d.Joined(), 1)
	assert.Equal(t, int64(8), d.Joined()[0].ChatRoomID)

	room, ok := d.Room(8)
	require.True(t, ok)
	assert.Equal(t, joined.Title, room.Title)
}

func TestDirectory_LoadFailureKeepsPreviousList(t *testing.T) {
	fail := false
	api := &apiStub{listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
		if fail {
			return nil, models.NewFetchError("rooms", errors.New("boom"))
		}
		return []models.Room{fakeRoom(1)}, nil
	}}
	d := New(Options{API: api, MemberID: 1})

	require.NoError(t, d.Load(context.Background()))
	fail = true
	err := d.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.CodeFetchFailed, models.ErrorCode(err))
	assert.Len(t, d.Rooms(), 1)
}

func TestDirectory_StaleLoadIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	api := &apiStub{listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return []models.Room{fakeRoom(100)}, nil
		}
		return []models.Room{fakeRoom(200)}, nil
	}}
	d := New(Options{API: api, MemberID: 1})

	done := make(chan error, 1)
	go func() { done <- d.Load(context.Background()) }()
	<-started

	require.NoError(t, d.Load(context.Background()))
	close(release)
	require.NoError(t, <-done)

	rooms := d.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(200), rooms[0].ChatRoomID)
}

func TestDirectory_AcceptReloadsClearsAndEnters(t *testing.T) {
	var order []string
	api := &apiStub{
		acceptFn: func(_ context.Context, roomID, memberID int64) error {
			order = append(order, "accept")
			assert.Equal(t, int64(5), roomID)
			assert.Equal(t, int64(9), memberID)
			return nil
		},
		listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
			order = append(order, "load")
			return []models.Room{fakeRoom(5)}, nil
		},
	}
	rec := &recorder{}
	pending := &pendingStub{}
	d := New(Options{API: api, MemberID: 9, Pending: pending, Presenter: rec, Navigator: rec})

	require.NoError(t, d.Accept(context.Background(), 5))
	assert.Equal(t, []string{"accept", "load"}, order)
	assert.Equal(t, []int64{5}, pending.cleared)
	assert.Equal(t, []int64{5}, rec.entered)
}

func TestDirectory_RejectDoesNotEnter(t *testing.T) {
	rec := &recorder{}
	pending := &pendingStub{}
	d := New(Options{API: &apiStub{}, MemberID: 9, Pending: pending, Presenter: rec, Navigator: rec})

	require.NoError(t, d.Reject(context.Background(), 5))
	assert.Equal(t, []int64{5}, pending.cleared)
	assert.Empty(t, rec.entered)
}

func TestDirectory_AcceptFailureAlerts(t *testing.T) {
	api := &apiStub{acceptFn: func(context.Context, int64, int64) error {
		return models.NewForbiddenError("invitation expired")
	}}
	rec := &recorder{}
	pending := &pendingStub{}
	d := New(Options{API: api, MemberID: 9, Pending: pending, Presenter: rec, Navigator: rec})

	require.Error(t, d.Accept(context.Background(), 5))
	require.Len(t, rec.alerts, 1)
	assert.Contains(t, rec.alerts[0], "invitation expired")
	assert.Empty(t, pending.cleared)
	assert.Empty(t, rec.entered)
}

func TestDirectory_ToggleFavoriteWaitsForServer(t *testing.T) {
	favorite := false
	api := &apiStub{
		favoriteFn: func(context.Context, int64, int64) error {
			favorite = !favorite
			return nil
		},
		listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
			r := fakeRoom(3)
			r.Favorite = favorite
			return []models.Room{r}, nil
		},
	}
	d := New(Options{API: api, MemberID: 1})
	require.NoError(t, d.Load(context.Background()))
	assert.False(t, d.Rooms()[0].Favorite)

	require.NoError(t, d.ToggleFavorite(context.Background(), 3))
	assert.True(t, d.Rooms()[0].Favorite)
}

func TestDirectory_RestoreFromSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(client, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	api := &apiStub{listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
		return []models.Room{fakeRoom(11), fakeRoom(12)}, nil
	}}
	first := New(Options{API: api, MemberID: 3, Snapshots: store})
	require.NoError(t, first.Load(context.Background()))

	second := New(Options{API: api, MemberID: 3, Snapshots: store})
	assert.True(t, second.Restore(context.Background()))
	assert.Len(t, second.Rooms(), 2)

	// a completed load wins over a later restore
	assert.False(t, first.Restore(context.Background()))
}

func TestDirectory_BusTriggersReload(t *testing.T) {
	var mu sync.Mutex
	loads := 0
	api := &apiStub{listRoomsFn: func(context.Context, int64) ([]models.Room, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		return nil, nil
	}}
	d := New(Options{API: api, MemberID: 1})
	bus := notifications.NewBus()
	off := d.Subscribe(bus)

	for _, kind := range Triggers {
		bus.Publish(models.UserEvent{Type: kind})
	}
	bus.Publish(models.UserEvent{Type: models.EventProfileUpdate})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return loads == len(Triggers)
	}, time.Second, 10*time.Millisecond)

	off()
	bus.Publish(models.UserEvent{Type: models.EventKick})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, len(Triggers), loads)
	mu.Unlock()
}
