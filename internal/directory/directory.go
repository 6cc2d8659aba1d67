// Package directory keeps the signed-in member's room list.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"ecochat/internal/notifications"
	"ecochat/internal/observability"
	"ecochat/internal/ui"
	"ecochat/models"
)

// API is the subset of the REST client the directory calls.
type API interface {
	ListRooms(ctx context.Context, memberID int64) ([]models.Room, error)
	ToggleFavorite(ctx context.Context, roomID, memberID int64) error
	AcceptInvitation(ctx context.Context, roomID, memberID int64) error
	RejectInvitation(ctx context.Context, roomID, memberID int64) error
}

// Snapshots persists the last loaded list for warm starts.
type Snapshots interface {
	SaveRooms(ctx context.Context, memberID int64, rooms []models.Room)
	LoadRooms(ctx context.Context, memberID int64) ([]models.Room, bool)
}

// PendingNotices drops cross-room notices once a room is dealt with.
type PendingNotices interface {
	ClearRoom(roomID int64) int
}

// Triggers are the per-identity events that reload the list.
var Triggers = []string{
	models.EventChatListRefresh,
	models.EventLeaveRoomSuccess,
	models.EventInvitation,
	models.EventKick,
	models.EventNewMessage,
}

// Options wires a Directory.
type Options struct {
	API       API
	MemberID  int64
	Snapshots Snapshots
	Pending   PendingNotices
	Presenter ui.Presenter
	Navigator ui.Navigator
}

// Directory is the sorted room list. Loads replace it wholesale.
type Directory struct {
	opts Options

	mu          sync.Mutex
	rooms       []models.Room
	totalUnread int
	loaded      bool
	issued      uint64
	applied     uint64
	listeners   map[uint64]func()
	nextID      uint64
}

// New returns an empty directory; call Restore and Load to fill it.
func New(opts Options) *Directory {
	return &Directory{
		opts:      opts,
		listeners: make(map[uint64]func()),
	}
}

// OnChange registers fn to run after every change of the list.
func (d *Directory) OnChange(fn func()) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// Restore shows the cached snapshot until the first Load lands.
func (d *Directory) Restore(ctx context.Context) bool {
	if d.opts.Snapshots == nil {
		return false
	}
	rooms, ok := d.opts.Snapshots.LoadRooms(ctx, d.opts.MemberID)
	if !ok {
		return false
	}

	d.mu.Lock()
	if d.loaded {
		d.mu.Unlock()
		return false
	}
	d.setLocked(rooms)
	fns := d.listenersLocked()
	d.mu.Unlock()

	notify(fns)
	return true
}

// Load fetches the list and replaces the current one. Concurrent loads are
// safe: a response is dropped when a load started later has already been applied.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.Lock()
	d.issued++
	seq := d.issued
	d.mu.Unlock()

	rooms, err := d.opts.API.ListRooms(ctx, d.opts.MemberID)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "room list load failed", slog.String("error", err.Error()))
		return err
	}

	d.mu.Lock()
	if seq < d.applied {
		d.mu.Unlock()
		observability.StaleResponses.WithLabelValues("directory").Inc()
		return nil
	}
	d.applied = seq
	d.loaded = true
	d.setLocked(rooms)
	snapshot := append([]models.Room(nil), d.rooms...)
	fns := d.listenersLocked()
	d.mu.Unlock()

	if d.opts.Snapshots != nil {
		d.opts.Snapshots.SaveRooms(ctx, d.opts.MemberID, snapshot)
	}
	notify(fns)
	return nil
}

// RequestReload loads in the background. Used by push triggers and the thread.
func (d *Directory) RequestReload() {
	go func() {
		_ = d.Load(context.Background())
	}()
}

// Subscribe wires the reload triggers to bus and returns the unregister function.
func (d *Directory) Subscribe(bus *notifications.Bus) func() {
	return bus.OnAny(Triggers, func(ev models.UserEvent) {
		observability.GlobalLogger.Debug("room list refresh", slog.String("trigger", ev.Kind()))
		d.RequestReload()
	})
}

func (d *Directory) setLocked(rooms []models.Room) {
	sorted := SortRooms(rooms)
	total := 0
	for i := range sorted {
		if sorted[i].UnreadCount < 0 {
			sorted[i].UnreadCount = 0
		}
		total += sorted[i].UnreadCount
	}
	d.rooms = sorted
	d.totalUnread = total
}

func (d *Directory) listenersLocked() []func() {
	fns := make([]func(), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// Rooms returns the sorted list.
func (d *Directory) Rooms() []models.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Room(nil), d.rooms...)
}

// Invited returns rooms with a pending invitation.
func (d *Directory) Invited() []models.Room {
	return d.filter(func(r models.Room) bool { return r.InvitationStatus == models.InvitationPending })
}

// Joined returns every room that is not a pending invitation.
func (d *Directory) Joined() []models.Room {
	return d.filter(func(r models.Room) bool { return r.InvitationStatus != models.InvitationPending })
}

func (d *Directory) filter(keep func(models.Room) bool) []models.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Room
	for _, r := range d.rooms {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Room looks up one room by id.
func (d *Directory) Room(roomID int64) (models.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if r.ChatRoomID == roomID {
			return r, true
		}
	}
	return models.Room{}, false
}

// TotalUnread is the sum of unread counts of the last applied list.
func (d *Directory) TotalUnread() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalUnread
}

// Accept joins an invited room, reloads, clears its pending notices and enters it.
func (d *Directory) Accept(ctx context.Context, roomID int64) error {
	return d.answer(ctx, roomID, true)
}

// Reject declines an invitation, reloads and clears its pending notices.
func (d *Directory) Reject(ctx context.Context, roomID int64) error {
	return d.answer(ctx, roomID, false)
}

func (d *Directory) answer(ctx context.Context, roomID int64, accept bool) error {
	var err error
	if accept {
		err = d.opts.API.AcceptInvitation(ctx, roomID, d.opts.MemberID)
	} else {
		err = d.opts.API.RejectInvitation(ctx, roomID, d.opts.MemberID)
	}
	if err != nil {
		d.alert("Invitation", err)
		return err
	}

	_ = d.Load(ctx)
	if d.opts.Pending != nil {
		d.opts.Pending.ClearRoom(roomID)
	}
	if accept && d.opts.Navigator != nil {
		d.opts.Navigator.EnterRoom(roomID)
	}
	return nil
}

// ToggleFavorite flips the favorite flag server-side, then reloads.
// The local flag is not touched until the reload lands.
func (d *Directory) ToggleFavorite(ctx context.Context, roomID int64) error {
	if err := d.opts.API.ToggleFavorite(ctx, roomID, d.opts.MemberID); err != nil {
		d.alert("Favorite", err)
		return err
	}
	return d.Load(ctx)
}

func (d *Directory) alert(title string, err error) {
	if d.opts.Presenter != nil {
		d.opts.Presenter.Alert(title, models.UserMessage(err))
	}
}

// SortRooms orders favorites first, then by last message time descending.
// Rooms without messages go last.
func SortRooms(rooms []models.Room) []models.Room {
	out := append([]models.Room(nil), rooms...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Favorite != b.Favorite {
			return a.Favorite
		}
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
			return false
		case a.LastMessageAt == nil:
			return false
		case b.LastMessageAt == nil:
			return true
		}
		return a.LastMessageAt.After(b.LastMessageAt.Time)
	})
	return out
}
