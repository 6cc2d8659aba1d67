// Package thread holds the message list of the open room and keeps it in
// sync with the push channel, REST history and locally sent messages.
package thread

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"ecochat/internal/featureflags"
	"ecochat/internal/notifications"
	"ecochat/internal/observability"
	"ecochat/internal/schedule"
	"ecochat/internal/transport"
	"ecochat/internal/ui"
	"ecochat/models"
)

// State of the open room session.
type State string

const (
	StateIdle             State = "IDLE"
	StateInitializing     State = "INITIALIZING"
	StateLoaded           State = "LOADED"
	StateLoadingOlder     State = "LOADING_OLDER"
	StateLoadingOlderDone State = "LOADING_OLDER_DONE"
)

const (
	DefaultPageSize       = 30
	DefaultSearchPageSize = 10

	// nearBottom is how close to the bottom the viewer must be for a new
	// message to scroll the list.
	nearBottom = 100
	// atBottom counts as having reached the newest message.
	atBottom = 1
)

// API is the REST surface the thread calls.
type API interface {
	MarkRead(ctx context.Context, roomID, memberID int64, upTo *int64) error
	FetchMessages(ctx context.Context, roomID, cursor, memberID int64, size int) ([]models.Message, error)
	RoomInfo(ctx context.Context, roomID, memberID int64) (*models.RoomInfo, error)
	SearchMessages(ctx context.Context, roomID, memberID int64, keyword string, limit, offset int) ([]models.Message, error)
	SetNotice(ctx context.Context, roomID, messageID int64) error
	ClearNotice(ctx context.Context, roomID int64) error
	React(ctx context.Context, messageID, memberID int64, emoji string) error
	DeleteMessage(ctx context.Context, messageID, memberID int64) error
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Transport is the shared push connection.
type Transport interface {
	Connected() bool
	Listen(topic string, handler transport.Handler) func()
	Publish(ctx context.Context, destination string, payload any) error
}

// InfoCache keeps room metadata between sessions.
type InfoCache interface {
	SaveRoomInfo(ctx context.Context, info *models.RoomInfo)
	LoadRoomInfo(ctx context.Context, roomID int64) (*models.RoomInfo, bool)
}

// MembersPanel is refreshed when the membership of the open room changes.
type MembersPanel interface {
	RefreshIfOpen(ctx context.Context)
}

// Options wires a Thread. API, Transport and Identity are required.
type Options struct {
	API       API
	Transport Transport
	Identity  func() models.Identity

	Viewport        ui.Viewport
	Presenter       ui.Presenter
	Members         MembersPanel
	InfoCache       InfoCache
	ReloadDirectory func()
	OnInfoChange    func(models.RoomInfo)

	Scheduler      *schedule.Scheduler
	Flags          *featureflags.Manager
	PageSize       int
	SearchPageSize int
}

// Thread is the message list of at most one open room.
type Thread struct {
	opts     Options
	incoming *notifications.Stack
	outgoing *notifications.Stack

	// renderMu serializes render plus scroll correction.
	renderMu sync.Mutex

	mu         sync.Mutex
	roomID     int64
	epoch      uint64
	state      State
	firstLoad  bool
	messages   []models.Message
	hasMore    bool
	info       *models.RoomInfo
	input      string
	replyTo    *models.Message
	tempSeq    int64
	subs       []func()
	search     searchState
	highlight  string
	highlightT *schedule.Task
}

// New builds an idle thread.
func New(opts Options) *Thread {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SearchPageSize <= 0 {
		opts.SearchPageSize = DefaultSearchPageSize
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.New()
	}
	if opts.Viewport == nil {
		opts.Viewport = nopViewport{}
	}
	if opts.ReloadDirectory == nil {
		opts.ReloadDirectory = func() {}
	}
	return &Thread{
		opts:     opts,
		incoming: notifications.NewStack(opts.Scheduler, notifications.StackConfig{}),
		outgoing: notifications.NewStack(opts.Scheduler, notifications.StackConfig{}),
		state:    StateIdle,
	}
}

// Incoming is the stack of messages from others that landed while scrolled up.
func (t *Thread) Incoming() *notifications.Stack { return t.incoming }

// Outgoing is the stack of own messages that landed while scrolled up.
func (t *Thread) Outgoing() *notifications.Stack { return t.outgoing }

func (t *Thread) self() models.Identity {
	return t.opts.Identity()
}

func (t *Thread) flag(name string) bool {
	return t.opts.Flags.Enabled(name, t.self().MemberID)
}

// Open switches to roomID: the previous room's topics are dropped, state is
// reset and, when connected, the room is initialized. Errors are already
// alerted when returned.
func (t *Thread) Open(ctx context.Context, roomID int64) error {
	t.mu.Lock()
	old := t.teardownLocked()
	t.roomID = roomID
	t.state = StateInitializing
	t.firstLoad = true
	t.messages = nil
	t.hasMore = true
	t.info = nil
	t.input = ""
	t.replyTo = nil
	epoch := t.epoch
	t.mu.Unlock()

	for _, off := range old {
		off()
	}
	t.incoming.Clear()
	t.outgoing.Clear()
	if r, ok := t.opts.Viewport.(interface{ Reset() }); ok {
		r.Reset()
	}

	if t.opts.InfoCache != nil {
		if info, ok := t.opts.InfoCache.LoadRoomInfo(ctx, roomID); ok {
			t.setInfo(epoch, info)
		}
	}

	subs := []func(){
		t.opts.Transport.Listen(transport.RoomTopic(roomID), t.guard(epoch, t.handleRoomFrame)),
		t.opts.Transport.Listen(transport.ReactionTopic(roomID), t.guard(epoch, t.handleReactionFrame)),
		t.opts.Transport.Listen(transport.ReadTopic(roomID), t.guard(epoch, t.handleReadFrame)),
	}
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		for _, off := range subs {
			off()
		}
		return nil
	}
	t.subs = subs
	t.mu.Unlock()

	if !t.opts.Transport.Connected() {
		observability.GlobalLogger.InfoContext(observability.WithRoomID(ctx, roomID), "room opened while disconnected, waiting for connection")
		return nil
	}
	return t.initialize(ctx, epoch)
}

// Close leaves the room: topics are dropped, tasks cancelled and late
// responses for it discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	old := t.teardownLocked()
	t.roomID = 0
	t.state = StateIdle
	t.messages = nil
	t.info = nil
	t.replyTo = nil
	t.mu.Unlock()

	for _, off := range old {
		off()
	}
	t.incoming.Clear()
	t.outgoing.Clear()
}

// teardownLocked bumps the epoch and returns the subscriptions to cancel.
func (t *Thread) teardownLocked() []func() {
	t.epoch++
	old := t.subs
	t.subs = nil
	t.search = searchState{}
	t.highlightT.Cancel()
	t.highlightT = nil
	t.highlight = ""
	return old
}

// guard drops frames delivered to a room that is no longer open.
func (t *Thread) guard(epoch uint64, fn func(epoch uint64, body []byte)) transport.Handler {
	return func(body []byte) {
		if !t.current(epoch) {
			return
		}
		fn(epoch, body)
	}
}

func (t *Thread) current(epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch == epoch
}

func stale() {
	observability.StaleResponses.WithLabelValues("thread").Inc()
}

// OnConnectionChange reruns initialization after a reconnect without wiping
// what is already rendered. It does not block.
func (t *Thread) OnConnectionChange(connected bool) {
	if !connected {
		return
	}
	t.mu.Lock()
	roomID, epoch := t.roomID, t.epoch
	t.mu.Unlock()
	if roomID == 0 {
		return
	}
	go func() {
		_ = t.initialize(context.Background(), epoch)
	}()
}

// initialize marks the room read, then loads the newest page, the room info
// and finally asks for a directory reload. Mark read finishes before the
// first fetch starts.
func (t *Thread) initialize(ctx context.Context, epoch uint64) error {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return nil
	}
	roomID, first := t.roomID, t.firstLoad
	t.firstLoad = false
	if first {
		t.messages = nil
		t.hasMore = true
		t.state = StateInitializing
	}
	t.mu.Unlock()

	self := t.self().MemberID
	ctx = observability.WithRoomID(ctx, roomID)
	resilient := t.flag(featureflags.ResilientInit)

	var errs []error
	steps := []struct {
		name string
		run  func() error
	}{
		{"mark read", func() error { return t.opts.API.MarkRead(ctx, roomID, self, nil) }},
		{"messages", func() error { return t.loadLatest(ctx, epoch, roomID, first) }},
		{"room info", func() error { return t.loadInfo(ctx, epoch, roomID) }},
	}
	for _, step := range steps {
		if !t.current(epoch) {
			stale()
			return nil
		}
		if err := step.run(); err != nil {
			observability.GlobalLogger.ErrorContext(ctx, "room init step failed",
				slog.String("step", step.name), slog.String("error", err.Error()))
			t.alert("Chat", err)
			errs = append(errs, err)
			if !resilient {
				return err
			}
		}
	}

	if t.current(epoch) {
		t.opts.ReloadDirectory()
	}
	return errors.Join(errs...)
}

func (t *Thread) loadLatest(ctx context.Context, epoch uint64, roomID int64, first bool) error {
	page, err := t.opts.API.FetchMessages(ctx, roomID, 0, t.self().MemberID, t.opts.PageSize)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		stale()
		return nil
	}
	// Pushes and sends may have landed while the page was in flight.
	t.messages = mergeLatest(t.messages, page, t.self().MemberID, t.flag(featureflags.CorrelationIDs))
	if first {
		t.hasMore = len(page) >= t.opts.PageSize
	}
	t.state = StateLoaded
	t.mu.Unlock()

	if first {
		t.render(scrollBottom)
	} else {
		t.render(scrollFollow)
	}
	return nil
}

func (t *Thread) loadInfo(ctx context.Context, epoch uint64, roomID int64) error {
	info, err := t.opts.API.RoomInfo(ctx, roomID, t.self().MemberID)
	if err != nil {
		return err
	}
	if t.setInfo(epoch, info) && t.opts.InfoCache != nil {
		t.opts.InfoCache.SaveRoomInfo(ctx, info)
	}
	return nil
}

func (t *Thread) setInfo(epoch uint64, info *models.RoomInfo) bool {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		stale()
		return false
	}
	cp := *info
	t.info = &cp
	t.mu.Unlock()
	t.infoChanged()
	return true
}

// patchInfo applies fn to the room info when it is loaded.
func (t *Thread) patchInfo(epoch uint64, fn func(*models.RoomInfo)) {
	t.mu.Lock()
	if t.epoch != epoch || t.info == nil {
		t.mu.Unlock()
		return
	}
	fn(t.info)
	t.mu.Unlock()
	t.infoChanged()
}

func (t *Thread) infoChanged() {
	if t.opts.OnInfoChange == nil {
		return
	}
	if info, ok := t.Info(); ok {
		t.opts.OnInfoChange(info)
	}
}

// RoomID returns the open room, 0 when none.
func (t *Thread) RoomID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roomID
}

// State returns the room session state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HasMore reports whether older history may exist.
func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Messages returns a copy of the list in render order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMessages(t.messages)
}

// Info returns the room metadata once loaded.
func (t *Thread) Info() (models.RoomInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info == nil {
		return models.RoomInfo{}, false
	}
	cp := *t.info
	if t.info.NoticeMessageID != nil {
		id := *t.info.NoticeMessageID
		cp.NoticeMessageID = &id
	}
	return cp, true
}

// Highlighted is the LocalID of the search hit currently highlighted.
func (t *Thread) Highlighted() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highlight
}

func (t *Thread) alert(title string, err error) {
	if t.opts.Presenter != nil {
		t.opts.Presenter.Alert(title, models.UserMessage(err))
	}
}
