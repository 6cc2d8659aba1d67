package thread

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ecochat/internal/featureflags"
	"ecochat/internal/schedule"
	"ecochat/internal/transport"
	"ecochat/internal/ui"
	"ecochat/models"
)

const selfID = int64(1)

type apiStub struct {
	mu    sync.Mutex
	calls []string

	markReadFn func(ctx context.Context, roomID, memberID int64, upTo *int64) error
	fetchFn    func(ctx context.Context, roomID, cursor, memberID int64, size int) ([]models.Message, error)
	infoFn     func(ctx context.Context, roomID, memberID int64) (*models.RoomInfo, error)
	searchFn   func(ctx context.Context, roomID, memberID int64, keyword string, limit, offset int) ([]models.Message, error)
	uploadFn   func(ctx context.Context, filename string, r io.Reader) (string, error)
	reactFn    func(ctx context.Context, messageID, memberID int64, emoji string) error
}

func (s *apiStub) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *apiStub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *apiStub) MarkRead(ctx context.Context, roomID, memberID int64, upTo *int64) error {
	if upTo == nil {
		s.record("markRead")
	} else {
		s.record("markReadUpTo")
	}
	if s.markReadFn == nil {
		return nil
	}
	return s.markReadFn(ctx, roomID, memberID, upTo)
}

func (s *apiStub) FetchMessages(ctx context.Context, roomID, cursor, memberID int64, size int) ([]models.Message, error) {
	s.record("fetch")
	if s.fetchFn == nil {
		return nil, nil
	}
	return s.fetchFn(ctx, roomID, cursor, memberID, size)
}

func (s *apiStub) RoomInfo(ctx context.Context, roomID, memberID int64) (*models.RoomInfo, error) {
	s.record("info")
	if s.infoFn == nil {
		return &models.RoomInfo{ChatRoomID: roomID, Title: "room"}, nil
	}
	return s.infoFn(ctx, roomID, memberID)
}

func (s *apiStub) SearchMessages(ctx context.Context, roomID, memberID int64, keyword string, limit, offset int) ([]models.Message, error) {
	s.record("search")
	if s.searchFn == nil {
		return nil, nil
	}
	return s.searchFn(ctx, roomID, memberID, keyword, limit, offset)
}

func (s *apiStub) SetNotice(context.Context, int64, int64) error {
	s.record("setNotice")
	return nil
}

func (s *apiStub) ClearNotice(context.Context, int64) error {
	s.record("clearNotice")
	return nil
}

func (s *apiStub) React(ctx context.Context, messageID, memberID int64, emoji string) error {
	s.record("react")
	if s.reactFn == nil {
		return nil
	}
	return s.reactFn(ctx, messageID, memberID, emoji)
}

func (s *apiStub) DeleteMessage(context.Context, int64, int64) error {
	s.record("delete")
	return nil
}

func (s *apiStub) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	s.record("upload")
	if s.uploadFn == nil {
		return "https://cdn.example/" + filename, nil
	}
	return s.uploadFn(ctx, filename, r)
}

type fakeTransport struct {
	connected  atomic.Bool
	publishErr error

	mu        sync.Mutex
	handlers  map[string]transport.Handler
	published []models.OutgoingMessage
}

func newFakeTransport() *fakeTransport {
	ft := &fakeTransport{handlers: make(map[string]transport.Handler)}
	ft.connected.Store(true)
	return ft
}

func (f *fakeTransport) Connected() bool { return f.connected.Load() }

func (f *fakeTransport) Listen(topic string, h transport.Handler) func() {
	f.mu.Lock()
	f.handlers[topic] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, topic)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Publish(_ context.Context, _ string, payload any) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload.(models.OutgoingMessage))
	return nil
}

func (f *fakeTransport) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.handlers))
	for topic := range f.handlers {
		out = append(out, topic)
	}
	return out
}

func (f *fakeTransport) Published() []models.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OutgoingMessage(nil), f.published...)
}

// deliver hands v to the topic handler as the read goroutine would.
func (f *fakeTransport) deliver(t *testing.T, topic string, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	require.NotNil(t, h, "no subscription for %s", topic)
	h(body)
}

// pixelViewport lays every message out on a fixed-height row.
type pixelViewport struct {
	mu        sync.Mutex
	rowHeight float64
	height    float64
	top       float64
	rows      int
	focused   []string
}

func newPixelViewport() *pixelViewport {
	return &pixelViewport{rowHeight: 20, height: 200}
}

func (v *pixelViewport) Render(msgs []models.Message) {
	v.mu.Lock()
	v.rows = len(msgs)
	v.mu.Unlock()
}

func (v *pixelViewport) Metrics() ui.ScrollMetrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ui.ScrollMetrics{ScrollTop: v.top, ScrollHeight: float64(v.rows) * v.rowHeight, ClientHeight: v.height}
}

func (v *pixelViewport) SetScrollTop(top float64) {
	v.mu.Lock()
	v.top = top
	v.mu.Unlock()
}

func (v *pixelViewport) ScrollToBottom() {
	v.mu.Lock()
	v.top = max(0, float64(v.rows)*v.rowHeight-v.height)
	v.mu.Unlock()
}

func (v *pixelViewport) ScrollToMessage(localID string) bool {
	v.mu.Lock()
	v.focused = append(v.focused, localID)
	v.mu.Unlock()
	return true
}

type presenterStub struct {
	mu     sync.Mutex
	alerts []string
}

func (p *presenterStub) Alert(title, message string) {
	p.mu.Lock()
	p.alerts = append(p.alerts, title+": "+message)
	p.mu.Unlock()
}
func (p *presenterStub) BlockingAlert(title, message string) { p.Alert(title, message) }
func (p *presenterStub) Toast(string, string)                {}
func (p *presenterStub) ConnectionState(bool)                {}

func (p *presenterStub) Alerts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.alerts...)
}

type membersStub struct{ refreshed atomic.Int32 }

func (m *membersStub) RefreshIfOpen(context.Context) { m.refreshed.Add(1) }

// history returns n messages of roomID with ids 1..n, oldest first.
func history(roomID int64, n int) []models.Message {
	out := make([]models.Message, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = models.Message{
			MessageID:   id,
			ChatRoomID:  roomID,
			SenderID:    2,
			SenderName:  "other",
			Content:     "message " + models.ConfirmedLocalID(id),
			MessageType: models.MessageText,
		}
	}
	return out
}

// pageOf serves the newest size messages before cursor (all when cursor is 0).
func pageOf(all []models.Message, cursor int64, size int) []models.Message {
	end := len(all)
	if cursor > 0 {
		end = 0
		for i, m := range all {
			if m.MessageID >= cursor {
				break
			}
			end = i + 1
		}
	}
	start := max(0, end-size)
	return append([]models.Message(nil), all[start:end]...)
}

type harness struct {
	thread    *Thread
	api       *apiStub
	transport *fakeTransport
	viewport  *pixelViewport
	presenter *presenterStub
	members   *membersStub
	sched     *schedule.Scheduler
	reloads   atomic.Int32
}

func newHarness(t *testing.T, flags string, all []models.Message) *harness {
	t.Helper()
	h := &harness{
		api: &apiStub{fetchFn: func(_ context.Context, _ int64, cursor, _ int64, size int) ([]models.Message, error) {
			return pageOf(all, cursor, size), nil
		}},
		transport: newFakeTransport(),
		viewport:  newPixelViewport(),
		presenter: &presenterStub{},
		members:   &membersStub{},
		sched:     schedule.New(),
	}
	t.Cleanup(h.sched.Stop)
	h.thread = New(Options{
		API:             h.api,
		Transport:       h.transport,
		Identity:        func() models.Identity { return models.Identity{MemberID: selfID, Name: "me"} },
		Viewport:        h.viewport,
		Presenter:       h.presenter,
		Members:         h.members,
		ReloadDirectory: func() { h.reloads.Add(1) },
		Scheduler:       h.sched,
		Flags:           featureflags.NewManager(flags),
	})
	return h
}

var errBoom = errors.New("boom")
