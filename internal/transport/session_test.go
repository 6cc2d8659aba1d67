package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal STOMP broker speaking one frame per WebSocket message.
type fakeBroker struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*brokerConn

	frames        chan *frame.Frame
	auth          chan string
	rejectConnect atomic.Int32
}

type brokerConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	smu  sync.Mutex
	subs map[string]string
}

func (c *brokerConn) write(f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		frames: make(chan *frame.Frame, 128),
		auth:   make(chan string, 16),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(func() {
		b.dropAll()
		b.srv.Close()
	})
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws-stomp"
}

func (b *fakeBroker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	bc := &brokerConn{conn: conn, subs: make(map[string]string)}

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	frames, err := decodeFrames(data)
	if err != nil || len(frames) == 0 || frames[0].Command != frame.CONNECT {
		_ = conn.Close()
		return
	}
	select {
	case b.auth <- frames[0].Header.Get("Authorization"):
	default:
	}

	if b.rejectConnect.Add(-1) >= 0 {
		_ = bc.write(frame.New(frame.ERROR, frame.Message, "bad credentials"))
		_ = conn.Close()
		return
	}
	_ = bc.write(frame.New(frame.CONNECTED, "version", "1.2", frame.HeartBeat, "0,0"))

	b.mu.Lock()
	b.conns = append(b.conns, bc)
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, _ := decodeFrames(data)
		for _, f := range frames {
			switch f.Command {
			case frame.SUBSCRIBE:
				bc.smu.Lock()
				bc.subs[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
				bc.smu.Unlock()
			case frame.UNSUBSCRIBE:
				bc.smu.Lock()
				for dest, id := range bc.subs {
					if id == f.Header.Get(frame.Id) {
						delete(bc.subs, dest)
					}
				}
				bc.smu.Unlock()
			}
			b.frames <- f
		}
	}
}

func (b *fakeBroker) latest() *brokerConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// push delivers body to the subscriber of topic on the newest connection.
func (b *fakeBroker) push(topic, body string) bool {
	c := b.latest()
	if c == nil {
		return false
	}
	c.smu.Lock()
	id, ok := c.subs[topic]
	c.smu.Unlock()
	if !ok {
		return false
	}
	f := frame.New(frame.MESSAGE,
		frame.Destination, topic,
		frame.Subscription, id,
		frame.MessageId, "m-1",
		frame.ContentType, "application/json",
	)
	f.Body = []byte(body)
	return c.write(f) == nil
}

func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.conn.Close()
	}
	b.conns = nil
}

func (b *fakeBroker) waitFrame(t *testing.T, command, destination string) *frame.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.frames:
			if f.Command == command && (destination == "" || f.Header.Get(frame.Destination) == destination) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s %s", command, destination)
			return nil
		}
	}
}

func startSession(t *testing.T, b *fakeBroker) (*Session, context.CancelFunc) {
	t.Helper()
	s := NewSession(Options{
		URL:            b.url(),
		Token:          func() string { return "tok-1" },
		ReconnectDelay: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, cancel
}

func TestSession_ConnectSubscribeAndDeliver(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := startSession(t, b)

	got := make(chan string, 1)
	s.Subscribe(RoomTopic(7), func(body []byte) { got <- string(body) })

	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer tok-1", <-b.auth)
	b.waitFrame(t, frame.SUBSCRIBE, RoomTopic(7))

	require.True(t, b.push(RoomTopic(7), `{"messageId":1}`))
	select {
	case body := <-got:
		assert.JSONEq(t, `{"messageId":1}`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSession_PublishRequiresConnection(t *testing.T) {
	s := NewSession(Options{URL: "ws://127.0.0.1:1/ws"})
	err := s.Publish(context.Background(), SendDestination, map[string]string{"content": "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSession_PublishWritesSendFrame(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := startSession(t, b)
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)

	payload := map[string]any{"chatRoomId": 3, "content": "plant a tree"}
	require.NoError(t, s.Publish(context.Background(), SendDestination, payload))

	f := b.waitFrame(t, frame.SEND, SendDestination)
	assert.Equal(t, "application/json", f.Header.Get(frame.ContentType))

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, "plant a tree", body["content"])
}

func TestSession_ReconnectRestoresSubscriptions(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := startSession(t, b)

	var mu sync.Mutex
	var states []bool
	s.OnStateChange(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, connected)
	})

	got := make(chan string, 4)
	s.Subscribe(UserTopic(11), func(body []byte) { got <- string(body) })
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	first := b.waitFrame(t, frame.SUBSCRIBE, UserTopic(11))

	b.dropAll()

	second := b.waitFrame(t, frame.SUBSCRIBE, UserTopic(11))
	assert.Equal(t, first.Header.Get(frame.Id), second.Header.Get(frame.Id))
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)

	require.True(t, b.push(UserTopic(11), `{"type":"KICK"}`))
	select {
	case body := <-got:
		assert.Contains(t, body, "KICK")
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, false)
	assert.Equal(t, true, states[len(states)-1])
}

func TestSession_UnsubscribeStopsDelivery(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := startSession(t, b)

	var calls atomic.Int32
	sub := s.Subscribe(ReadTopic(2), func([]byte) { calls.Add(1) })
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	b.waitFrame(t, frame.SUBSCRIBE, ReadTopic(2))

	sub.Unsubscribe()
	sub.Unsubscribe()
	unsub := b.waitFrame(t, frame.UNSUBSCRIBE, "")
	assert.NotEmpty(t, unsub.Header.Get(frame.Id))

	assert.False(t, b.push(ReadTopic(2), `{}`))
	assert.Equal(t, int32(0), calls.Load())
}

func TestSession_RetriesAfterStompError(t *testing.T) {
	b := newFakeBroker(t)
	b.rejectConnect.Store(2)

	s, _ := startSession(t, b)
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, b.auth, 3)
}

func TestSession_HandlerPanicDoesNotKillConnection(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := startSession(t, b)

	got := make(chan string, 1)
	s.Subscribe(RoomTopic(1), func([]byte) { panic("bad handler") })
	s.Subscribe(RoomTopic(2), func(body []byte) { got <- string(body) })
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	b.waitFrame(t, frame.SUBSCRIBE, RoomTopic(1))
	b.waitFrame(t, frame.SUBSCRIBE, RoomTopic(2))

	require.True(t, b.push(RoomTopic(1), `{}`))
	require.True(t, b.push(RoomTopic(2), `{"ok":true}`))

	select {
	case body := <-got:
		assert.JSONEq(t, `{"ok":true}`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("second handler not reached")
	}
	assert.True(t, s.Connected())
}

func TestNegotiateHeartbeat(t *testing.T) {
	send, expect := negotiateHeartbeat(10*time.Second, "0,0")
	assert.Zero(t, send)
	assert.Zero(t, expect)

	send, expect = negotiateHeartbeat(10*time.Second, "20000,5000")
	assert.Equal(t, 10*time.Second, send)
	assert.Equal(t, 20*time.Second, expect)

	send, expect = negotiateHeartbeat(0, "20000,5000")
	assert.Zero(t, send)
	assert.Zero(t, expect)

	send, _ = negotiateHeartbeat(time.Second, "garbage")
	assert.Zero(t, send)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "/sub/chat/room/5", RoomTopic(5))
	assert.Equal(t, "/sub/chat/room/5/reaction", ReactionTopic(5))
	assert.Equal(t, "/sub/chat/room/5/read", ReadTopic(5))
	assert.Equal(t, "/sub/chat/user/9", UserTopic(9))
}
