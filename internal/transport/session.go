// Package transport maintains the STOMP-over-WebSocket session shared by the chat views.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"ecochat/internal/observability"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the WebSocket and STOMP handshakes.
	connectWait = 10 * time.Second

	// Missed server heart-beats tolerated before the connection is considered dead.
	heartbeatTolerance = 3

	maxFrameSize   = 1 << 20
	outboundBuffer = 64
)

// ErrNotConnected is returned by Publish while the session is down.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives the body of a MESSAGE frame.
type Handler func(body []byte)

// Options configure a Session.
type Options struct {
	URL            string
	Token          func() string
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
	Dialer         *websocket.Dialer
	Name           string
}

// Session owns one WebSocket connection and reconnects it with a fixed delay.
// Subscriptions outlive individual connections and are re-sent after a reconnect.
type Session struct {
	opts Options
	log  *observability.WSLogger

	mu           sync.Mutex
	subs         map[string]*Subscription
	nextSub      uint64
	link         *link
	listeners    map[uint64]func(bool)
	nextListener uint64

	connected atomic.Bool
}

type link struct {
	conn      *websocket.Conn
	out       chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

type outbound struct {
	command string
	data    []byte
	errc    chan error
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	s       *Session
	id      string
	topic   string
	handler Handler
	once    sync.Once
}

// Topic returns the subscribed destination.
func (sub *Subscription) Topic() string {
	return sub.topic
}

// NewSession returns a session that is not yet connected; call Run.
func NewSession(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: connectWait,
		}
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	if opts.Name == "" {
		opts.Name = "chat"
	}
	return &Session{
		opts:      opts,
		log:       observability.NewWSLogger(opts.Name),
		subs:      make(map[string]*Subscription),
		listeners: make(map[uint64]func(bool)),
	}
}

// Connected reports whether frames can currently be published.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// OnStateChange registers fn to be called with the new state on every connect and disconnect.
// fn runs on the session goroutine and must not block.
func (s *Session) OnStateChange(fn func(connected bool)) func() {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := s.connectAndServe(ctx, attempt)
		if ctx.Err() != nil {
			return nil
		}

		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		s.log.LogDisconnect(ctx, s.opts.URL, reason)
		observability.TransportReconnects.Inc()

		timer := time.NewTimer(s.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context, attempt int) error {
	token := s.opts.Token()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectWait)
	conn, _, err := s.opts.Dialer.DialContext(dialCtx, s.opts.URL, header)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sendBeat, expectBeat, err := s.handshake(conn, token)
	if err != nil {
		_ = conn.Close()
		return err
	}

	l := &link{
		conn: conn,
		out:  make(chan outbound, outboundBuffer),
		done: make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.close()
	})
	defer stop()

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.link = l
	s.mu.Unlock()

	defer func() {
		l.close()
		s.mu.Lock()
		if s.link == l {
			s.link = nil
		}
		s.mu.Unlock()
		s.setConnected(false)
	}()

	for _, sub := range subs {
		if err := writeFrame(conn, subscribeFrame(sub.id, sub.topic)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", sub.topic, err)
		}
	}

	s.log.LogConnect(ctx, s.opts.URL, attempt)
	s.log.LogLifecycle(ctx, "subscriptions_restored", map[string]interface{}{"count": len(subs)})
	s.setConnected(true)

	go s.writePump(l, sendBeat)
	return s.readPump(l, expectBeat)
}

func (s *Session) handshake(conn *websocket.Conn, token string) (send, expect time.Duration, err error) {
	host := ""
	if u, perr := url.Parse(s.opts.URL); perr == nil {
		host = u.Hostname()
	}
	if err := writeFrame(conn, connectFrame(host, token, s.opts.Heartbeat)); err != nil {
		return 0, 0, fmt.Errorf("send CONNECT: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(connectWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("await CONNECTED: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return 0, 0, fmt.Errorf("decode CONNECTED: %w", err)
		}
		for _, f := range frames {
			observability.TransportFrames.WithLabelValues("in", f.Command).Inc()
			switch f.Command {
			case frame.CONNECTED:
				send, expect = negotiateHeartbeat(s.opts.Heartbeat, f.Header.Get(frame.HeartBeat))
				return send, expect, nil
			case frame.ERROR:
				return 0, 0, frameError(f)
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	observability.TransportFrames.WithLabelValues("out", f.Command).Inc()
	return nil
}

func (s *Session) setConnected(v bool) {
	if s.connected.Swap(v) == v {
		return
	}
	if v {
		observability.TransportConnected.Set(1)
	} else {
		observability.TransportConnected.Set(0)
	}

	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// readPump dispatches inbound frames until the connection fails.
func (s *Session) readPump(l *link, expect time.Duration) error {
	l.conn.SetReadLimit(maxFrameSize)
	for {
		if expect > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(heartbeatTolerance * expect))
		}
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}
		frames, err := decodeFrames(data)
		if err != nil {
			s.log.LogError(context.Background(), "", err, "decode")
		}
		for _, f := range frames {
			observability.TransportFrames.WithLabelValues("in", f.Command).Inc()
			switch f.Command {
			case frame.MESSAGE:
				s.dispatch(f)
			case frame.ERROR:
				return frameError(f)
			}
		}
	}
}

// writePump serializes every write to the connection and emits heart-beats.
func (s *Session) writePump(l *link, beat time.Duration) {
	var tick <-chan time.Time
	if beat > 0 {
		ticker := time.NewTicker(beat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-l.done:
			return
		case ob := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := l.conn.WriteMessage(websocket.TextMessage, ob.data)
			if ob.errc != nil {
				ob.errc <- err
			}
			if err != nil {
				s.log.LogError(context.Background(), "", err, "write")
				l.close()
				return
			}
			observability.TransportFrames.WithLabelValues("out", ob.command).Inc()
		case <-tick:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				l.close()
				return
			}
		}
	}
}

func (s *Session) dispatch(f *frame.Frame) {
	id := f.Header.Get(frame.Subscription)
	s.mu.Lock()
	sub := s.subs[id]
	s.mu.Unlock()
	if sub == nil {
		observability.GlobalLogger.Debug("message for unknown subscription",
			slog.String("subscription", id),
			slog.String("destination", f.Header.Get(frame.Destination)),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			observability.HandlerPanics.WithLabelValues("transport").Inc()
			observability.GlobalLogger.Error("panic in subscription handler",
				slog.String("topic", sub.topic),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	sub.handler(f.Body)
}

// Subscribe registers handler for topic. The subscription is sent now when
// connected and after every reconnect until Unsubscribe is called.
func (s *Session) Subscribe(topic string, handler Handler) *Subscription {
	s.mu.Lock()
	s.nextSub++
	sub := &Subscription{
		s:       s,
		id:      "sub-" + strconv.FormatUint(s.nextSub, 10),
		topic:   topic,
		handler: handler,
	}
	s.subs[sub.id] = sub
	l := s.link
	s.mu.Unlock()

	if l != nil {
		s.enqueue(l, subscribeFrame(sub.id, topic))
	}
	return sub
}

// Listen is Subscribe for callers that only keep the cancel function.
func (s *Session) Listen(topic string, handler Handler) func() {
	return s.Subscribe(topic, handler).Unsubscribe
}

// Unsubscribe stops delivery. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		s := sub.s
		s.mu.Lock()
		delete(s.subs, sub.id)
		l := s.link
		s.mu.Unlock()

		if l != nil {
			s.enqueue(l, unsubscribeFrame(sub.id))
		}
	})
}

// enqueue queues a control frame without waiting for the write.
func (s *Session) enqueue(l *link, f *frame.Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		s.log.LogError(context.Background(), f.Header.Get(frame.Destination), err, "encode")
		return
	}
	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case l.out <- outbound{command: f.Command, data: data}:
	case <-l.done:
	case <-timer.C:
		s.log.LogError(context.Background(), f.Header.Get(frame.Destination), errors.New("outbound queue full"), f.Command)
	}
}

// Publish sends payload as JSON to destination and waits for the write to complete.
// It returns ErrNotConnected without queueing while the session is down.
func (s *Session) Publish(ctx context.Context, destination string, payload any) error {
	span, ctx := observability.NewSpan(ctx, "stomp.send",
		attribute.String("messaging.system", "stomp"),
		attribute.String("messaging.destination.name", destination),
	)
	defer span.End()

	err := s.publish(ctx, destination, payload)
	span.SetError(err)
	return err
}

func (s *Session) publish(ctx context.Context, destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: encode payload: %w", err)
	}
	data, err := encodeFrame(sendFrame(destination, body))
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil || !s.Connected() {
		return ErrNotConnected
	}

	ob := outbound{command: frame.SEND, data: data, errc: make(chan error, 1)}
	select {
	case l.out <- ob:
	case <-l.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ob.errc:
		if err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
		return nil
	case <-l.done:
		select {
		case err := <-ob.errc:
			if err == nil {
				return nil
			}
			return fmt.Errorf("transport: write: %w", err)
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
