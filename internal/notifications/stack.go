package notifications

import (
	"sync"
	"time"

	"ecochat/internal/schedule"
)

// Defaults for the stacked notifications shown while scrolled away from the bottom.
const (
	DefaultMaxVisible = 3
	DefaultLifetime   = 5 * time.Second
	DefaultFadeAfter  = 4700 * time.Millisecond
)

// Toast is one stacked notification.
type Toast struct {
	ID         uint64
	RoomID     int64
	MessageID  int64
	LocalID    string
	SenderName string
	Content    string
	Fading     bool
	CreatedAt  time.Time
}

// StackConfig tunes a Stack. Zero values fall back to the defaults.
type StackConfig struct {
	MaxVisible int
	Lifetime   time.Duration
	FadeAfter  time.Duration
}

func (c StackConfig) withDefaults() StackConfig {
	if c.MaxVisible <= 0 {
		c.MaxVisible = DefaultMaxVisible
	}
	if c.Lifetime <= 0 {
		c.Lifetime = DefaultLifetime
	}
	if c.FadeAfter <= 0 || c.FadeAfter >= c.Lifetime {
		c.FadeAfter = c.Lifetime * 47 / 50
	}
	return c
}

type toastTimers struct {
	fade    *schedule.Task
	dismiss *schedule.Task
}

// Stack keeps at most MaxVisible toasts; each fades then dismisses itself.
type Stack struct {
	mu       sync.Mutex
	cfg      StackConfig
	sched    *schedule.Scheduler
	items    []Toast
	timers   map[uint64]toastTimers
	next     uint64
	onChange func([]Toast)
}

// NewStack returns a stack whose timers are owned by sched.
func NewStack(sched *schedule.Scheduler, cfg StackConfig) *Stack {
	return &Stack{
		cfg:    cfg.withDefaults(),
		sched:  sched,
		timers: make(map[uint64]toastTimers),
	}
}

// OnChange sets the render callback. It is called outside the stack lock.
func (s *Stack) OnChange(fn func([]Toast)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Push shows t, evicting the oldest toast when the stack is full.
func (s *Stack) Push(t Toast) uint64 {
	s.mu.Lock()
	s.next++
	t.ID = s.next
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Fading = false
	s.items = append(s.items, t)
	for len(s.items) > s.cfg.MaxVisible {
		s.cancelLocked(s.items[0].ID)
		s.items = s.items[1:]
	}

	id := t.ID
	s.timers[id] = toastTimers{
		fade:    s.sched.After(s.cfg.FadeAfter, func() { s.fade(id) }),
		dismiss: s.sched.After(s.cfg.Lifetime, func() { s.Dismiss(id) }),
	}
	snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	notify(snapshot)
	return id
}

func (s *Stack) fade(id uint64) {
	s.mu.Lock()
	changed := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Fading = true
			changed = true
		}
	}
	snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		notify(snapshot)
	}
}

// Dismiss removes one toast.
func (s *Stack) Dismiss(id uint64) {
	s.mu.Lock()
	removed := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			removed = true
			break
		}
	}
	s.cancelLocked(id)
	snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	if removed {
		notify(snapshot)
	}
}

// Clear removes every toast and cancels their timers.
func (s *Stack) Clear() {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return
	}
	for _, t := range s.items {
		s.cancelLocked(t.ID)
	}
	s.items = nil
	snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	notify(snapshot)
}

// Items returns a copy of the visible toasts, oldest first.
func (s *Stack) Items() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Toast(nil), s.items...)
}

// Len returns the number of visible toasts.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Stack) cancelLocked(id uint64) {
	if tt, ok := s.timers[id]; ok {
		tt.fade.Cancel()
		tt.dismiss.Cancel()
		delete(s.timers, id)
	}
}

func (s *Stack) snapshotLocked() ([]Toast, func([]Toast)) {
	fn := s.onChange
	if fn == nil {
		return nil, func([]Toast) {}
	}
	return append([]Toast(nil), s.items...), fn
}
