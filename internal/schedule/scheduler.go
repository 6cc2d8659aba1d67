// Package schedule provides cancellable delayed tasks owned by a component.
package schedule

import (
	"sync"
	"time"
)

// Scheduler owns a set of timers. A callback never runs after its task was
// cancelled or after Stop, so owners can tear down without leaking writes.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[uint64]*Task
	next     uint64
	stopped  bool
	stopOnce sync.Once
}

// Task is a handle to one scheduled callback.
type Task struct {
	s     *Scheduler
	id    uint64
	timer *time.Timer
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[uint64]*Task)}
}

// After runs fn once after d. It returns nil when the scheduler is stopped.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	s.next++
	t := &Task{s: s, id: s.next}
	s.tasks[t.id] = t
	t.timer = time.AfterFunc(d, func() {
		if !s.claim(t.id) {
			return
		}
		fn()
	})
	return t
}

// claim removes a due task and reports whether it may still run.
func (s *Scheduler) claim(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Cancel prevents the task from running. It reports false when the task
// already ran, is running, or was cancelled before.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.id]; !ok {
		return false
	}
	delete(s.tasks, t.id)
	t.timer.Stop()
	return true
}

// Pending returns the number of tasks that have not fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		for id, t := range s.tasks {
			t.timer.Stop()
			delete(s.tasks, id)
		}
	})
}
