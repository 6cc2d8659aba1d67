package notifications

import (
	"sync"
	"time"
)

// Notice is a cross-room notification for a room the member is not viewing.
type Notice struct {
	Kind      string
	RoomID    int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// Inbox holds pending cross-room notices until the member opens the room.
type Inbox struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
}

// NewInbox keeps at most limit notices, dropping the oldest.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 50
	}
	return &Inbox{limit: limit}
}

// Add records n.
func (in *Inbox) Add(n Notice) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.notices = append(in.notices, n)
	if over := len(in.notices) - in.limit; over > 0 {
		in.notices = in.notices[over:]
	}
}

// ClearRoom drops every pending notice of a room and returns how many were removed.
func (in *Inbox) ClearRoom(roomID int64) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	kept := in.notices[:0]
	removed := 0
	for _, n := range in.notices {
		if n.RoomID == roomID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	in.notices = kept
	return removed
}

// Pending returns a copy of the pending notices, oldest first.
func (in *Inbox) Pending() []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Notice(nil), in.notices...)
}
