package thread

import (
	"context"
	"log/slog"

	"ecochat/internal/notifications"
	"ecochat/internal/observability"
	"ecochat/internal/ui"
	"ecochat/models"
)

type scrollPolicy int

const (
	// scrollKeep leaves the offset alone.
	scrollKeep scrollPolicy = iota
	// scrollBottom always jumps to the newest message.
	scrollBottom
	// scrollFollow jumps to the bottom only if the viewer was near it before rendering.
	scrollFollow
	// scrollAnchor keeps the visible message in place while content is prepended.
	scrollAnchor
)

type nopViewport struct{}

func (nopViewport) Render([]models.Message)   {}
func (nopViewport) Metrics() ui.ScrollMetrics { return ui.ScrollMetrics{} }
func (nopViewport) SetScrollTop(float64)      {}
func (nopViewport) ScrollToBottom()           {}
func (nopViewport) ScrollToMessage(string) bool {
	return false
}

// render lays out the current list and applies policy. It reports whether
// the viewer was near the bottom before the update.
func (t *Thread) render(policy scrollPolicy) bool {
	t.renderMu.Lock()
	defer t.renderMu.Unlock()
	return t.renderLocked(policy, t.opts.Viewport.Metrics())
}

// renderLocked is render with renderMu held and the metrics measured before
// the list changed.
func (t *Thread) renderLocked(policy scrollPolicy, before ui.ScrollMetrics) bool {
	vp := t.opts.Viewport
	wasNear := before.DistanceFromBottom() <= nearBottom

	t.mu.Lock()
	msgs := cloneMessages(t.messages)
	t.mu.Unlock()
	vp.Render(msgs)

	switch policy {
	case scrollBottom:
		vp.ScrollToBottom()
	case scrollFollow:
		if wasNear {
			vp.ScrollToBottom()
		}
	case scrollAnchor:
		after := vp.Metrics()
		vp.SetScrollTop(before.ScrollTop + after.ScrollHeight - before.ScrollHeight)
	}
	return wasNear
}

// OnScroll is called by the shell after the viewer scrolled. Reaching the
// bottom clears both notification stacks.
func (t *Thread) OnScroll() {
	if t.opts.Viewport.Metrics().DistanceFromBottom() <= atBottom {
		t.incoming.Clear()
		t.outgoing.Clear()
	}
}

// notifyScrolledAway stacks a landed message the viewer cannot see.
func (t *Thread) notifyScrolledAway(m models.Message, fromSelf bool) {
	stack := t.incoming
	if fromSelf {
		stack = t.outgoing
	}
	stack.Push(notifications.Toast{
		RoomID:     m.ChatRoomID,
		MessageID:  m.MessageID,
		LocalID:    m.LocalID,
		SenderName: m.SenderName,
		Content:    m.Content,
	})
}

// LoadOlder fetches the page before the oldest loaded message. It is what
// the top sentinel triggers; it does nothing without history to fetch or
// while another load is running.
func (t *Thread) LoadOlder(ctx context.Context) error {
	_, err := t.loadOlder(ctx)
	return err
}

func (t *Thread) loadOlder(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.roomID == 0 || !t.hasMore || len(t.messages) == 0 ||
		t.state == StateInitializing || t.state == StateLoadingOlder {
		t.mu.Unlock()
		return 0, nil
	}
	cursor, ok := oldestConfirmedID(t.messages)
	if !ok {
		t.mu.Unlock()
		return 0, nil
	}
	roomID, epoch := t.roomID, t.epoch
	t.state = StateLoadingOlder
	t.mu.Unlock()

	ctx = observability.WithRoomID(ctx, roomID)
	page, err := t.opts.API.FetchMessages(ctx, roomID, cursor, t.self().MemberID, t.opts.PageSize)

	// renderMu is held from before the prepend until the anchored render, so a
	// render of a pushed message cannot consume the height delta.
	t.renderMu.Lock()
	before := t.opts.Viewport.Metrics()
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		t.renderMu.Unlock()
		stale()
		return 0, nil
	}
	if err != nil {
		t.state = StateLoaded
		t.mu.Unlock()
		t.renderMu.Unlock()
		observability.GlobalLogger.ErrorContext(ctx, "older messages load failed",
			slog.Int64("cursor", cursor), slog.String("error", err.Error()))
		t.alert("Chat", err)
		return 0, err
	}
	var added int
	t.messages, added = prependOlder(t.messages, page)
	t.hasMore = len(page) >= t.opts.PageSize
	t.state = StateLoadingOlderDone
	t.mu.Unlock()

	if added > 0 {
		t.renderLocked(scrollAnchor, before)
	}
	t.renderMu.Unlock()
	return added, nil
}
