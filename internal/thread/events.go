package thread

import (
	"context"
	"encoding/json"
	"log/slog"

	"ecochat/internal/featureflags"
	"ecochat/internal/notifications"
	"ecochat/internal/observability"
	"ecochat/models"
)

func decode(topic string, body []byte, v any) bool {
	if err := json.Unmarshal(body, v); err != nil {
		observability.GlobalLogger.Warn("undecodable room frame",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (t *Thread) handleRoomFrame(epoch uint64, body []byte) {
	var ev models.RoomEvent
	if !decode("room", body, &ev) {
		return
	}

	switch ev.Type {
	case models.EventRoomUpdate:
		t.patchInfo(epoch, func(info *models.RoomInfo) {
			if ev.Title != nil {
				info.Title = *ev.Title
			}
			if ev.RoomImage != nil {
				info.RoomImage = *ev.RoomImage
			}
		})
	case models.EventNoticeUpdated:
		t.patchInfo(epoch, func(info *models.RoomInfo) {
			content := ev.Content
			if ev.NoticeContent != nil {
				content = *ev.NoticeContent
			}
			id := ev.MessageID
			if ev.NoticeMessageID != nil {
				id = *ev.NoticeMessageID
			}
			info.NoticeContent = content
			info.NoticeMessageID = &id
		})
	case models.EventNoticeCleared:
		t.patchInfo(epoch, func(info *models.RoomInfo) {
			info.NoticeContent = ""
			info.NoticeMessageID = nil
		})
	case models.EventMemberUpdate:
		go t.refreshMembership(epoch)
	default:
		if ev.IsMessage() {
			t.receive(epoch, ev.Message)
			return
		}
		observability.GlobalLogger.Debug("ignored room event", slog.String("type", ev.Type))
	}
}

func (t *Thread) refreshMembership(epoch uint64) {
	t.mu.Lock()
	roomID := t.roomID
	t.mu.Unlock()

	ctx := observability.WithRoomID(context.Background(), roomID)
	if err := t.loadInfo(ctx, epoch, roomID); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "room info refresh failed", slog.String("error", err.Error()))
		t.alert("Chat", err)
	}
	if t.opts.Members != nil && t.current(epoch) {
		t.opts.Members.RefreshIfOpen(ctx)
	}
}

// receive folds a streamed message into the list.
func (t *Thread) receive(epoch uint64, in models.Message) {
	self := t.self().MemberID
	byCorrelation := t.flag(featureflags.CorrelationIDs)

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	if in.ChatRoomID == 0 {
		in.ChatRoomID = t.roomID
	}
	var (
		idx int
		how outcome
	)
	t.messages, idx, how = reconcile(t.messages, in, self, byCorrelation)
	if in.MessageType == models.MessageDeleted {
		markParentDeleted(t.messages, in.MessageID)
	}
	roomID := t.roomID
	if how == outcomeIgnored {
		t.mu.Unlock()
		t.render(scrollKeep)
		return
	}
	landed := t.messages[idx]
	t.mu.Unlock()

	if how == outcomeConfirmed {
		observability.OptimisticMessages.WithLabelValues("confirmed").Inc()
	}

	fromSelf := in.SenderID == self
	if wasNear := t.render(scrollFollow); !wasNear && how != outcomeReplaced {
		t.notifyScrolledAway(landed, fromSelf)
	}

	if !fromSelf && in.MessageID > 0 {
		go t.acknowledge(epoch, roomID, in.MessageID)
	}
}

// acknowledge marks a message from someone else read and refreshes the directory.
func (t *Thread) acknowledge(epoch uint64, roomID, messageID int64) {
	ctx := observability.WithRoomID(context.Background(), roomID)
	upTo := messageID
	if err := t.opts.API.MarkRead(ctx, roomID, t.self().MemberID, &upTo); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "mark read failed",
			slog.Int64("message_id", messageID), slog.String("error", err.Error()))
		return
	}
	if t.current(epoch) {
		t.opts.ReloadDirectory()
	}
}

func (t *Thread) handleReactionFrame(epoch uint64, body []byte) {
	var ev models.ReactionEvent
	if !decode("reaction", body, &ev) {
		return
	}
	if ev.Type != "" && ev.Type != models.EventReactionUpdate {
		return
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	changed := applyReactions(t.messages, ev, t.self().MemberID)
	t.mu.Unlock()

	if changed {
		t.render(scrollKeep)
	}
}

func (t *Thread) handleReadFrame(epoch uint64, body []byte) {
	var ev models.ReadEvent
	if !decode("read", body, &ev) {
		return
	}
	t.applyReadCounts(epoch, ev.UnreadCounts)
}

func (t *Thread) applyReadCounts(epoch uint64, counts map[int64]int) {
	if len(counts) == 0 {
		return
	}
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	changed := applyUnreadCounts(t.messages, counts)
	t.mu.Unlock()

	if changed {
		t.render(scrollKeep)
	}
}

// Subscribe registers the thread's per-identity handlers: send errors roll
// back the newest optimistic message, MESSAGE_READ updates unread counts.
func (t *Thread) Subscribe(bus *notifications.Bus) func() {
	offErr := bus.On(models.EventError, t.handleSendError)
	offRead := bus.On(models.EventMessageRead, func(ev models.UserEvent) {
		t.mu.Lock()
		roomID, epoch := t.roomID, t.epoch
		t.mu.Unlock()
		if roomID != 0 && ev.ChatRoomID == roomID {
			t.applyReadCounts(epoch, ev.UnreadCounts)
		}
	})
	return func() {
		offErr()
		offRead()
	}
}

func (t *Thread) handleSendError(ev models.UserEvent) {
	t.mu.Lock()
	if t.roomID == 0 || (ev.ChatRoomID != 0 && ev.ChatRoomID != t.roomID) {
		t.mu.Unlock()
		return
	}
	var removed *models.Message
	t.messages, removed = removeNewestOptimistic(t.messages)
	roomID := t.roomID
	t.mu.Unlock()

	ctx := observability.WithRoomID(context.Background(), roomID)
	observability.GlobalLogger.WarnContext(ctx, "send rejected by server", slog.String("reason", ev.Reason()))
	if removed != nil {
		observability.OptimisticMessages.WithLabelValues("rolled_back").Inc()
		t.render(scrollKeep)
	}
	t.alert("Send failed", models.NewSendError(ev.Reason(), nil))
}
