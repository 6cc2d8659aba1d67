package thread

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecochat/internal/featureflags"
	"ecochat/internal/observability"
	"ecochat/internal/transport"
	"ecochat/models"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// SetInput replaces the composer text.
func (t *Thread) SetInput(text string) {
	t.mu.Lock()
	t.input = text
	t.mu.Unlock()
}

// Input returns the composer text.
func (t *Thread) Input() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input
}

// SetReplyTarget makes the next send a reply to messageID. Zero clears it.
func (t *Thread) SetReplyTarget(messageID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if messageID == 0 {
		t.replyTo = nil
		return nil
	}
	i := indexByID(t.messages, messageID)
	if i < 0 || t.messages[i].IsOptimistic {
		return models.NewNotFoundError("Message", messageID)
	}
	m := t.messages[i].Clone()
	t.replyTo = &m
	return nil
}

// ReplyTarget returns the message the next send replies to.
func (t *Thread) ReplyTarget() (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.replyTo == nil {
		return models.Message{}, false
	}
	return *t.replyTo, true
}

// Send publishes the composer text. The message is rendered right away as
// optimistic and confirmed in place when the server echoes it.
func (t *Thread) Send(ctx context.Context) error {
	t.mu.Lock()
	content := strings.TrimSpace(t.input)
	t.mu.Unlock()
	if content == "" {
		return models.NewValidationError("Message is empty")
	}

	return t.send(ctx, content, models.MessageText, true)
}

// SendAttachment uploads r and sends its URL as an IMAGE or FILE message.
func (t *Thread) SendAttachment(ctx context.Context, filename string, r io.Reader) error {
	if !t.opts.Transport.Connected() {
		err := models.NewTransportError(transport.ErrNotConnected)
		t.alert("Chat", err)
		return err
	}
	url, err := t.opts.API.Upload(ctx, filepath.Base(filename), r)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "attachment upload failed",
			slog.String("file", filename), slog.String("error", err.Error()))
		t.alert("Upload", err)
		return err
	}
	kind := models.MessageFile
	if imageExts[strings.ToLower(filepath.Ext(filename))] {
		kind = models.MessageImage
	}
	return t.send(ctx, url, kind, false)
}

func (t *Thread) send(ctx context.Context, content string, kind models.MessageType, fromInput bool) error {
	me := t.self()

	t.mu.Lock()
	if t.roomID == 0 {
		t.mu.Unlock()
		return models.NewValidationError("No room is open")
	}
	if !t.opts.Transport.Connected() {
		t.mu.Unlock()
		err := models.NewTransportError(transport.ErrNotConnected)
		t.alert("Chat", err)
		return err
	}

	localID := uuid.NewString()
	t.tempSeq--
	optimistic := models.Message{
		MessageID:          t.tempSeq,
		LocalID:            localID,
		ChatRoomID:         t.roomID,
		SenderID:           me.MemberID,
		SenderName:         me.Name,
		SenderProfileImage: me.ProfileImage,
		Content:            content,
		MessageType:        kind,
		CreatedAt:          models.NewTime(time.Now()),
		IsOptimistic:       true,
	}
	out := models.OutgoingMessage{
		ChatRoomID:  t.roomID,
		SenderID:    me.MemberID,
		Content:     content,
		MessageType: kind,
	}
	if t.flag(featureflags.CorrelationIDs) {
		optimistic.ClientMessageID = localID
		out.ClientMessageID = localID
	}
	if fromInput && t.replyTo != nil {
		parent := t.replyTo.MessageID
		optimistic.ParentMessageID = &parent
		optimistic.ParentMessageContent = t.replyTo.Content
		optimistic.ParentMessageSenderName = t.replyTo.SenderName
		out.ParentMessageID = &parent
	}
	t.messages = append(t.messages, optimistic)
	roomID, epoch := t.roomID, t.epoch
	t.mu.Unlock()

	t.render(scrollBottom)
	observability.OptimisticMessages.WithLabelValues("sent").Inc()

	ctx = observability.WithCorrelationID(observability.WithRoomID(ctx, roomID), localID)
	if err := t.opts.Transport.Publish(ctx, transport.SendDestination, out); err != nil {
		t.mu.Lock()
		if i := indexByLocalID(t.messages, localID); i >= 0 && t.messages[i].IsOptimistic {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
		}
		t.mu.Unlock()
		t.render(scrollKeep)

		observability.OptimisticMessages.WithLabelValues("failed").Inc()
		observability.GlobalLogger.ErrorContext(ctx, "publish failed", slog.String("error", err.Error()))
		sendErr := models.NewSendError("", err)
		t.alert("Send failed", sendErr)
		return sendErr
	}

	if fromInput {
		t.mu.Lock()
		if t.epoch == epoch {
			t.input = ""
			t.replyTo = nil
		}
		t.mu.Unlock()
	}
	return nil
}

// React toggles emoji on a confirmed message. The new counts arrive on the
// reaction topic.
func (t *Thread) React(ctx context.Context, messageID int64, emoji string) error {
	if messageID <= 0 {
		return models.NewValidationError("Message is not delivered yet")
	}
	if err := t.opts.API.React(ctx, messageID, t.self().MemberID, emoji); err != nil {
		t.alert("Reaction", err)
		return err
	}
	return nil
}

// DeleteMessage deletes an own message. The DELETED event arrives on the room topic.
func (t *Thread) DeleteMessage(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return models.NewValidationError("Message is not delivered yet")
	}
	if err := t.opts.API.DeleteMessage(ctx, messageID, t.self().MemberID); err != nil {
		t.alert("Delete", err)
		return err
	}
	return nil
}

// SetNotice pins messageID as the room notice.
func (t *Thread) SetNotice(ctx context.Context, messageID int64) error {
	roomID := t.RoomID()
	if roomID == 0 {
		return models.NewValidationError("No room is open")
	}
	if err := t.opts.API.SetNotice(ctx, roomID, messageID); err != nil {
		t.alert("Notice", err)
		return err
	}
	return nil
}

// ClearNotice unpins the room notice.
func (t *Thread) ClearNotice(ctx context.Context) error {
	roomID := t.RoomID()
	if roomID == 0 {
		return models.NewValidationError("No room is open")
	}
	if err := t.opts.API.ClearNotice(ctx, roomID); err != nil {
		t.alert("Notice", err)
		return err
	}
	return nil
}
