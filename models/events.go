package models

// Push event discriminators
const (
	EventRoomUpdate     = "ROOM_UPDATE"
	EventNoticeUpdated  = "NOTICE_UPDATED"
	EventNoticeCleared  = "NOTICE_CLEARED"
	EventMemberUpdate   = "MEMBER_UPDATE"
	EventReactionUpdate = "REACTION_UPDATE"
	EventReadUpdate     = "READ_UPDATE"

	EventChatListRefresh  = "CHAT_LIST_REFRESH"
	EventLeaveRoomSuccess = "LEAVE_ROOM_SUCCESS"
	EventInvitation       = "INVITATION"
	EventKick             = "KICK"
	EventNewMessage       = "NEW_MESSAGE"
	EventMessageRead      = "MESSAGE_READ"
	EventProfileUpdate    = "PROFILE_UPDATE"
	EventError            = "ERROR"
)

// RoomEvent is a frame delivered on a room topic. Typed events set Type;
// message-shaped frames leave it empty (or "MESSAGE") and fill the embedded Message.
type RoomEvent struct {
	Type string `json:"type,omitempty"`
	Message
	Title           *string `json:"title,omitempty"`
	RoomImage       *string `json:"roomImage,omitempty"`
	NoticeContent   *string `json:"noticeContent,omitempty"`
	NoticeMessageID *int64  `json:"noticeMessageId,omitempty"`
}

// IsMessage reports whether the event carries a chat message.
func (e RoomEvent) IsMessage() bool {
	return e.Type == "" || e.Type == "MESSAGE"
}

// ReactionAction is the change a member made to their own reaction
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "ADD"
	ReactionUpdate ReactionAction = "UPDATE"
	ReactionRemove ReactionAction = "REMOVE"
)

// ReactionEvent replaces the reaction list of one message
type ReactionEvent struct {
	Type      string         `json:"type"`
	MessageID int64          `json:"messageId"`
	MemberID  int64          `json:"memberId"`
	EmojiType string         `json:"emojiType"`
	Action    ReactionAction `json:"action"`
	Reactions []Reaction     `json:"reactions"`
}

// ReadEvent carries the remaining unread count per message id
type ReadEvent struct {
	Type         string        `json:"type"`
	ChatRoomID   int64         `json:"chatRoomId"`
	UnreadCounts map[int64]int `json:"unreadCounts"`
}

// UserEvent is a frame delivered on the per-identity topic
type UserEvent struct {
	Type         string        `json:"type"`
	ChatRoomID   int64         `json:"chatRoomId,omitempty"`
	MessageType  MessageType   `json:"messageType,omitempty"`
	Message      string        `json:"message,omitempty"`
	Content      string        `json:"content,omitempty"`
	SenderName   string        `json:"senderName,omitempty"`
	RoomTitle    string        `json:"roomTitle,omitempty"`
	MemberID     int64         `json:"memberId,omitempty"`
	Name         *string       `json:"name,omitempty"`
	ProfileImage *string       `json:"profileImage,omitempty"`
	UnreadCounts map[int64]int `json:"unreadCounts,omitempty"`
}

// Kind is the bus routing key. Error echoes may only set messageType.
func (e UserEvent) Kind() string {
	if e.Type == "" && e.MessageType == MessageError {
		return EventError
	}
	return e.Type
}

// Reason is the human readable text of an ERROR or KICK event.
func (e UserEvent) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Content
}

// OutgoingMessage is the payload published to the send destination
type OutgoingMessage struct {
	ChatRoomID      int64       `json:"chatRoomId"`
	SenderID        int64       `json:"senderId"`
	Content         string      `json:"content"`
	MessageType     MessageType `json:"messageType"`
	ParentMessageID *int64      `json:"parentMessageId,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}
