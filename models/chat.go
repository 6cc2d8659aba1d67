// Package models contains data structures for the chat client's domain models.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RoomType distinguishes one-to-one rooms from group rooms
type RoomType string

const (
	RoomSingle RoomType = "SINGLE"
	RoomGroup  RoomType = "GROUP"
)

// InvitationStatus is empty for rooms the member joined directly
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
)

// MessageType enumerates message kinds on the room stream
type MessageType string

const (
	MessageText    MessageType = "TEXT"
	MessageImage   MessageType = "IMAGE"
	MessageFile    MessageType = "FILE"
	MessageDeleted MessageType = "DELETED"
	MessageEnter   MessageType = "ENTER"
	MessageLeave   MessageType = "LEAVE"
	MessageSystem  MessageType = "SYSTEM"
	MessageNotice  MessageType = "NOTICE"
	MessageError   MessageType = "ERROR"
)

// DeletedPlaceholder replaces the reply preview of a message whose parent was deleted.
const DeletedPlaceholder = "This message was deleted."

// Role of a room member
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
)

// Identity is the signed-in member
type Identity struct {
	MemberID     int64  `json:"memberId"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Room is one entry of the room directory
type Room struct {
	ChatRoomID         int64            `json:"chatRoomId" yaml:"chatRoomId"`
	RoomType           RoomType         `json:"roomType" yaml:"roomType"`
	Title              string           `json:"title" yaml:"title"`
	RoomImage          string           `json:"roomImage,omitempty" yaml:"roomImage,omitempty"`
	OtherMemberProfile string           `json:"otherMemberProfile,omitempty" yaml:"otherMemberProfile,omitempty"`
	OtherMemberName    string           `json:"otherMemberName,omitempty" yaml:"otherMemberName,omitempty"`
	MemberCount        int              `json:"memberCount" yaml:"memberCount"`
	Favorite           bool             `json:"favorite" yaml:"favorite"`
	LastMessageContent string           `json:"lastMessageContent,omitempty" yaml:"lastMessageContent,omitempty"`
	LastMessageType    MessageType      `json:"lastMessageType,omitempty" yaml:"lastMessageType,omitempty"`
	LastMessageAt      *Time            `json:"lastMessageAt,omitempty" yaml:"lastMessageAt,omitempty"`
	UnreadCount        int              `json:"unreadCount" yaml:"unreadCount"`
	InvitationStatus   InvitationStatus `json:"invitationStatus,omitempty" yaml:"invitationStatus,omitempty"`
	CreatorID          int64            `json:"creatorId" yaml:"creatorId"`
	NoticeContent      string           `json:"noticeContent,omitempty" yaml:"noticeContent,omitempty"`
	NoticeMessageID    *int64           `json:"noticeMessageId,omitempty" yaml:"noticeMessageId,omitempty"`
}

// DisplayTitle is the other member's name for SINGLE rooms.
func (r Room) DisplayTitle() string {
	if r.RoomType == RoomSingle && r.OtherMemberName != "" {
		return r.OtherMemberName
	}
	return r.Title
}

// Reaction is the aggregated count for one emoji on a message
type Reaction struct {
	EmojiType    string `json:"emojiType" yaml:"emojiType"`
	Count        int    `json:"count" yaml:"count"`
	SelectedByMe bool   `json:"selectedByMe" yaml:"selectedByMe"`
}

// Message is one entry of a room's message stream
type Message struct {
	MessageID               int64       `json:"messageId" yaml:"messageId"`
	LocalID                 string      `json:"-" yaml:"localId"`
	ClientMessageID         string      `json:"clientMessageId,omitempty" yaml:"clientMessageId,omitempty"`
	ChatRoomID              int64       `json:"chatRoomId" yaml:"chatRoomId"`
	SenderID                int64       `json:"senderId" yaml:"senderId"`
	SenderName              string      `json:"senderName" yaml:"senderName"`
	SenderProfileImage      string      `json:"senderProfileImage,omitempty" yaml:"senderProfileImage,omitempty"`
	Content                 string      `json:"content" yaml:"content"`
	MessageType             MessageType `json:"messageType" yaml:"messageType"`
	ParentMessageID         *int64      `json:"parentMessageId,omitempty" yaml:"parentMessageId,omitempty"`
	ParentMessageContent    string      `json:"parentMessageContent,omitempty" yaml:"parentMessageContent,omitempty"`
	ParentMessageSenderName string      `json:"parentMessageSenderName,omitempty" yaml:"parentMessageSenderName,omitempty"`
	CreatedAt               Time        `json:"createdAt" yaml:"createdAt"`
	UnreadCount             int         `json:"unreadCount" yaml:"unreadCount"`
	Reactions               []Reaction  `json:"reactions,omitempty" yaml:"reactions,omitempty"`
	IsOptimistic            bool        `json:"-" yaml:"optimistic"`
}

// ConfirmedLocalID is the render key of a message first seen from the server.
func ConfirmedLocalID(messageID int64) string {
	return strconv.FormatInt(messageID, 10)
}

// Clone returns a copy that shares no slices or pointers with m.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.ParentMessageID != nil {
		id := *m.ParentMessageID
		m.ParentMessageID = &id
	}
	return m
}

// RoomInfo is the metadata of the room currently open in a thread
type RoomInfo struct {
	ChatRoomID         int64    `json:"chatRoomId" yaml:"chatRoomId"`
	RoomType           RoomType `json:"roomType" yaml:"roomType"`
	Title              string   `json:"title" yaml:"title"`
	RoomImage          string   `json:"roomImage,omitempty" yaml:"roomImage,omitempty"`
	MemberCount        int      `json:"memberCount" yaml:"memberCount"`
	CreatorID          int64    `json:"creatorId" yaml:"creatorId"`
	NoticeContent      string   `json:"noticeContent,omitempty" yaml:"noticeContent,omitempty"`
	NoticeMessageID    *int64   `json:"noticeMessageId,omitempty" yaml:"noticeMessageId,omitempty"`
	OtherMemberID      int64    `json:"otherMemberId,omitempty" yaml:"otherMemberId,omitempty"`
	OtherMemberName    string   `json:"otherMemberName,omitempty" yaml:"otherMemberName,omitempty"`
	OtherMemberProfile string   `json:"otherMemberProfile,omitempty" yaml:"otherMemberProfile,omitempty"`
}

// Member is one participant of a room
type Member struct {
	MemberID     int64  `json:"memberId" yaml:"memberId"`
	Name         string `json:"name" yaml:"name"`
	ProfileImage string `json:"profileImage,omitempty" yaml:"profileImage,omitempty"`
	Role         Role   `json:"role" yaml:"role"`
}

// Time accepts both RFC 3339 and zone-less timestamps from the backend.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// NewTime wraps t.
func NewTime(t time.Time) Time {
	return Time{Time: t}
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var err error
	for _, layout := range timeLayouts {
		var parsed time.Time
		parsed, err = time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return err
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t Time) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Format(time.RFC3339), nil
}
