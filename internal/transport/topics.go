package transport

import "strconv"

// SendDestination accepts outgoing chat messages.
const SendDestination = "/pub/chat/message"

// RoomTopic carries messages and ROOM_UPDATE, NOTICE_* and MEMBER_UPDATE events of a room.
func RoomTopic(roomID int64) string {
	return "/sub/chat/room/" + strconv.FormatInt(roomID, 10)
}

// ReactionTopic carries REACTION_UPDATE events of a room.
func ReactionTopic(roomID int64) string {
	return RoomTopic(roomID) + "/reaction"
}

// ReadTopic carries READ_UPDATE events of a room.
func ReadTopic(roomID int64) string {
	return RoomTopic(roomID) + "/read"
}

// UserTopic carries cross-room notifications for one member.
func UserTopic(memberID int64) string {
	return "/sub/chat/user/" + strconv.FormatInt(memberID, 10)
}
