package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"ecochat/models"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
		Token       string `json:"token"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, "login", http.MethodPost, "/api/auth/login", nil, in, &out); err != nil {
		return "", err
	}
	if out.AccessToken != "" {
		return out.AccessToken, nil
	}
	if out.Token != "" {
		return out.Token, nil
	}
	return "", models.NewUnauthorizedError("login response carried no token")
}

// ListRooms fetches the room directory of a member.
func (c *Client) ListRooms(ctx context.Context, memberID int64) ([]models.Room, error) {
	var rooms []models.Room
	err := c.doJSON(ctx, "list_rooms", http.MethodGet, "/api/chat/rooms", memberQuery(memberID), nil, &rooms)
	return rooms, err
}

// FetchMessages returns up to size messages older than cursor in ascending createdAt order.
// A zero cursor returns the newest page.
func (c *Client) FetchMessages(ctx context.Context, roomID, cursor, memberID int64, size int) ([]models.Message, error) {
	q := memberQuery(memberID)
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	q.Set("size", strconv.Itoa(size))

	var msgs []models.Message
	err := c.doJSON(ctx, "fetch_messages", http.MethodGet, roomPath(roomID, "/messages"), q, nil, &msgs)
	return msgs, err
}

// MarkRead marks the room read up to upTo, or everything when upTo is nil.
func (c *Client) MarkRead(ctx context.Context, roomID, memberID int64, upTo *int64) error {
	in := struct {
		MemberID  int64  `json:"memberId"`
		MessageID *int64 `json:"messageId,omitempty"`
	}{memberID, upTo}
	return c.doJSON(ctx, "mark_read", http.MethodPost, roomPath(roomID, "/read"), nil, in, nil)
}

// RoomInfo fetches the metadata of one room.
func (c *Client) RoomInfo(ctx context.Context, roomID, memberID int64) (*models.RoomInfo, error) {
	var info models.RoomInfo
	if err := c.doJSON(ctx, "room_info", http.MethodGet, roomPath(roomID, ""), memberQuery(memberID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Members lists the participants of a room.
func (c *Client) Members(ctx context.Context, roomID int64) ([]models.Member, error) {
	var members []models.Member
	err := c.doJSON(ctx, "members", http.MethodGet, roomPath(roomID, "/members"), nil, nil, &members)
	return members, err
}

// UpdateTitle renames a room.
func (c *Client) UpdateTitle(ctx context.Context, roomID int64, title string) error {
	in := map[string]string{"title": title}
	return c.doJSON(ctx, "update_title", http.MethodPut, roomPath(roomID, "/title"), nil, in, nil)
}

// UpdateImage sets the room image to an uploaded URL.
func (c *Client) UpdateImage(ctx context.Context, roomID int64, imageURL string) error {
	in := map[string]string{"roomImage": imageURL}
	return c.doJSON(ctx, "update_image", http.MethodPut, roomPath(roomID, "/image"), nil, in, nil)
}

// Invite adds members to a group room as pending invitations.
func (c *Client) Invite(ctx context.Context, roomID int64, memberIDs []int64) error {
	in := map[string][]int64{"memberIds": memberIDs}
	return c.doJSON(ctx, "invite", http.MethodPost, roomPath(roomID, "/invite"), nil, in, nil)
}

// Kick removes a member from a room.
func (c *Client) Kick(ctx context.Context, roomID, memberID int64) error {
	in := map[string]int64{"memberId": memberID}
	return c.doJSON(ctx, "kick", http.MethodPost, roomPath(roomID, "/kick"), nil, in, nil)
}

// TransferOwner hands the owner role to another member.
func (c *Client) TransferOwner(ctx context.Context, roomID, memberID int64) error {
	in := map[string]int64{"memberId": memberID}
	return c.doJSON(ctx, "transfer_owner", http.MethodPut, roomPath(roomID, "/owner"), nil, in, nil)
}

// Leave removes the member from a room.
func (c *Client) Leave(ctx context.Context, roomID, memberID int64) error {
	return c.doJSON(ctx, "leave", http.MethodPost, roomPath(roomID, "/leave"), memberQuery(memberID), nil, nil)
}

// ToggleFavorite flips the favorite flag server-side.
func (c *Client) ToggleFavorite(ctx context.Context, roomID, memberID int64) error {
	return c.doJSON(ctx, "toggle_favorite", http.MethodPost, roomPath(roomID, "/favorite"), memberQuery(memberID), nil, nil)
}

// AcceptInvitation joins a room the member was invited to.
func (c *Client) AcceptInvitation(ctx context.Context, roomID, memberID int64) error {
	return c.doJSON(ctx, "accept_invitation", http.MethodPost, roomPath(roomID, "/invitation/accept"), memberQuery(memberID), nil, nil)
}

// RejectInvitation declines a pending invitation.
func (c *Client) RejectInvitation(ctx context.Context, roomID, memberID int64) error {
	return c.doJSON(ctx, "reject_invitation", http.MethodPost, roomPath(roomID, "/invitation/reject"), memberQuery(memberID), nil, nil)
}

// SearchMessages returns matches newest first.
func (c *Client) SearchMessages(ctx context.Context, roomID, memberID int64, keyword string, limit, offset int) ([]models.Message, error) {
	q := memberQuery(memberID)
	q.Set("keyword", keyword)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var msgs []models.Message
	err := c.doJSON(ctx, "search_messages", http.MethodGet, roomPath(roomID, "/messages/search"), q, nil, &msgs)
	return msgs, err
}

// SetNotice pins a message as the room notice.
func (c *Client) SetNotice(ctx context.Context, roomID, messageID int64) error {
	in := map[string]int64{"messageId": messageID}
	return c.doJSON(ctx, "set_notice", http.MethodPut, roomPath(roomID, "/notice"), nil, in, nil)
}

// ClearNotice unpins the room notice.
func (c *Client) ClearNotice(ctx context.Context, roomID int64) error {
	return c.doJSON(ctx, "clear_notice", http.MethodDelete, roomPath(roomID, "/notice"), nil, nil, nil)
}

// React toggles the member's reaction on a message. The resulting counts arrive on the reaction topic.
func (c *Client) React(ctx context.Context, messageID, memberID int64, emoji string) error {
	in := struct {
		MemberID  int64  `json:"memberId"`
		EmojiType string `json:"emojiType"`
	}{memberID, emoji}
	return c.doJSON(ctx, "react", http.MethodPost, messagePath(messageID, "/reactions"), nil, in, nil)
}

// DeleteMessage soft-deletes a message. The DELETED echo arrives on the room topic.
func (c *Client) DeleteMessage(ctx context.Context, messageID, memberID int64) error {
	return c.doJSON(ctx, "delete_message", http.MethodDelete, messagePath(messageID, ""), memberQuery(memberID), nil, nil)
}

// Upload stores a file and returns its public URL.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", models.NewValidationError(fmt.Sprintf("prepare upload: %v", err))
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", models.NewValidationError(fmt.Sprintf("read upload: %v", err))
	}
	if err := w.Close(); err != nil {
		return "", models.NewValidationError(fmt.Sprintf("finish upload: %v", err))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, "upload", http.MethodPost, "/api/files", nil, w.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", models.NewFetchError("upload", fmt.Errorf("response carried no url"))
	}
	return out.URL, nil
}
