// Package ui declares what the chat core needs from the presentation shell.
package ui

import "ecochat/models"

// ScrollMetrics mirrors the scroll container of the message list.
type ScrollMetrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// DistanceFromBottom is how far the viewer is scrolled up from the newest message.
func (m ScrollMetrics) DistanceFromBottom() float64 {
	d := m.ScrollHeight - m.ScrollTop - m.ClientHeight
	if d < 0 {
		return 0
	}
	return d
}

// Viewport is the message list's scroll container. Render lays out msgs
// synchronously: Metrics called after Render reflects the new content.
type Viewport interface {
	Render(msgs []models.Message)
	Metrics() ScrollMetrics
	SetScrollTop(top float64)
	ScrollToBottom()
	ScrollToMessage(localID string) bool
}

// Presenter surfaces errors and notifications to the member.
type Presenter interface {
	// Alert shows a dismissible, non-blocking error.
	Alert(title, message string)
	// BlockingAlert shows an alert the member has to acknowledge.
	BlockingAlert(title, message string)
	// Toast shows a transient notification for something not currently in view.
	Toast(title, body string)
	// ConnectionState toggles the "reconnecting" indicator.
	ConnectionState(connected bool)
}

// Navigator moves the member between rooms.
type Navigator interface {
	EnterRoom(roomID int64)
	LeaveRoom(roomID int64)
}

// Confirmer gates destructive actions.
type Confirmer interface {
	Confirm(prompt string) bool
}
