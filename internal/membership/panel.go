// Package membership implements the room settings panel: member list,
// title and image changes, invitations, kicks, ownership and leaving.
package membership

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"ecochat/internal/observability"
	"ecochat/internal/ui"
	"ecochat/models"
)

// ErrCancelled is returned when the member declines a confirmation.
var ErrCancelled = errors.New("membership: cancelled by user")

// API is the REST surface used by the panel.
type API interface {
	Members(ctx context.Context, roomID int64) ([]models.Member, error)
	UpdateTitle(ctx context.Context, roomID int64, title string) error
	UpdateImage(ctx context.Context, roomID int64, imageURL string) error
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	Invite(ctx context.Context, roomID int64, memberIDs []int64) error
	Kick(ctx context.Context, roomID, memberID int64) error
	TransferOwner(ctx context.Context, roomID, memberID int64) error
	Leave(ctx context.Context, roomID, memberID int64) error
}

// Options wires a Panel.
type Options struct {
	API             API
	Identity        func() models.Identity
	Confirmer       ui.Confirmer
	Presenter       ui.Presenter
	Navigator       ui.Navigator
	ReloadDirectory func()
	// ForgetRoom drops cached metadata of a room the member left.
	ForgetRoom func(ctx context.Context, roomID int64)
	// MaxImageSide bounds uploaded room images; larger ones are scaled down.
	MaxImageSide int
	OnChange     func(roomID int64, members []models.Member)
}

// Panel shows the members of one room at a time.
type Panel struct {
	opts Options

	mu      sync.Mutex
	roomID  int64
	open    bool
	members []models.Member
	seq     uint64
}

// NewPanel returns a closed panel.
func NewPanel(opts Options) *Panel {
	if opts.MaxImageSide <= 0 {
		opts.MaxImageSide = DefaultMaxImageSide
	}
	if opts.ReloadDirectory == nil {
		opts.ReloadDirectory = func() {}
	}
	return &Panel{opts: opts}
}

// Open shows the panel for roomID and loads its members.
func (p *Panel) Open(ctx context.Context, roomID int64) error {
	p.mu.Lock()
	p.roomID = roomID
	p.open = true
	p.members = nil
	p.mu.Unlock()
	return p.Refresh(ctx)
}

// Close hides the panel.
func (p *Panel) Close() {
	p.mu.Lock()
	p.open = false
	p.members = nil
	p.seq++
	p.mu.Unlock()
}

// IsOpen reports whether the panel is showing.
func (p *Panel) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Members returns the last loaded member list.
func (p *Panel) Members() []models.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Member(nil), p.members...)
}

// Refresh reloads the member list of the open room.
func (p *Panel) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.seq++
	roomID, seq := p.roomID, p.seq
	p.mu.Unlock()

	ctx = observability.WithRoomID(ctx, roomID)
	members, err := p.opts.API.Members(ctx, roomID)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "member list load failed", slog.String("error", err.Error()))
		p.alert("Members", err)
		return err
	}

	p.mu.Lock()
	if seq != p.seq {
		p.mu.Unlock()
		observability.StaleResponses.WithLabelValues("membership").Inc()
		return nil
	}
	p.members = members
	onChange := p.opts.OnChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(roomID, append([]models.Member(nil), members...))
	}
	return nil
}

// RefreshIfOpen reloads the members when the panel is showing. Called on MEMBER_UPDATE.
func (p *Panel) RefreshIfOpen(ctx context.Context) {
	if p.IsOpen() {
		_ = p.Refresh(ctx)
	}
}

// Rename changes the room title.
func (p *Panel) Rename(ctx context.Context, roomID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.NewValidationError("Room title is empty")
	}
	if err := p.opts.API.UpdateTitle(ctx, roomID, title); err != nil {
		p.alert("Rename", err)
		return err
	}
	p.opts.ReloadDirectory()
	return nil
}

// SetImage uploads a room image, scaled down when larger than MaxImageSide.
func (p *Panel) SetImage(ctx context.Context, roomID int64, filename string, r io.Reader) error {
	name, body, err := prepareImage(filename, r, p.opts.MaxImageSide)
	if err != nil {
		err = models.NewValidationError(fmt.Sprintf("Unsupported image: %v", err))
		p.alert("Room image", err)
		return err
	}
	url, err := p.opts.API.Upload(ctx, name, body)
	if err != nil {
		p.alert("Room image", err)
		return err
	}
	if err := p.opts.API.UpdateImage(ctx, roomID, url); err != nil {
		p.alert("Room image", err)
		return err
	}
	p.opts.ReloadDirectory()
	return nil
}

// Invite adds members to a room.
func (p *Panel) Invite(ctx context.Context, roomID int64, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return models.NewValidationError("Nobody to invite")
	}
	if err := p.opts.API.Invite(ctx, roomID, memberIDs); err != nil {
		p.alert("Invite", err)
		return err
	}
	return p.refreshRoom(ctx, roomID)
}

// Kick removes a member after confirmation.
func (p *Panel) Kick(ctx context.Context, roomID, memberID int64) error {
	if memberID == p.opts.Identity().MemberID {
		return models.NewValidationError("Use leave to exit the room")
	}
	if !p.confirm(fmt.Sprintf("Remove %s from the room?", p.nameOf(memberID))) {
		return ErrCancelled
	}
	if err := p.opts.API.Kick(ctx, roomID, memberID); err != nil {
		p.alert("Kick", err)
		return err
	}
	return p.refreshRoom(ctx, roomID)
}

// TransferOwner hands the owner role to memberID after confirmation.
func (p *Panel) TransferOwner(ctx context.Context, roomID, memberID int64) error {
	if memberID == p.opts.Identity().MemberID {
		return models.NewValidationError("You already own this room")
	}
	if !p.confirm(fmt.Sprintf("Make %s the owner of this room?", p.nameOf(memberID))) {
		return ErrCancelled
	}
	if err := p.opts.API.TransferOwner(ctx, roomID, memberID); err != nil {
		p.alert("Owner", err)
		return err
	}
	return p.refreshRoom(ctx, roomID)
}

// Leave exits the room after confirmation, navigates out and reloads the directory.
func (p *Panel) Leave(ctx context.Context, roomID int64) error {
	if !p.confirm("Leave this room?") {
		return ErrCancelled
	}
	if err := p.opts.API.Leave(ctx, roomID, p.opts.Identity().MemberID); err != nil {
		p.alert("Leave", err)
		return err
	}

	p.mu.Lock()
	if p.roomID == roomID {
		p.open = false
		p.members = nil
		p.seq++
	}
	p.mu.Unlock()

	if p.opts.ForgetRoom != nil {
		p.opts.ForgetRoom(ctx, roomID)
	}
	if p.opts.Navigator != nil {
		p.opts.Navigator.LeaveRoom(roomID)
	}
	p.opts.ReloadDirectory()
	return nil
}

func (p *Panel) refreshRoom(ctx context.Context, roomID int64) error {
	p.mu.Lock()
	showing := p.open && p.roomID == roomID
	p.mu.Unlock()
	if !showing {
		return nil
	}
	return p.Refresh(ctx)
}

func (p *Panel) nameOf(memberID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.MemberID == memberID {
			return m.Name
		}
	}
	return fmt.Sprintf("member %d", memberID)
}

func (p *Panel) confirm(prompt string) bool {
	if p.opts.Confirmer == nil {
		return false
	}
	return p.opts.Confirmer.Confirm(prompt)
}

func (p *Panel) alert(title string, err error) {
	if p.opts.Presenter != nil {
		p.opts.Presenter.Alert(title, models.UserMessage(err))
	}
}
