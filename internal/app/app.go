// Package app wires the chat core together: one transport session, the
// identity event bus, the room directory, the message thread and the
// membership panel, plus the local diagnostics server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ecochat/internal/api"
	"ecochat/internal/auth"
	"ecochat/internal/cache"
	"ecochat/internal/config"
	"ecochat/internal/directory"
	"ecochat/internal/featureflags"
	"ecochat/internal/membership"
	"ecochat/internal/notifications"
	"ecochat/internal/observability"
	"ecochat/internal/schedule"
	"ecochat/internal/server"
	"ecochat/internal/thread"
	"ecochat/internal/transport"
	"ecochat/internal/ui"
	"ecochat/models"
)

// Shell is what the front end provides: alerts, toasts and confirmations.
type Shell interface {
	ui.Presenter
	ui.Confirmer
}

// App owns the shared transport session; nothing else closes it.
type App struct {
	cfg      *config.Config
	identity *auth.Session
	shell    Shell

	API       *api.Client
	Transport *transport.Session
	Bus       *notifications.Bus
	Inbox     *notifications.Inbox
	Cache     *cache.Store
	Flags     *featureflags.Manager
	Directory *directory.Directory
	Thread    *thread.Thread
	Panel     *membership.Panel

	sched *schedule.Scheduler
	diag  *server.Server
	offs  []func()
}

// Authenticate resolves the signed-in identity from ACCESS_TOKEN or, when
// it is empty, by logging in with LOGIN_EMAIL and LOGIN_PASSWORD.
func Authenticate(ctx context.Context, cfg *config.Config) (*auth.Session, error) {
	token := cfg.AccessToken
	if token == "" {
		client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, nil)
		var err error
		token, err = client.Login(ctx, cfg.LoginEmail, cfg.LoginPassword)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return auth.FromToken(token)
}

// New builds the client for identity. viewport may be nil for a headless client.
func New(cfg *config.Config, identity *auth.Session, shell Shell, viewport ui.Viewport) *App {
	a := &App{
		cfg:      cfg,
		identity: identity,
		shell:    shell,
		API:      api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, identity),
		Bus:      notifications.NewBus(),
		Inbox:    notifications.NewInbox(0),
		Cache:    cache.NewStore(cache.InitRedis(cfg.RedisURL), cfg.CacheTTL),
		Flags:    featureflags.NewManager(cfg.FeatureFlags),
		sched:    schedule.New(),
	}
	a.Transport = transport.NewSession(transport.Options{
		URL:            cfg.WSURL,
		Token:          identity.Token,
		ReconnectDelay: cfg.ReconnectDelay,
		Heartbeat:      cfg.HeartbeatInterval,
		Name:           "chat",
	})

	a.Directory = directory.New(directory.Options{
		API:       a.API,
		MemberID:  identity.MemberID(),
		Snapshots: a.Cache,
		Pending:   a.Inbox,
		Presenter: shell,
		Navigator: a,
	})
	a.Panel = membership.NewPanel(membership.Options{
		API:             a.API,
		Identity:        identity.Identity,
		Confirmer:       shell,
		Presenter:       shell,
		Navigator:       a,
		ReloadDirectory: a.Directory.RequestReload,
		ForgetRoom:      a.Cache.ForgetRoom,
	})
	a.Thread = thread.New(thread.Options{
		API:             a.API,
		Transport:       a.Transport,
		Identity:        identity.Identity,
		Viewport:        viewport,
		Presenter:       shell,
		Members:         a.Panel,
		InfoCache:       a.Cache,
		ReloadDirectory: a.Directory.RequestReload,
		Scheduler:       a.sched,
		Flags:           a.Flags,
		PageSize:        cfg.MessagePageSize,
		SearchPageSize:  cfg.SearchPageSize,
	})

	a.offs = append(a.offs,
		a.Transport.Listen(transport.UserTopic(identity.MemberID()), a.Bus.Dispatch),
		a.Transport.OnStateChange(a.connectionChanged),
		a.Directory.Subscribe(a.Bus),
		a.Thread.Subscribe(a.Bus),
		a.Bus.On(models.EventKick, a.onKick),
		a.Bus.On(models.EventLeaveRoomSuccess, a.onLeft),
		a.Bus.On(models.EventProfileUpdate, a.onProfileUpdate),
		a.Bus.OnAny([]string{models.EventNewMessage, models.EventInvitation}, a.onElsewhere),
	)

	if cfg.DiagAddr != "" {
		a.diag = server.New(server.Options{
			Addr:      cfg.DiagAddr,
			Transport: a.Transport,
			Cache:     a.Cache,
			State:     a.State,
		})
	}
	return a
}

// Identity returns the signed-in member.
func (a *App) Identity() models.Identity {
	return a.identity.Identity()
}

// Run keeps the transport connected and serves diagnostics until ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.Directory.Restore(ctx)
	go func() {
		_ = a.Directory.Load(ctx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Transport.Run(ctx)
	})
	if a.diag != nil {
		g.Go(func() error {
			if err := a.diag.Start(); err != nil {
				observability.GlobalLogger.Warn("diagnostics server stopped", slog.String("error", err.Error()))
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.diag.Shutdown(shutdownCtx); err != nil {
				observability.GlobalLogger.Warn("diagnostics shutdown", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything New acquired. Call after Run returned.
func (a *App) Close() {
	for _, off := range a.offs {
		off()
	}
	a.Thread.Close()
	a.Panel.Close()
	a.sched.Stop()
	if err := a.Cache.Close(); err != nil {
		observability.GlobalLogger.Warn("closing cache", slog.String("error", err.Error()))
	}
}

// EnterRoom opens roomID in the thread and drops its pending notices.
func (a *App) EnterRoom(roomID int64) {
	a.Inbox.ClearRoom(roomID)
	if a.Panel.IsOpen() {
		a.Panel.Close()
	}
	if err := a.Thread.Open(context.Background(), roomID); err != nil {
		observability.GlobalLogger.Warn("opening room",
			slog.Int64("room_id", roomID),
			slog.String("error", err.Error()),
		)
	}
}

// LeaveRoom closes roomID if it is the open room.
func (a *App) LeaveRoom(roomID int64) {
	if a.Thread.RoomID() != roomID {
		return
	}
	a.Thread.Close()
	a.Panel.Close()
}

func (a *App) connectionChanged(connected bool) {
	if a.shell != nil {
		a.shell.ConnectionState(connected)
	}
	a.Thread.OnConnectionChange(connected)
}

func (a *App) onKick(ev models.UserEvent) {
	if ev.ChatRoomID == 0 {
		return
	}
	if a.Thread.RoomID() == ev.ChatRoomID {
		if a.shell != nil {
			reason := ev.Reason()
			if reason == "" {
				reason = "You were removed from this room."
			}
			a.shell.BlockingAlert("Removed from room", reason)
		}
		a.LeaveRoom(ev.ChatRoomID)
	}
	a.Cache.ForgetRoom(context.Background(), ev.ChatRoomID)
}

func (a *App) onLeft(ev models.UserEvent) {
	if ev.ChatRoomID != 0 {
		a.LeaveRoom(ev.ChatRoomID)
	}
}

func (a *App) onProfileUpdate(ev models.UserEvent) {
	if a.identity.ApplyProfileUpdate(ev) {
		observability.GlobalLogger.Info("profile updated", slog.Int64("member_id", a.identity.MemberID()))
	}
}

// onElsewhere surfaces activity in rooms that are not being viewed.
func (a *App) onElsewhere(ev models.UserEvent) {
	if ev.ChatRoomID != 0 && ev.ChatRoomID == a.Thread.RoomID() {
		return
	}
	title, body := ev.RoomTitle, ev.Content
	switch ev.Kind() {
	case models.EventInvitation:
		if title == "" {
			title = "Invitation"
		}
		body = "You were invited"
		if ev.SenderName != "" {
			body = fmt.Sprintf("%s invited you", ev.SenderName)
		}
	default:
		if ev.SenderName != "" {
			body = ev.SenderName + ": " + body
		}
	}
	a.Inbox.Add(notifications.Notice{Kind: ev.Kind(), RoomID: ev.ChatRoomID, Title: title, Body: body})
	if a.shell != nil {
		a.shell.Toast(title, body)
	}
}

// State summarizes the client for the diagnostics server.
func (a *App) State() server.State {
	me := a.identity.MemberID()
	return server.State{
		Connected:   a.Transport.Connected(),
		MemberID:    me,
		OpenRoomID:  a.Thread.RoomID(),
		Rooms:       len(a.Directory.Rooms()),
		Invitations: len(a.Directory.Invited()),
		TotalUnread: a.Directory.TotalUnread(),
		Flags:       a.Flags.Snapshot(me),
	}
}
