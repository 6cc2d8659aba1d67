package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ecochat/internal/app"
	"ecochat/internal/membership"
	"ecochat/internal/thread"
	"ecochat/internal/ui"
	"ecochat/models"
)

const helpText = `Commands:
  /rooms                   list rooms
  /open <room>             open a room
  <text> | /send <text>    send a message to the open room
  /reply <msg> [text]      reply, or set the target; /reply clears it
  /attach <path>           upload and send a file
  /older                   load older messages
  /up [n] | /down [n]      scroll the message window
  /search <kw> | /next | /prev | /endsearch
  /react <msg> <emoji>     toggle a reaction
  /delete <msg>            delete one of your messages
  /notice <msg> | /unnotice
  /fav <room>              toggle favorite
  /accept <room> | /reject <room>
  /members | /invite <id...> | /kick <id> | /owner <id>
  /rename <title> | /image <path> | /leave
  /info                    room details
  /quit`

type command func(ctx context.Context, args []string) error

type repl struct {
	client   *app.App
	console  *ui.Console
	viewport *ui.TerminalViewport
	commands map[string]command
}

func newREPL(client *app.App, console *ui.Console, viewport *ui.TerminalViewport) *repl {
	r := &repl{client: client, console: console, viewport: viewport}
	r.commands = map[string]command{
		"help":      r.help,
		"rooms":     r.rooms,
		"open":      r.open,
		"send":      r.send,
		"reply":     r.reply,
		"attach":    r.attach,
		"older":     r.older,
		"up":        r.scroll(-1),
		"down":      r.scroll(1),
		"search":    r.search,
		"next":      r.searchStep(true),
		"prev":      r.searchStep(false),
		"endsearch": r.endSearch,
		"react":     r.react,
		"delete":    r.delete,
		"notice":    r.notice,
		"unnotice":  r.unnotice,
		"fav":       r.roomAction(r.client.Directory.ToggleFavorite),
		"accept":    r.roomAction(r.client.Directory.Accept),
		"reject":    r.roomAction(r.client.Directory.Reject),
		"members":   r.members,
		"invite":    r.invite,
		"kick":      r.memberAction(r.client.Panel.Kick),
		"owner":     r.memberAction(r.client.Panel.TransferOwner),
		"rename":    r.rename,
		"image":     r.image,
		"leave":     r.leave,
		"info":      r.info,
	}
	return r
}

// loop runs commands until /quit, EOF or ctx ends. Commands run on this
// goroutine so confirmation prompts can read the same scanner.
func (r *repl) loop(ctx context.Context, in *bufio.Scanner) error {
	for ctx.Err() == nil && in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := r.exec(ctx, line); err != nil && !errors.Is(err, membership.ErrCancelled) {
			r.console.Alert("Error", models.UserMessage(err))
		}
	}
	return in.Err()
}

func (r *repl) exec(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, []string{line})
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	cmd, ok := r.commands[name]
	if !ok {
		return models.NewValidationError("unknown command /" + name + ", try /help")
	}
	return cmd(ctx, strings.Fields(rest))
}

func parseID(args []string, i int, what string) (int64, error) {
	if len(args) <= i {
		return 0, models.NewValidationError(what + " is required")
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, models.NewValidationError(fmt.Sprintf("%s must be a number, got %q", what, args[i]))
	}
	return id, nil
}

func (r *repl) openRoom() (int64, error) {
	id := r.client.Thread.RoomID()
	if id == 0 {
		return 0, models.NewValidationError("no room is open, use /open <room>")
	}
	return id, nil
}

func (r *repl) help(context.Context, []string) error {
	r.console.Muted(helpText)
	return nil
}

func (r *repl) rooms(context.Context, []string) error {
	rooms := r.client.Directory.Rooms()
	if len(rooms) == 0 {
		r.console.Muted("no rooms yet")
		return nil
	}
	for _, room := range rooms {
		marker := " "
		if room.Favorite {
			marker = "★"
		}
		if room.InvitationStatus == models.InvitationPending {
			marker = "✉"
		}
		line := fmt.Sprintf("%s %4d  %-24s", marker, room.ChatRoomID, room.DisplayTitle())
		if room.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d)", room.UnreadCount)
		}
		r.console.Println(line)
	}
	r.console.Muted(fmt.Sprintf("%d unread", r.client.Directory.TotalUnread()))
	return nil
}

func (r *repl) open(_ context.Context, args []string) error {
	id, err := parseID(args, 0, "room")
	if err != nil {
		return err
	}
	r.client.EnterRoom(id)
	if info, ok := r.client.Thread.Info(); ok {
		r.console.Title(info.Title)
	}
	return nil
}

func (r *repl) send(ctx context.Context, args []string) error {
	r.client.Thread.SetInput(strings.Join(args, " "))
	return r.client.Thread.Send(ctx)
}

func (r *repl) reply(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return r.client.Thread.SetReplyTarget(0)
	}
	id, err := parseID(args, 0, "message")
	if err != nil {
		return err
	}
	if err := r.client.Thread.SetReplyTarget(id); err != nil {
		return err
	}
	if len(args) > 1 {
		return r.send(ctx, args[1:])
	}
	if target, ok := r.client.Thread.ReplyTarget(); ok {
		r.console.Muted("replying to " + target.SenderName + ": " + target.Content)
	}
	return nil
}

func (r *repl) attach(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return models.NewValidationError("path is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	defer f.Close()
	return r.client.Thread.SendAttachment(ctx, filepath.Base(args[0]), f)
}

func (r *repl) older(ctx context.Context, _ []string) error {
	if err := r.client.Thread.LoadOlder(ctx); err != nil {
		return err
	}
	if !r.client.Thread.HasMore() {
		r.console.Muted("beginning of conversation")
	}
	return nil
}

func (r *repl) scroll(dir int) command {
	return func(ctx context.Context, args []string) error {
		n := 5
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return models.NewValidationError("lines must be a number")
			}
			n = v
		}
		m := r.viewport.ScrollBy(dir * n)
		r.client.Thread.OnScroll()
		if dir < 0 && m.ScrollTop <= 0 && r.client.Thread.HasMore() {
			return r.older(ctx, nil)
		}
		return nil
	}
}

func (r *repl) printSearch(res thread.SearchResult) {
	if res.Total == 0 {
		r.console.Muted("no matches for " + strconv.Quote(res.Keyword))
		return
	}
	more := ""
	if !res.Exhausted {
		more = "+"
	}
	r.console.Muted(fmt.Sprintf("match %d/%d%s for %q", res.Index+1, res.Total, more, res.Keyword))
}

func (r *repl) search(ctx context.Context, args []string) error {
	res, err := r.client.Thread.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	r.printSearch(res)
	return nil
}

func (r *repl) searchStep(forward bool) command {
	return func(ctx context.Context, _ []string) error {
		var (
			res thread.SearchResult
			err error
		)
		if forward {
			res, err = r.client.Thread.SearchNext(ctx)
		} else {
			res, err = r.client.Thread.SearchPrev(ctx)
		}
		if err != nil {
			return err
		}
		r.printSearch(res)
		return nil
	}
}

func (r *repl) endSearch(context.Context, []string) error {
	r.client.Thread.ClearSearch()
	return nil
}

func (r *repl) react(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "message")
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return models.NewValidationError("emoji is required")
	}
	return r.client.Thread.React(ctx, id, args[1])
}

func (r *repl) delete(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "message")
	if err != nil {
		return err
	}
	if !r.console.Confirm("Delete this message?") {
		return nil
	}
	return r.client.Thread.DeleteMessage(ctx, id)
}

func (r *repl) notice(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "message")
	if err != nil {
		return err
	}
	return r.client.Thread.SetNotice(ctx, id)
}

func (r *repl) unnotice(ctx context.Context, _ []string) error {
	return r.client.Thread.ClearNotice(ctx)
}

func (r *repl) roomAction(fn func(ctx context.Context, roomID int64) error) command {
	return func(ctx context.Context, args []string) error {
		id, err := parseID(args, 0, "room")
		if err != nil {
			return err
		}
		return fn(ctx, id)
	}
}

func (r *repl) members(ctx context.Context, _ []string) error {
	roomID, err := r.openRoom()
	if err != nil {
		return err
	}
	if err := r.client.Panel.Open(ctx, roomID); err != nil {
		return err
	}
	for _, m := range r.client.Panel.Members() {
		r.console.Println(fmt.Sprintf("%6d  %-20s %s", m.MemberID, m.Name, m.Role))
	}
	return nil
}

func (r *repl) invite(ctx context.Context, args []string) error {
	roomID, err := r.openRoom()
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(args))
	for i := range args {
		id, err := parseID(args, i, "member")
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return r.client.Panel.Invite(ctx, roomID, ids)
}

func (r *repl) memberAction(fn func(ctx context.Context, roomID, memberID int64) error) command {
	return func(ctx context.Context, args []string) error {
		roomID, err := r.openRoom()
		if err != nil {
			return err
		}
		memberID, err := parseID(args, 0, "member")
		if err != nil {
			return err
		}
		return fn(ctx, roomID, memberID)
	}
}

func (r *repl) rename(ctx context.Context, args []string) error {
	roomID, err := r.openRoom()
	if err != nil {
		return err
	}
	return r.client.Panel.Rename(ctx, roomID, strings.Join(args, " "))
}

func (r *repl) image(ctx context.Context, args []string) error {
	roomID, err := r.openRoom()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return models.NewValidationError("path is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	defer f.Close()
	return r.client.Panel.SetImage(ctx, roomID, filepath.Base(args[0]), f)
}

func (r *repl) leave(ctx context.Context, _ []string) error {
	roomID, err := r.openRoom()
	if err != nil {
		return err
	}
	return r.client.Panel.Leave(ctx, roomID)
}

func (r *repl) info(context.Context, []string) error {
	info, ok := r.client.Thread.Info()
	if !ok {
		return models.NewValidationError("no room details loaded")
	}
	out, err := yaml.Marshal(info)
	if err != nil {
		return err
	}
	r.console.Println(strings.TrimRight(string(out), "\n"))
	return nil
}
