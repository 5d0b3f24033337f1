package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

const help = `commands:
  list               show chats
  open <n|key>       open chat by list number or chat key
  search <query>     find users by name or phone
  with <n>           open chat with user from last search
  send <text>        send message to open chat
  help               show this help
  quit               exit`

// consoleView печатает обновления контроллера в w.
type consoleView struct {
	mu sync.Mutex
	w  io.Writer
}

func (v *consoleView) Messages(u chat.MessagesUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	title := u.Ref.Key()
	if u.Provisional {
		title += " (new)"
	}
	fmt.Fprintf(v.w, "== %s ==\n", title)
	if len(u.Messages) == 0 {
		fmt.Fprintln(v.w, "  no messages yet")
	}
	for _, m := range u.Messages {
		mark := ""
		if m.IsOwn && m.IsRead {
			mark = " [read]"
		}
		fmt.Fprintf(v.w, "  %s %s: %s%s\n", m.Timestamp, m.Sender, m.Content, mark)
	}
}

func (v *consoleView) ChatList(chats []model.ChatSummary) {
	v.mu.Lock()
	defer v.mu.Unlock()
	unread := 0
	for _, c := range chats {
		unread += c.UnreadCount
	}
	fmt.Fprintf(v.w, "-- %d chats, %d unread --\n", len(chats), unread)
}

func (v *consoleView) Error(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "error: %v\n", err)
}

func (v *consoleView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, format, args...)
}

// console разбирает команды пользователя и вызывает Controller.
type console struct {
	ctl    *chat.Controller
	store  store.Store
	view   *consoleView
	found  []model.Profile
	shown  []model.ChatSummary
	selfID string
}

var errQuit = errors.New("quit")

// run читает команды из r до EOF или quit.
func (c *console) run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		err := c.exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			c.view.Error(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "list":
		c.printList()
		return nil
	case "open":
		return c.open(ctx, arg)
	case "search":
		users, err := c.ctl.SearchUsers(ctx, arg)
		if err != nil {
			return err
		}
		c.found = users
		if len(users) == 0 {
			c.view.printf("nobody found\n")
		}
		for i, u := range users {
			c.view.printf("  %d. %s %s\n", i+1, u.DisplayName(), u.PhoneNo)
		}
		return nil
	case "with":
		i, err := pick(arg, len(c.found))
		if err != nil {
			return err
		}
		_, err = c.ctl.OpenWith(ctx, c.found[i])
		return err
	case "send":
		return c.ctl.Send(ctx, arg)
	case "help":
		c.view.printf("%s\n", help)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (c *console) printList() {
	c.shown = c.ctl.Chats()
	if len(c.shown) == 0 {
		c.view.printf("no chats\n")
	}
	for i, s := range c.shown {
		name := s.Name
		for _, p := range s.Participants {
			if !s.IsGroup && p.ID != c.selfID {
				name = p.DisplayName()
			}
		}
		preview := ""
		if s.LastMessage != nil {
			preview = s.LastMessage.SenderName + ": " + s.LastMessage.Content
		}
		badge := ""
		if s.UnreadCount > 0 {
			badge = fmt.Sprintf(" (%d)", s.UnreadCount)
		}
		c.view.printf("  %d. %s%s  %s  [%s]\n", i+1, name, badge, preview, s.ID)
	}
}

func (c *console) open(ctx context.Context, arg string) error {
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 1 || i > len(c.shown) {
			return fmt.Errorf("no chat #%d, run list", i)
		}
		return c.ctl.Select(ctx, model.Persisted{ID: c.shown[i-1].ID})
	}
	ref, err := model.ParseRef(arg)
	if err != nil {
		return err
	}
	if p, ok := ref.(model.Provisional); ok {
		target, err := c.store.GetProfile(ctx, p.Target.ID)
		if err != nil {
			return fmt.Errorf("open %s: %w", arg, err)
		}
		p.Target = *target
		ref = p
	}
	return c.ctl.Select(ctx, ref)
}

func pick(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("pick a number from 1 to %d", n)
	}
	return i - 1, nil
}
