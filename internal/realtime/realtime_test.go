package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/feed/ws"
	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/model"
	sessmem "github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/store/memory"
)

type gateway struct {
	srv      *httptest.Server
	hub      *Hub
	store    *memory.Store
	sessions *identity.Sessions

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// newGateway поднимает шлюз в режиме -dev: POST /auth/sign-in доступен.
func newGateway(t *testing.T) *gateway {
	return startGateway(t, true)
}

func startGateway(t *testing.T, devSignIn bool) *gateway {
	t.Helper()
	st := memory.New()
	st.PutProfile(model.Profile{ID: "u-alice", UserName: "Alice"})
	st.PutProfile(model.Profile{ID: "u-bob", UserName: "Bob"})

	hub := NewHub(config.RealtimeConfig{}, MemberAuthorizer{Store: st})
	ctx, cancel := context.WithCancel(context.Background())
	g := &gateway{hub: hub, store: st, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(g.done)
		hub.Run(ctx)
	}()

	g.sessions = identity.NewSessions(sessmem.New(), st, time.Hour)
	g.srv = httptest.NewServer(NewRouter(NewHandler(hub, g.sessions, "*"), []string{"*"}, devSignIn))
	t.Cleanup(func() {
		g.stopHub()
		g.srv.Close()
	})
	return g
}

// stopHub останавливает hub; он закрывает все WebSocket-соединения.
func (g *gateway) stopHub() {
	g.stopOnce.Do(func() {
		g.cancel()
		<-g.done
	})
}

func (g *gateway) signIn(t *testing.T, userID string) string {
	t.Helper()
	body, _ := json.Marshal(signInRequest{UserID: userID})
	resp, err := http.Post(g.srv.URL+"/auth/sign-in", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign in status = %d", resp.StatusCode)
	}
	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode sign in: %v", err)
	}
	return out.SessionID
}

func (g *gateway) dial(t *testing.T, sessionID string) *ws.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/realtime"
	c, err := ws.Dial(context.Background(), url, ws.Header(sessionID))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	waitFor(t, "connection registered", func() bool {
		conns, _ := g.hub.Stats()
		return conns > 0
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRealtimeRejectsWithoutSession(t *testing.T) {
	g := newGateway(t)
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/realtime"
	if _, err := ws.Dial(context.Background(), url, nil); err == nil {
		t.Fatal("dial without session succeeded")
	}

	resp, err := http.Post(g.srv.URL+"/auth/sign-in", "application/json", strings.NewReader(`{"user_id":"u-nobody"}`))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user status = %d", resp.StatusCode)
	}
}

func TestRealtimeDeliversFilteredInserts(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	chatID := mustChat(t, g.store, "u-alice", "u-bob")
	c := g.dial(t, g.signIn(t, "u-alice"))

	var mu sync.Mutex
	var got []model.Message
	h, err := c.Subscribe(ctx, feed.TableMessages, feed.Eq("chat_id", chatID), func(ev feed.Event) {
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for _, m := range []model.Message{
		{ID: "m-other", ChatID: "another-chat", SenderID: "u-bob"},
		{ID: "m1", ChatID: chatID, SenderID: "u-bob", Content: "hi"},
	} {
		ev, _ := feed.NewEvent(feed.TableMessages, m)
		if err := g.hub.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, "insert delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0].ID != "m1" {
		t.Fatalf("got %+v", got)
	}
	mu.Unlock()

	if err := c.Unsubscribe(h); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	waitFor(t, "join released", func() bool {
		_, joins := g.hub.Stats()
		return joins == 0
	})
}

func TestRealtimeDeniesNonMember(t *testing.T) {
	g := newGateway(t)
	chatID := mustChat(t, g.store, "u-bob", "u-carol")
	c := g.dial(t, g.signIn(t, "u-alice"))

	_, err := c.Subscribe(context.Background(), feed.TableMessages, feed.Eq("chat_id", chatID), func(feed.Event) {})
	if err == nil {
		t.Fatal("non-member join succeeded")
	}
	if _, joins := g.hub.Stats(); joins != 0 {
		t.Fatalf("joins = %d", joins)
	}
}

type lastMessagesView struct {
	mu   sync.Mutex
	last chat.MessagesUpdate
	errs []error
}

func (v *lastMessagesView) Messages(u chat.MessagesUpdate) {
	v.mu.Lock()
	v.last = u
	v.mu.Unlock()
}
func (v *lastMessagesView) ChatList([]model.ChatSummary) {}
func (v *lastMessagesView) Error(err error) {
	v.mu.Lock()
	v.errs = append(v.errs, err)
	v.mu.Unlock()
}

func (v *lastMessagesView) failedWith(target error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, err := range v.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (v *lastMessagesView) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.last.Messages)
}

// Alice держит чат открытым через WebSocket-ленту; Bob пишет через Store, публикующий в hub.
func TestControllerOverRealtime(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	chatID := mustChat(t, g.store, "u-alice", "u-bob")
	c := g.dial(t, g.signIn(t, "u-alice"))

	pub := store.NewPublishing(g.store, g.hub)
	view := &lastMessagesView{}
	ctl := chat.NewController(pub, c, "u-alice", view, chat.Options{})
	defer ctl.Close()

	if err := ctl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctl.Select(ctx, model.Persisted{ID: chatID}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, joins := g.hub.Stats(); joins != 4 {
		t.Fatalf("joins = %d, want 4", joins)
	}

	if _, err := pub.InsertMessage(ctx, chatID, "u-bob", "over the wire"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	waitFor(t, "message pushed to controller", func() bool { return view.count() == 1 })
	waitFor(t, "pushed message marked read", func() bool {
		n, _ := chat.NewReadState(g.store).UnreadCount(ctx, chatID, "u-alice")
		return n == 0
	})

	if err := ctl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, "joins released", func() bool {
		_, joins := g.hub.Stats()
		return joins == 0
	})
}

func TestControllerReportsLostFeed(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	chatID := mustChat(t, g.store, "u-alice", "u-bob")
	c := g.dial(t, g.signIn(t, "u-alice"))

	view := &lastMessagesView{}
	ctl := chat.NewController(store.NewPublishing(g.store, g.hub), c, "u-alice", view, chat.Options{})
	defer ctl.Close()
	if err := ctl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctl.Select(ctx, model.Persisted{ID: chatID}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if view.failedWith(feed.ErrDisconnected) {
		t.Fatal("disconnect reported before the gateway went away")
	}

	g.stopHub()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("ws client did not notice the dropped connection")
	}
	waitFor(t, "disconnect reported to view", func() bool { return view.failedWith(feed.ErrDisconnected) })
}

func TestSignInIsDevOnly(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t, false)
	chatID := mustChat(t, g.store, "u-bob", "u-alice")
	gw := ws.NewGateway("ws" + strings.TrimPrefix(g.srv.URL, "http") + "/realtime")

	if _, err := gw.SignIn(ctx, "u-bob"); !errors.Is(err, ws.ErrSignInDisabled) {
		t.Fatalf("SignIn err = %v, want ErrSignInDisabled", err)
	}

	// Боевой путь: сессию кладёт identity-провайдер в общее хранилище.
	sid, err := g.sessions.SignIn(ctx, "u-alice")
	if err != nil {
		t.Fatalf("sessions.SignIn: %v", err)
	}
	u, err := gw.Me(ctx, sid)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if u.ID != "u-alice" {
		t.Fatalf("Me = %+v", u)
	}
	c := g.dial(t, sid)
	if _, err := c.Subscribe(ctx, feed.TableMessages, feed.Eq("chat_id", chatID), func(feed.Event) {}); err != nil {
		t.Fatalf("member join: %v", err)
	}

	if err := gw.SignOut(ctx, sid); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := gw.Me(ctx, sid); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("Me after sign out err = %v", err)
	}
}

func TestGatewayClientDevSignIn(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	gw := ws.NewGateway("ws" + strings.TrimPrefix(g.srv.URL, "http") + "/realtime/")

	if _, err := gw.SignIn(ctx, "u-nobody"); !errors.Is(err, identity.ErrUnknownUser) {
		t.Fatalf("unknown user err = %v", err)
	}
	sid, err := gw.SignIn(ctx, "u-bob")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	u, err := gw.Me(ctx, sid)
	if err != nil || u.ID != "u-bob" {
		t.Fatalf("Me = %+v, %v", u, err)
	}
	c, err := ws.Dial(ctx, gw.RealtimeURL(), ws.Header(sid))
	if err != nil {
		t.Fatalf("Dial %s: %v", gw.RealtimeURL(), err)
	}
	c.Close()
}

func mustChat(t *testing.T, st store.Store, userIDs ...string) string {
	t.Helper()
	ctx := context.Background()
	c, err := st.CreateConversation(ctx, "", false)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	members := make([]model.ChatMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, model.ChatMember{UserID: id, Role: model.RoleMember})
	}
	if err := st.AddMembers(ctx, c.ID, members); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	return c.ID
}
