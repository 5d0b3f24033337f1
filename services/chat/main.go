// Команда chat — терминальный клиент синхронизации чатов: список, окно чата, поиск собеседника
// и отправка сообщений поверх выбранной ленты изменений.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/feed"
	memfeed "github.com/chatsync/internal/feed/memory"
	natsfeed "github.com/chatsync/internal/feed/nats"
	redisfeed "github.com/chatsync/internal/feed/redis"
	"github.com/chatsync/internal/feed/ws"
	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/startup"
	redisstorage "github.com/chatsync/internal/storage/redis"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/store/memory"
)

func main() {
	logger.SetPrefix("chat")
	defer logger.Flush()

	userID := flag.String("user", "", "user id to act as")
	sessionID := flag.String("session", "", "existing session id (resolved through the ws gateway, otherwise redis)")
	driver := flag.String("feed", "", "change feed: memory, redis, nats or ws (default from config)")
	dev := flag.Bool("dev", false, "in-memory store with demo users, memory feed")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *driver != "" {
		cfg.Feed.Driver = strings.ToLower(*driver)
	}
	if *dev {
		cfg.Feed.Driver = config.FeedMemory
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var base store.Store
	if *dev {
		base = demoStore()
		if *userID == "" {
			*userID = "u-alice"
		}
	} else {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			fatalf("parse db config: %v", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		pool := startup.ConnectDBWithRetry(poolCfg, 30*time.Second)
		defer pool.Close()
		base = repository.New(pool)
	}

	var rdb *redisstorage.Client
	if cfg.Feed.Driver == config.FeedRedis || (*sessionID != "" && cfg.Feed.Driver != config.FeedWS) {
		rdb = startup.ConnectRedisWithRetry(cfg.RedisURL, 30*time.Second)
		defer rdb.Close()
	}

	var me *identity.CurrentUser
	var session *gatewaySession
	var err error
	switch {
	case cfg.Feed.Driver == config.FeedWS:
		// Сессию проверяет тот же шлюз, к которому потом подключается лента.
		session, err = openGatewaySession(ctx, ws.NewGateway(cfg.Feed.RealtimeURL), *userID, *sessionID)
		if err != nil {
			fatalf("gateway session: %v", err)
		}
		defer session.close()
		me = session.user
	case *sessionID != "":
		me, err = identity.NewSessions(rdb, base, cfg.SessionTTL).Session(*sessionID).CurrentUser(ctx)
	default:
		if *userID == "" {
			fatalf("either -user or -session is required")
		}
		p, perr := base.GetProfile(ctx, *userID)
		if perr != nil {
			fatalf("load profile %s: %v", *userID, perr)
		}
		me, err = identity.Static{User: identity.CurrentUser{ID: p.ID, DisplayName: p.DisplayName()}}.CurrentUser(ctx)
	}
	if err != nil {
		fatalf("current user: %v", err)
	}

	st, f, lost, closeFeed := openFeed(ctx, cfg, base, rdb, me.ID, session)
	defer closeFeed()

	view := &consoleView{w: os.Stdout}
	ctl := chat.NewController(st, f, me.ID, view, chat.Options{SearchLimit: cfg.SearchLimit})
	defer func() {
		if err := ctl.Close(); err != nil {
			logger.Errorf("controller close: %v", err)
		}
	}()
	if err := ctl.Start(ctx); err != nil {
		fatalf("start: %v", err)
	}

	view.printf("signed in as %s (%s), feed %s\n%s\n", me.DisplayName, me.ID, cfg.Feed.Driver, help)
	c := &console{ctl: ctl, store: st, view: view, selfID: me.ID}
	c.printList()

	done := make(chan error, 1)
	go func() { done <- c.run(ctx, os.Stdin) }()
	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			logger.Errorf("console: %v", err)
		}
	case <-ctx.Done():
	case <-lost:
		// Controller уже сообщил в View; без ленты окно не обновляется, поэтому выходим.
		logger.Errorf("feed %s lost, exiting", cfg.Feed.Driver)
	}
}

// gatewaySession — сессия на realtime-шлюзе. Открытую здесь (по -user) закрываем при выходе.
type gatewaySession struct {
	gw    *ws.Gateway
	id    string
	user  *identity.CurrentUser
	owned bool
}

func openGatewaySession(ctx context.Context, gw *ws.Gateway, userID, sessionID string) (*gatewaySession, error) {
	s := &gatewaySession{gw: gw, id: sessionID}
	if sessionID == "" {
		if userID == "" {
			return nil, fmt.Errorf("either -user or -session is required")
		}
		sid, err := gw.SignIn(ctx, userID)
		if errors.Is(err, ws.ErrSignInDisabled) {
			return nil, fmt.Errorf("%w: pass -session issued by the identity provider", err)
		}
		if err != nil {
			return nil, err
		}
		s.id, s.owned = sid, true
	}
	u, err := gw.Me(ctx, s.id)
	if err != nil {
		s.close()
		return nil, err
	}
	s.user = u
	return s, nil
}

func (s *gatewaySession) close() {
	if !s.owned {
		return
	}
	s.owned = false
	if err := s.gw.SignOut(context.Background(), s.id); err != nil {
		logger.Errorf("sign out: %v", err)
	}
}

// openFeed собирает Store и Feed под драйвер. Для memory запись идёт через store.Publishing,
// для внешних лент события приходят от realtime-шлюза. lost закрывается при потере соединения
// ws; Redis и NATS переподключаются сами, для них lost — nil.
func openFeed(ctx context.Context, cfg *config.Config, base store.Store, rdb *redisstorage.Client, userID string, session *gatewaySession) (store.Store, feed.Feed, <-chan struct{}, func()) {
	switch cfg.Feed.Driver {
	case config.FeedRedis:
		return base, redisfeed.New(rdb.Redis()), nil, func() {}
	case config.FeedNATS:
		nc := startup.ConnectNATSWithRetry(cfg.NATSURL, "chatsync-chat-"+userID, 30*time.Second)
		return base, natsfeed.New(nc), nil, nc.Close
	case config.FeedWS:
		url := session.gw.RealtimeURL()
		client, err := ws.Dial(ctx, url, ws.Header(session.id))
		if err != nil {
			fatalf("dial %s: %v", url, err)
		}
		return base, client, client.Done(), func() { client.Close() }
	default:
		broker := memfeed.New()
		return store.NewPublishing(base, broker), broker, nil, func() {}
	}
}

// demoStore — хранилище в памяти с тремя пользователями для -dev.
func demoStore() *memory.Store {
	st := memory.New()
	for _, p := range []model.Profile{
		{ID: "u-alice", UserName: "Alice", PhoneNo: "+10000000001"},
		{ID: "u-bob", UserName: "Bob", PhoneNo: "+10000000002"},
		{ID: "u-carol", UserName: "Carol", PhoneNo: "+10000000003"},
	} {
		st.PutProfile(p)
	}
	return st
}

func fatalf(format string, args ...any) {
	logger.Errorf(format, args...)
	logger.Flush()
	os.Exit(1)
}
