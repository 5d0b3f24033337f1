// Команда realtime — WebSocket-шлюз ленты изменений: слушает NOTIFY из Postgres и раздаёт
// вставки в messages и message_read_status подписанным клиентам.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/feed"
	natsfeed "github.com/chatsync/internal/feed/nats"
	"github.com/chatsync/internal/feed/pgnotify"
	redisfeed "github.com/chatsync/internal/feed/redis"
	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	sessmem "github.com/chatsync/internal/storage/memory"
)

func main() {
	logger.SetPrefix("realtime")
	defer logger.Flush()

	migrateOnly := flag.Bool("migrate", false, "apply migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL, in-memory sessions and POST /auth/sign-in")
	flag.Parse()

	logger.Info("starting realtime gateway")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startup.StartEmbeddedPostgres(cfg, 5432)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			logger.Flush()
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		logger.Flush()
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = startup.RunMigrations(migrateCtx, pool)
	migrateCancel()
	if err != nil {
		logger.Errorf("migrations: %v", err)
		return
	}
	if *migrateOnly {
		return
	}
	logger.Info("database connected, migrations applied")

	repo := repository.New(pool)

	var sessionStore storage.SessionStore
	publishers := feed.Fanout{}
	if !*dev || cfg.Feed.Driver == config.FeedRedis {
		rdb := startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second)
		defer rdb.Close()
		sessionStore = rdb
		if cfg.Feed.Driver == config.FeedRedis {
			publishers = append(publishers, redisfeed.New(rdb.Redis()))
			logger.Info("fan-out to redis pub/sub enabled")
		}
	} else {
		sessionStore = sessmem.New()
		logger.Info("using in-memory sessions")
	}
	if cfg.Feed.Driver == config.FeedNATS {
		nc := startup.ConnectNATSWithRetry(cfg.NATSURL, "chatsync-realtime", 60*time.Second)
		defer nc.Close()
		publishers = append(publishers, natsfeed.New(nc))
		logger.Info("fan-out to nats enabled")
	}

	sessions := identity.NewSessions(sessionStore, repo, cfg.SessionTTL)
	hub := realtime.NewHub(cfg.Realtime, realtime.MemberAuthorizer{Store: repo})
	publishers = append(publishers, hub)

	runCtx, runCancel := context.WithCancel(context.Background())
	var runWg sync.WaitGroup
	runWg.Add(2)
	go func() {
		defer runWg.Done()
		hub.Run(runCtx)
	}()
	go func() {
		defer runWg.Done()
		if err := pgnotify.New(pool, publishers).Run(runCtx); err != nil {
			logger.Errorf("pgnotify: %v", err)
		}
	}()

	h := realtime.NewHandler(hub, sessions, cfg.CORSAllowedOrigins)
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      realtime.NewRouter(h, splitOrigins(cfg.CORSAllowedOrigins), *dev),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	runCancel()
	runWg.Wait()
	logger.Info("hub and listener stopped")
	srvWg.Wait()
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
