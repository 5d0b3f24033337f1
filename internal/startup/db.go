package startup

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
)

// ConnectDBWithRetry подключается к Postgres с повторами; если БД не поднялась за maxWait, процесс завершается.
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration) *pgxpool.Pool {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pool, err := connectDB(poolCfg)
		if err == nil {
			return pool
		}
		if time.Now().After(deadline) {
			logger.Errorf("db connect (gave up after %v): %v", maxWait, err)
			logger.Flush()
			os.Exit(1)
		}
		logger.Errorf("db connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

func connectDB(poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	cancel()
	if err != nil {
		return nil, err
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = pool.Ping(pingCtx)
	pingCancel()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func nextBackoff(d time.Duration) time.Duration {
	if d < 30*time.Second {
		return d * 2
	}
	return d
}
