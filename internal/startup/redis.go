package startup

import (
	"context"
	"os"
	"time"

	"github.com/chatsync/internal/logger"
	redisstorage "github.com/chatsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration) *redisstorage.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL)
		cancel()
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis (gave up after %v): %v", maxWait, err)
			logger.Flush()
			os.Exit(1)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}
