package startup

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chatsync/internal/logger"
)

// ConnectNATSWithRetry подключается к NATS с повторами. После подключения переподключения
// делает сам клиент.
func ConnectNATSWithRetry(natsURL, name string, maxWait time.Duration) *nats.Conn {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		nc, err := nats.Connect(natsURL,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Errorf("nats disconnected: %v", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Infof("nats reconnected to %s", c.ConnectedUrl())
			}),
		)
		if err == nil {
			return nc
		}
		if time.Now().After(deadline) {
			logger.Errorf("nats (gave up after %v): %v", maxWait, err)
			logger.Flush()
			os.Exit(1)
		}
		logger.Errorf("nats connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}
