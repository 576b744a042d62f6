package queue

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func redisFactory(t *testing.T, c *clock) Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client, WithKeyPrefix("test:queue"), WithClock(c.Now))
}

func TestRedisBroker(t *testing.T) { runBrokerSuite(t, redisFactory) }
