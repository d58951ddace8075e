// internal/events/redis_publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher публикует события в Redis Pub/Sub.
// Подписчики на стороне доставки (websocket-шлюз, боты) читают канал sessions:<id>.
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisPublisher создаёт публикатор поверх готового клиента
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		timeout: 3 * time.Second,
	}
}

// Publish сериализует событие и отправляет его в канал
func (p *RedisPublisher) Publish(channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", channel, err)
	}
	return nil
}
