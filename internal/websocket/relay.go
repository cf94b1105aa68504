package websocket

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/globalchat/backend/internal/logger"
)

// RelayChannel is the Redis channel every instance publishes broadcasts to.
const RelayChannel = "chat:updateMessages"

// Publisher delivers an event to every connected client. Implementations are
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event string, data any) error
}

// LocalPublisher broadcasts straight into this process's hub.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(ctx context.Context, event string, data any) error {
	payload, err := EncodeEvent(event, data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.hub.Broadcast(payload)
	return nil
}

// RedisRelay publishes events to Redis and forwards everything received on
// RelayChannel into the local hub, so clients on every instance see them.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	log    *logger.Logger
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		log:    logger.Default().WithComponent("relay"),
		done:   make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event string, data any) error {
	payload, err := EncodeEvent(event, data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes to RelayChannel. The subscription is confirmed before
// Start returns; forwarding runs until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, RelayChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer close(r.done)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.hub.Broadcast([]byte(msg.Payload))
			}
		}
	}()

	r.log.Info(ctx, "relay subscribed", map[string]interface{}{"channel": RelayChannel})
	return nil
}

// Wait blocks until the forwarding goroutine has exited.
func (r *RedisRelay) Wait() {
	<-r.done
}
