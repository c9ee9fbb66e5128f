package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "linktags:bridge"

// RedisBus broadcasts frames over a Redis Pub/Sub channel so the engine
// and the websocket bridge can live in different processes.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

// NewRedisBus creates a bus on channel.
func NewRedisBus(client *redis.Client, channel string, log logger.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisBus{client: client, channel: channel, log: log}
}

// Publish sends msg to every subscriber of the channel.
func (b *RedisBus) Publish(ctx context.Context, msg []byte) error {
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then relays
// frames to h until cancel is called.
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := ps.Channel()
	go func() {
		for m := range ch {
			h([]byte(m.Payload))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				b.log.Warn("failed to close subscription", logger.String("channel", b.channel), logger.Error(err))
			}
		})
	}
	return cancel, nil
}
