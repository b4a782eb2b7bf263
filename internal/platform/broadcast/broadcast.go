// Package broadcast tells other drg-server instances that the catalog was reloaded, over
// Redis pub/sub, so every instance serves the same snapshot generation.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "drg:catalog:reload"

// Message announces a reload by one instance.
type Message struct {
	InstanceID string    `json:"instance_id"`
	Version    string    `json:"version"`
	At         time.Time `json:"at"`
}

// Config holds broadcaster settings.
type Config struct {
	URL     string
	Channel string
}

// RedisBroadcaster publishes and receives reload messages.
type RedisBroadcaster struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, logger zerolog.Logger) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisBroadcaster(client, cfg.Channel, logger), nil
}

func newRedisBroadcaster(client *redis.Client, channel string, logger zerolog.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
		now:        time.Now,
	}
}

// InstanceID identifies this process in published messages.
func (b *RedisBroadcaster) InstanceID() string { return b.instanceID }

// Channel returns the pub/sub channel.
func (b *RedisBroadcaster) Channel() string { return b.channel }

// NotifyReload publishes that this instance now serves version.
func (b *RedisBroadcaster) NotifyReload(ctx context.Context, version string) error {
	payload, err := b.encode(version)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish reload: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) encode(version string) ([]byte, error) {
	payload, err := json.Marshal(Message{InstanceID: b.instanceID, Version: version, At: b.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode reload message: %w", err)
	}
	return payload, nil
}

// Listen calls onRemote for every reload published by another instance until ctx is
// done. Messages from this instance and undecodable payloads are skipped.
func (b *RedisBroadcaster) Listen(ctx context.Context, onRemote func(ctx context.Context, msg Message)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info().Str("channel", b.channel).Str("instance_id", b.instanceID).Msg("listening for catalog reloads")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, m.Payload, onRemote)
		}
	}
}

func (b *RedisBroadcaster) handle(ctx context.Context, payload string, onRemote func(ctx context.Context, msg Message)) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn().Err(err).Msg("ignoring malformed reload message")
		return
	}
	if msg.InstanceID == b.instanceID {
		return
	}
	b.logger.Debug().Str("from", msg.InstanceID).Str("version", msg.Version).Msg("remote catalog reload")
	onRemote(ctx, msg)
}

// Close releases the Redis client.
func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) NotifyReload(context.Context, string) error { return nil }
