package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/astrokit/sequencer/common/logger"
)

// eventChannelPattern matches the per-run channels the engine's Redis
// publisher writes to
const eventChannelPattern = "sequence:events:*"

// RedisSubscriber listens to the progress pub/sub channels and forwards
// snapshots to the hub
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Start subscribes and forwards messages until the context is cancelled
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, eventChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventChannelPattern, err)
	}
	s.log.Info("redis subscriber started", "pattern", eventChannelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}

			runID := runIDFromChannel(msg.Channel)
			if runID == "" {
				s.log.Warn("unexpected channel format", "channel", msg.Channel)
				continue
			}

			s.hub.broadcast <- &Message{
				RunID: runID,
				Data:  []byte(msg.Payload),
			}
		}
	}
}

// runIDFromChannel extracts the run ID from a channel name.
// Example: "sequence:events:7b0c..." -> "7b0c..."
func runIDFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "sequence" || parts[1] != "events" {
		return ""
	}
	return parts[2]
}
