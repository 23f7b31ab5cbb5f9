package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/redis"
)

// ProgressKey is the Redis key holding the latest snapshot for a run
func ProgressKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:progress:%s", runID)
}

// EventsChannel is the pub/sub channel carrying snapshots for a run
func EventsChannel(runID uuid.UUID) string {
	return fmt.Sprintf("sequence:events:%s", runID)
}

// RedisPublisher writes every snapshot to a per-run key (so late joiners
// can read current state) and publishes it on a per-run channel (so the
// fanout service can stream it). Publish failures are logged and dropped;
// progress is advisory and must never stall the run.
type RedisPublisher struct {
	client *redis.Client
	log    Logger
	// TTL bounds how long a stale snapshot outlives its run.
	TTL time.Duration
}

// NewRedisPublisher creates a publisher with a 24h snapshot TTL
func NewRedisPublisher(client *redis.Client, log Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    log,
		TTL:    24 * time.Hour,
	}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(snapshot Progress) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.log.Error("marshal progress snapshot", "run_id", snapshot.RunID.String(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.client.SetWithExpiry(ctx, ProgressKey(snapshot.RunID), string(payload), p.TTL); err != nil {
		p.log.Warn("store progress snapshot", "run_id", snapshot.RunID.String(), "error", err)
	}
	if err := p.client.Publish(ctx, EventsChannel(snapshot.RunID), string(payload)); err != nil {
		p.log.Warn("publish progress snapshot", "run_id", snapshot.RunID.String(), "error", err)
	}
}
