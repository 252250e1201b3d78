package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"crm-whatsapp/internal/cache"

	"github.com/google/uuid"
)

// RelayChannel is the Redis channel shared by every node.
const RelayChannel = "crm:realtime"

type relayMessage struct {
	Node   string          `json:"node"`
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisRelay publishes local emissions on Redis and replays other nodes' emissions locally.
type RedisRelay struct {
	redis   *cache.Redis
	nodeID  string
	channel string
	logger  *slog.Logger
}

// NewRedisRelay creates a relay with a random node id.
func NewRedisRelay(redis *cache.Redis, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		redis:   redis,
		nodeID:  uuid.NewString(),
		channel: RelayChannel,
		logger:  logger.With("component", "realtime_relay"),
	}
}

// NodeID identifies this process on the relay channel.
func (r *RedisRelay) NodeID() string {
	return r.nodeID
}

// Publish sends a frame to the other nodes.
func (r *RedisRelay) Publish(ctx context.Context, room, except string, frame []byte) error {
	payload, err := json.Marshal(relayMessage{Node: r.nodeID, Room: room, Except: except, Frame: frame})
	if err != nil {
		return err
	}
	return r.redis.Publish(ctx, r.channel, payload)
}

// Start subscribes to the relay channel and hands foreign frames to the hub until ctx ends.
func (r *RedisRelay) Start(ctx context.Context, hub *Hub) error {
	return r.redis.Subscribe(ctx, r.channel, func(payload []byte) {
		var msg relayMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.logger.Warn("invalid relay message", "error", err)
			return
		}
		if msg.Node == r.nodeID || msg.Room == "" {
			return
		}
		hub.DeliverRemote(msg.Room, msg.Except, msg.Frame)
	})
}
