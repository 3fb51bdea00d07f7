package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	syncapp "github.com/reybrally/customer-sync-service/internal/app/sync"
	"github.com/reybrally/customer-sync-service/internal/logging"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisNotifier broadcasts processed-event notifications over a pub/sub
// channel. Delivery is not guaranteed; a failed publish is logged and
// forgotten.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(cfg RedisConfig) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisNotifier{client: client, channel: cfg.Channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev syncapp.Notification) {
	body, err := json.Marshal(ev)
	if err != nil {
		logging.LogWarn("notification not serializable", logrus.Fields{"error": err.Error()})
		return
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		logging.LogWarn("notification publish failed", logrus.Fields{
			"channel":   n.channel,
			"entity_id": ev.EntityID,
			"error":     err.Error(),
		})
	}
}

func (n *RedisNotifier) Close() error { return n.client.Close() }

// LogNotifier stands in when no real-time sink is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev syncapp.Notification) {
	logging.LogDebug("notification", logrus.Fields{
		"event_type": ev.EventType,
		"entity_id":  ev.EntityID,
		"action":     ev.Action,
	})
}
