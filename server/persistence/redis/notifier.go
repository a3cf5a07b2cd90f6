package redis

import (
	"context"
	"encoding/json"

	"github.com/mohitkumar/flock/server/events"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/persistence"
	"go.uber.org/zap"
)

const EVENTS_KEY string = "events"

var _ events.Notifier = new(redisNotifier)

type redisNotifier struct {
	baseDao
}

func NewNotifier(conf Config) *redisNotifier {
	return &redisNotifier{
		baseDao: *newBaseDao(conf),
	}
}

func (n *redisNotifier) Notify(ctx context.Context, event string, notification events.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	channel := n.getNamespaceKey(EVENTS_KEY, event)
	err = n.redisClient.Publish(ctx, channel, data).Err()
	if err != nil {
		logger.Error("error publishing notification", zap.String("event", event), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
