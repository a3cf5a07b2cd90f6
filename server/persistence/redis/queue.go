package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/router"
	"github.com/mohitkumar/flock/server/util"
	"go.uber.org/zap"
)

const REQUEST_QUEUE_KEY string = "requests"

var _ router.Router = new(redisRequestQueue)

// redisRequestQueue holds one pending-request list per client.
// Clients drain their list on checkin.
type redisRequestQueue struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Request]
}

func NewRequestQueue(conf Config) *redisRequestQueue {
	return &redisRequestQueue{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Request](),
	}
}

func (rq *redisRequestQueue) EnqueueRequest(ctx context.Context, req model.Request) error {
	queueName := rq.getNamespaceKey(REQUEST_QUEUE_KEY, req.ClientId)
	data, err := rq.encoderDecoder.Encode(req)
	if err != nil {
		return err
	}
	err = rq.redisClient.LPush(ctx, queueName, data).Err()
	if err != nil {
		logger.Error("error while push to redis list", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisRequestQueue) Poll(ctx context.Context, clientId string, batchSize int) ([]model.Request, error) {
	queueName := rq.getNamespaceKey(REQUEST_QUEUE_KEY, clientId)
	items, err := rq.redisClient.RPopCount(ctx, queueName, batchSize).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []model.Request{}, nil
		}
		logger.Error("error while pop from redis list", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	requests := make([]model.Request, 0, len(items))
	for _, item := range items {
		req, err := rq.encoderDecoder.Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, nil
}
