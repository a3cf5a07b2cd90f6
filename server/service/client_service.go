package service

import (
	"context"

	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/foreman"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/router"
	"go.uber.org/zap"
)

// ClientService is the agent facing surface: checkin, attribute
// updates and response delivery.
type ClientService struct {
	clientDao     *persistence.ClientDao
	foreman       *foreman.Foreman
	requestRouter router.Router
	engine        *engine.Engine
	pollBatchSize int
}

func NewClientService(clientDao *persistence.ClientDao, fm *foreman.Foreman,
	requestRouter router.Router, eng *engine.Engine, pollBatchSize int) *ClientService {
	return &ClientService{
		clientDao:     clientDao,
		foreman:       fm,
		requestRouter: requestRouter,
		engine:        eng,
		pollBatchSize: pollBatchSize,
	}
}

// Checkin runs one foreman pass for the client and drains its
// pending request queue. A failed foreman pass does not block the
// poll; the client still picks up work already queued for it.
func (s *ClientService) Checkin(ctx context.Context, clientId string) ([]model.Request, error) {
	if _, err := s.foreman.AssignTasksToClient(ctx, clientId); err != nil {
		logger.Error("foreman pass failed on checkin",
			zap.String("clientId", clientId), zap.Error(err))
	}
	return s.requestRouter.Poll(ctx, clientId, s.pollBatchSize)
}

func (s *ClientService) UpdateAttributes(ctx context.Context, clientId string, attributes map[string]any) error {
	return s.clientDao.SetAttributes(ctx, clientId, attributes)
}

// SubmitResponse feeds an agent result back into its flow. Stale
// responses are swallowed here; redelivery after a flow finished is
// normal queue behavior, not an agent error.
func (s *ClientService) SubmitResponse(ctx context.Context, resp *model.Response) error {
	err := s.engine.DeliverResponse(ctx, resp)
	if err == engine.ErrStaleResponse {
		logger.Debug("dropping stale response",
			zap.String("sessionId", resp.SessionId),
			zap.String("requestId", resp.RequestId))
		return nil
	}
	return err
}
