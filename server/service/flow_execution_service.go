package service

import (
	"context"

	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/model"
)

type FlowExecutionService struct {
	engine *engine.Engine
}

func NewFlowExecutionService(eng *engine.Engine) *FlowExecutionService {
	return &FlowExecutionService{engine: eng}
}

func (s *FlowExecutionService) StartFlow(ctx context.Context, name string, clientId string, args map[string]any) (string, error) {
	return s.engine.StartFlow(ctx, name, clientId, args)
}

func (s *FlowExecutionService) GetFlow(ctx context.Context, sessionId string) (*model.FlowContext, error) {
	return s.engine.GetFlow(ctx, sessionId)
}

func (s *FlowExecutionService) GetFlowHistory(ctx context.Context, sessionId string) ([]model.FlowContext, error) {
	return s.engine.GetFlowHistory(ctx, sessionId)
}

func (s *FlowExecutionService) HeartBeat(ctx context.Context, sessionId string) error {
	return s.engine.HeartBeat(ctx, sessionId)
}
