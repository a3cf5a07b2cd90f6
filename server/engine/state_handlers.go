package engine

import (
	"sync"

	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/model"
)

const HUNT_SUCCESS_HANDLER string = "huntSuccess"
const HUNT_FAILURE_HANDLER string = "huntFailure"

// StateHandler runs after a flow reaches a terminal state. The hunt
// layer registers its completion accounting here.
type StateHandler func(flowCtx *model.FlowContext) error

type StateHandlerContainer struct {
	mu       sync.RWMutex
	handlers map[string]StateHandler
}

func NewStateHandlerContainer() *StateHandlerContainer {
	return &StateHandlerContainer{
		handlers: make(map[string]StateHandler),
	}
}

func (s *StateHandlerContainer) Register(name string, handler StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

func (s *StateHandlerContainer) GetHandler(name string) StateHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handler, ok := s.handlers[name]
	if ok {
		return handler
	}
	return s.noop
}

func (s *StateHandlerContainer) noop(flowCtx *model.FlowContext) error {
	logger.Debug("noop state handler called")
	return nil
}
