package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/metrics"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/router"
	"github.com/mohitkumar/flock/server/util"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

const lockStripes = 64

// ErrStaleResponse is returned when a response arrives for a request
// that is no longer outstanding. It is logged and dropped by callers,
// never fatal to the engine.
var ErrStaleResponse = errors.New("stale response: request no longer outstanding")

// Engine owns the flow lifecycle. Flows are cold persisted records;
// progress happens only inside the synchronous extent of StartFlow
// and DeliverResponse. Striped locks keep in-process deliveries for
// one session from retrying against each other; correctness across
// coordinator instances comes from running the claim and the handler
// inside the store's compare-and-set.
type Engine struct {
	registry      *Registry
	stateHandlers *StateHandlerContainer
	flowDao       *persistence.FlowDao
	router        router.Router
	clock         util.Clock
	leaseTTL      time.Duration
	locks         [lockStripes]sync.Mutex
}

func NewEngine(registry *Registry, stateHandlers *StateHandlerContainer, flowDao *persistence.FlowDao,
	router router.Router, clock util.Clock, leaseTTL time.Duration) *Engine {
	return &Engine{
		registry:      registry,
		stateHandlers: stateHandlers,
		flowDao:       flowDao,
		router:        router,
		clock:         clock,
		leaseTTL:      leaseTTL,
	}
}

func (e *Engine) HasDefinition(flowName string) bool {
	return e.registry.Has(flowName)
}

func (e *Engine) lock(sessionId string) *sync.Mutex {
	idx := murmur3.Sum32([]byte(sessionId)) % lockStripes
	return &e.locks[idx]
}

// StartFlow creates and persists a new flow and runs its initial
// handler synchronously.
func (e *Engine) StartFlow(ctx context.Context, flowName string, clientId string, args map[string]any) (string, error) {
	return e.startFlow(ctx, flowName, clientId, "", args)
}

// StartHuntFlow starts a per-client child flow owned by a hunt. Its
// terminal transition is reported to the hunt's state handlers.
func (e *Engine) StartHuntFlow(ctx context.Context, flowName string, clientId string, huntId string, args map[string]any) (string, error) {
	return e.startFlow(ctx, flowName, clientId, huntId, args)
}

func (e *Engine) startFlow(ctx context.Context, flowName string, clientId string, huntId string, args map[string]any) (string, error) {
	def, ok := e.registry.get(flowName)
	if !ok {
		return "", fmt.Errorf("flow %s not registered", flowName)
	}
	vars := make(map[string]any)
	for k, v := range args {
		vars[k] = v
	}
	now := e.clock.Now()
	flowCtx := &model.FlowContext{
		Id:          uuid.New().String(),
		FlowName:    flowName,
		ClientId:    clientId,
		HuntId:      huntId,
		State:       model.RUNNING,
		Outstanding: make(map[string]string),
		Vars:        vars,
		CreateTime:  now.Unix(),
		LeaseExpiry: now.Add(e.leaseTTL).Unix(),
	}
	mu := e.lock(flowCtx.Id)
	mu.Lock()
	defer mu.Unlock()

	run := &Run{engine: e, flowCtx: flowCtx}
	handlerErr := e.invoke(def.Start, run, nil)
	e.applyOutcome(run, handlerErr)
	// a fresh flow id is invisible to other coordinators, so the
	// unchecked save cannot lose a concurrent edit
	if err := e.flowDao.Save(ctx, flowCtx); err != nil {
		return "", err
	}
	e.commitEffects(ctx, def, run)
	metrics.FlowsStarted.Inc()
	logger.Info("flow started", zap.String("flow", flowName), zap.String("flowId", flowCtx.Id), zap.String("client", clientId))
	return flowCtx.Id, nil
}

// DeliverResponse resumes the flow at the resumption point registered
// for the request. Handler failures are recorded into the flow and do
// not propagate; only delivery-level failures (unknown session, stale
// response, storage errors) are returned.
func (e *Engine) DeliverResponse(ctx context.Context, resp *model.Response) error {
	mu := e.lock(resp.SessionId)
	mu.Lock()
	defer mu.Unlock()

	var def *Definition
	var run *Run
	_, err := e.flowDao.Modify(ctx, resp.SessionId, func(flowCtx *model.FlowContext) (bool, error) {
		// The claim check runs inside the compare-and-set: of two
		// coordinators racing on one response, only the one whose
		// write commits has invoked the handler; the loser re-reads
		// and finds the request already resolved.
		if flowCtx.State.Terminal() {
			return false, ErrStaleResponse
		}
		handlerName, ok := flowCtx.Outstanding[resp.RequestId]
		if !ok {
			return false, ErrStaleResponse
		}
		delete(flowCtx.Outstanding, resp.RequestId)
		flowCtx.CurrentHandler = handlerName
		flowCtx.State = model.RUNNING
		flowCtx.LeaseExpiry = e.clock.Now().Add(e.leaseTTL).Unix()

		run = &Run{engine: e, flowCtx: flowCtx}
		var handlerErr error
		var defOk, handlerOk bool
		var handler HandlerFunc
		def, defOk = e.registry.get(flowCtx.FlowName)
		if defOk {
			handler, handlerOk = def.Handlers[handlerName]
		}
		switch {
		case !defOk:
			handlerErr = fmt.Errorf("flow %s not registered", flowCtx.FlowName)
		case !handlerOk:
			handlerErr = fmt.Errorf("unknown handler %s in flow %s", handlerName, flowCtx.FlowName)
		default:
			handlerErr = e.invoke(handler, run, resp)
		}
		e.applyOutcome(run, handlerErr)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleResponse) {
			metrics.StaleResponses.Inc()
			logger.Debug("stale response dropped", zap.String("flowId", resp.SessionId), zap.String("requestId", resp.RequestId))
		}
		return err
	}
	e.commitEffects(ctx, def, run)
	return nil
}

// HeartBeat extends the flow's lease.
func (e *Engine) HeartBeat(ctx context.Context, sessionId string) error {
	mu := e.lock(sessionId)
	mu.Lock()
	defer mu.Unlock()

	_, err := e.flowDao.Modify(ctx, sessionId, func(flowCtx *model.FlowContext) (bool, error) {
		if flowCtx.State.Terminal() {
			return false, ErrStaleResponse
		}
		flowCtx.LeaseExpiry = e.clock.Now().Add(e.leaseTTL).Unix()
		return true, nil
	})
	return err
}

func (e *Engine) GetFlow(ctx context.Context, sessionId string) (*model.FlowContext, error) {
	return e.flowDao.Get(ctx, sessionId)
}

func (e *Engine) GetFlowHistory(ctx context.Context, sessionId string) ([]model.FlowContext, error) {
	return e.flowDao.History(ctx, sessionId)
}

func (e *Engine) invoke(handler HandlerFunc, run *Run, resp *model.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(run, resp)
}

// applyOutcome folds the handler result into the flow context. It
// runs inside the compare-and-set closure and must stay free of side
// effects outside the context and the run.
func (e *Engine) applyOutcome(run *Run, handlerErr error) {
	flowCtx := run.flowCtx
	if handlerErr != nil {
		flowCtx.Errors = append(flowCtx.Errors, handlerErr.Error())
		flowCtx.State = model.FAILED
		run.pending = nil
	} else if run.completed || len(flowCtx.Outstanding) == 0 {
		flowCtx.State = model.COMPLETED
	} else {
		flowCtx.State = model.WAITING_RESPONSE
	}
}

// commitEffects dispatches the buffered requests and fires terminal
// accounting. Runs exactly once, after the flow context is persisted.
func (e *Engine) commitEffects(ctx context.Context, def *Definition, run *Run) {
	flowCtx := run.flowCtx
	for _, req := range run.pending {
		if err := e.router.EnqueueRequest(ctx, req); err != nil {
			logger.Error("error dispatching request", zap.String("flowId", flowCtx.Id), zap.String("requestId", req.RequestId), zap.Error(err))
		}
	}
	switch flowCtx.State {
	case model.COMPLETED:
		metrics.FlowsCompleted.Inc()
		e.runStateHandler(flowCtx, def, true)
		logger.Info("flow completed", zap.String("flow", flowCtx.FlowName), zap.String("flowId", flowCtx.Id))
	case model.FAILED:
		metrics.FlowsFailed.Inc()
		e.runStateHandler(flowCtx, def, false)
		logger.Error("flow failed", zap.String("flow", flowCtx.FlowName), zap.String("flowId", flowCtx.Id), zap.Strings("errors", flowCtx.Errors))
	}
}

func (e *Engine) runStateHandler(flowCtx *model.FlowContext, def *Definition, success bool) {
	var name string
	if flowCtx.HuntId != "" {
		if success {
			name = HUNT_SUCCESS_HANDLER
		} else {
			name = HUNT_FAILURE_HANDLER
		}
	} else if def != nil {
		if success {
			name = def.SuccessHandler
		} else {
			name = def.FailureHandler
		}
	}
	if name == "" {
		return
	}
	handler := e.stateHandlers.GetHandler(name)
	if err := handler(flowCtx); err != nil {
		logger.Error("error in running state handler", zap.String("handler", name), zap.String("flowId", flowCtx.Id), zap.Error(err))
	}
}
