package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	rd "github.com/mohitkumar/flock/server/persistence/redis"
	"github.com/mohitkumar/flock/server/util"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu     sync.Mutex
	queues map[string][]model.Request
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{queues: make(map[string][]model.Request)}
}

func (f *fakeRouter) EnqueueRequest(ctx context.Context, req model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[req.ClientId] = append(f.queues[req.ClientId], req)
	return nil
}

func (f *fakeRouter) Poll(ctx context.Context, clientId string, batchSize int) ([]model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.queues[clientId]
	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	f.queues[clientId] = f.queues[clientId][len(pending):]
	return pending, nil
}

type engineFixture struct {
	engine        *Engine
	registry      *Registry
	stateHandlers *StateHandlerContainer
	flowDao       *persistence.FlowDao
	router        *fakeRouter
	clock         *util.FakeClock
}

func newEngineFixture(t *testing.T, register func(*Registry)) *engineFixture {
	mr := miniredis.RunT(t)
	clock := util.NewFakeClock(time.Unix(1000000, 0))
	store := rd.NewAttributeStore(rd.Config{
		Addrs:     []string{mr.Addr()},
		Namespace: "test",
	}, clock)
	registry := NewRegistry()
	register(registry)
	router := newFakeRouter()
	stateHandlers := NewStateHandlerContainer()
	flowDao := persistence.NewFlowDao(store)
	eng := NewEngine(registry, stateHandlers, flowDao, router, clock, 10*time.Minute)
	return &engineFixture{
		engine:        eng,
		registry:      registry,
		stateHandlers: stateHandlers,
		flowDao:       flowDao,
		router:        router,
		clock:         clock,
	}
}

// secondEngine builds another coordinator over the same store.
func (f *engineFixture) secondEngine() *Engine {
	return NewEngine(f.registry, f.stateHandlers, f.flowDao, f.router, f.clock, 10*time.Minute)
}

func echoFlow() *Definition {
	return &Definition{
		Name: "echo",
		Start: func(run *Run, resp *model.Response) error {
			run.CallClient("echo", map[string]any{"value": "hello"}, "Done")
			return nil
		},
		Handlers: map[string]HandlerFunc{
			"Done": func(run *Run, resp *model.Response) error {
				run.SetVar("result", resp.Payload["value"])
				run.Complete()
				return nil
			},
		},
	}
}

func TestEngine(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test immediate completion":                      testImmediateCompletion,
		"test request response round trip":               testRoundTrip,
		"test stale response rejected":                   testStaleResponse,
		"test response claimed once across coordinators": testConcurrentCoordinators,
		"test handler error fails flow":                  testHandlerError,
		"test handler panic fails flow":                  testHandlerPanic,
		"test heartbeat extends lease":                   testHeartBeat,
		"test unregistered flow":                         testUnregisteredFlow,
	} {
		t.Run(scenario, fn)
	}
}

func testImmediateCompletion(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(&Definition{
			Name: "noop",
			Start: func(run *Run, resp *model.Response) error {
				run.SetVar("done", true)
				return nil
			},
		}))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "noop", "c1", nil)
	require.NoError(t, err)

	flowCtx, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, flowCtx.State)
	require.Equal(t, true, flowCtx.Vars["done"])
}

func testRoundTrip(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(echoFlow()))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "echo", "c1", nil)
	require.NoError(t, err)

	flowCtx, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.WAITING_RESPONSE, flowCtx.State)

	requests, err := f.router.Poll(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, "echo", requests[0].Action)
	require.Equal(t, "hello", requests[0].Payload["value"])

	err = f.engine.DeliverResponse(ctx, &model.Response{
		SessionId: sessionId,
		RequestId: requests[0].RequestId,
		Payload:   map[string]any{"value": "world"},
	})
	require.NoError(t, err)

	flowCtx, err = f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, flowCtx.State)
	require.Equal(t, "world", flowCtx.Vars["result"])
	require.Empty(t, flowCtx.Outstanding)
}

func testStaleResponse(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(echoFlow()))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "echo", "c1", nil)
	require.NoError(t, err)

	err = f.engine.DeliverResponse(ctx, &model.Response{
		SessionId: sessionId,
		RequestId: "not-outstanding",
	})
	require.ErrorIs(t, err, ErrStaleResponse)

	before, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.WAITING_RESPONSE, before.State)

	requests, err := f.router.Poll(ctx, "c1", 10)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeliverResponse(ctx, &model.Response{
		SessionId: sessionId,
		RequestId: requests[0].RequestId,
	}))

	// the same response delivered twice is dropped the second time
	err = f.engine.DeliverResponse(ctx, &model.Response{
		SessionId: sessionId,
		RequestId: requests[0].RequestId,
	})
	require.ErrorIs(t, err, ErrStaleResponse)
}

// Two coordinators race on the same response. The interleave hook
// lets the second coordinator consume the response between the first
// one's read and its write, so only the compare-and-set can decide
// the winner.
func testConcurrentCoordinators(t *testing.T) {
	var interleave func()
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(&Definition{
			Name: "racy",
			Start: func(run *Run, resp *model.Response) error {
				run.CallClient("work", nil, "Done")
				return nil
			},
			Handlers: map[string]HandlerFunc{
				"Done": func(run *Run, resp *model.Response) error {
					if interleave != nil {
						hook := interleave
						interleave = nil
						hook()
					}
					run.SetVar("handled", true)
					run.Complete()
					return nil
				},
			},
		}))
	})
	other := f.secondEngine()
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "racy", "c1", nil)
	require.NoError(t, err)
	requests, err := f.router.Poll(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, requests, 1)

	resp := &model.Response{
		SessionId: sessionId,
		RequestId: requests[0].RequestId,
	}
	otherErr := errors.New("not delivered")
	interleave = func() {
		otherErr = other.DeliverResponse(ctx, resp)
	}
	err = f.engine.DeliverResponse(ctx, resp)
	require.ErrorIs(t, err, ErrStaleResponse)
	require.NoError(t, otherErr)

	flowCtx, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, flowCtx.State)

	// exactly one delivery committed a terminal record
	history, err := f.engine.GetFlowHistory(ctx, sessionId)
	require.NoError(t, err)
	terminal := 0
	for _, h := range history {
		if h.State.Terminal() {
			terminal++
		}
	}
	require.Equal(t, 1, terminal)
}

func testHandlerError(t *testing.T) {
	wantErr := errors.New("handler exploded")
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(&Definition{
			Name: "broken",
			Start: func(run *Run, resp *model.Response) error {
				run.CallClient("noop", nil, "Done")
				return wantErr
			},
		}))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "broken", "c1", nil)
	require.NoError(t, err)

	flowCtx, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.FAILED, flowCtx.State)
	require.Contains(t, flowCtx.Errors, wantErr.Error())

	// requests buffered before the failure are not dispatched
	requests, err := f.router.Poll(ctx, "c1", 10)
	require.NoError(t, err)
	require.Empty(t, requests)
}

func testHandlerPanic(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(&Definition{
			Name: "panicky",
			Start: func(run *Run, resp *model.Response) error {
				panic("boom")
			},
		}))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "panicky", "c1", nil)
	require.NoError(t, err)

	flowCtx, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Equal(t, model.FAILED, flowCtx.State)
	require.NotEmpty(t, flowCtx.Errors)
}

func testHeartBeat(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {
		require.NoError(t, r.Register(echoFlow()))
	})
	ctx := context.Background()
	sessionId, err := f.engine.StartFlow(ctx, "echo", "c1", nil)
	require.NoError(t, err)

	before, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.engine.HeartBeat(ctx, sessionId))

	after, err := f.engine.GetFlow(ctx, sessionId)
	require.NoError(t, err)
	require.Greater(t, after.LeaseExpiry, before.LeaseExpiry)

	requests, err := f.router.Poll(ctx, "c1", 10)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeliverResponse(ctx, &model.Response{
		SessionId: sessionId,
		RequestId: requests[0].RequestId,
	}))
	require.ErrorIs(t, f.engine.HeartBeat(ctx, sessionId), ErrStaleResponse)
}

func testUnregisteredFlow(t *testing.T) {
	f := newEngineFixture(t, func(r *Registry) {})
	_, err := f.engine.StartFlow(context.Background(), "ghost", "c1", nil)
	require.Error(t, err)
}
