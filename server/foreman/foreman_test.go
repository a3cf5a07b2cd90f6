package foreman

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/events"
	"github.com/mohitkumar/flock/server/hunt"
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

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, event string, n events.Notification) error {
	return nil
}

type foremanFixture struct {
	clock     *util.FakeClock
	foreman   *Foreman
	hunts     *hunt.Orchestrator
	rulesDao  *persistence.RulesDao
	clientDao *persistence.ClientDao
}

func newForemanFixture(t *testing.T) *foremanFixture {
	mr := miniredis.RunT(t)
	clock := util.NewFakeClock(time.Unix(1000000, 0))
	store := rd.NewAttributeStore(rd.Config{
		Addrs:     []string{mr.Addr()},
		Namespace: "test",
	}, clock)

	registry := engine.NewRegistry()
	require.NoError(t, registry.Register(&engine.Definition{
		Name: "noop",
		Start: func(run *engine.Run, resp *model.Response) error {
			run.Complete()
			return nil
		},
	}))

	huntDao := persistence.NewHuntDao(store)
	rulesDao := persistence.NewRulesDao(store)
	clientDao := persistence.NewClientDao(store)
	eng := engine.NewEngine(registry, engine.NewStateHandlerContainer(),
		persistence.NewFlowDao(store), newFakeRouter(), clock, 10*time.Minute)
	hunts := hunt.NewOrchestrator(huntDao, rulesDao, eng, noopNotifier{}, clock)

	return &foremanFixture{
		clock:     clock,
		foreman:   NewForeman(rulesDao, clientDao, hunts, clock),
		hunts:     hunts,
		rulesDao:  rulesDao,
		clientDao: clientDao,
	}
}

func (f *foremanFixture) addClient(t *testing.T, clientId string, attributes map[string]any) {
	require.NoError(t, f.clientDao.SetAttributes(context.Background(), clientId, attributes))
}

func (f *foremanFixture) startHunt(t *testing.T, spec hunt.Spec) string {
	ctx := context.Background()
	huntId, err := f.hunts.CreateHunt(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, f.hunts.Start(ctx, huntId))
	return huntId
}

func TestForeman(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, f *foremanFixture){
		"test regex match dispatches":     testRegexMatch,
		"test absent attribute no match":  testAbsentAttribute,
		"test integer rules":              testIntegerRules,
		"test rules seen once per client": testRulesSeenOnce,
		"test later hunts still offered":  testLaterHunts,
		"test expired rules purged":       testExpiredRules,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newForemanFixture(t))
		})
	}
}

func testRegexMatch(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"os": "Windows"})
	f.addClient(t, "C.1", map[string]any{"os": "Linux"})
	huntId := f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: "Wind.*"}},
	})

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	matched, err = f.foreman.AssignTasksToClient(ctx, "C.1")
	require.NoError(t, err)
	require.Zero(t, matched)

	h, err := f.hunts.GetHunt(ctx, huntId)
	require.NoError(t, err)
	require.Equal(t, []string{"C.0"}, h.Started)
}

func testAbsentAttribute(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"host": "box"})
	huntId := f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: ".*"}},
	})

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Zero(t, matched)

	h, err := f.hunts.GetHunt(ctx, huntId)
	require.NoError(t, err)
	require.Empty(t, h.Started)
}

func testIntegerRules(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"version": 4000})
	f.addClient(t, "C.1", map[string]any{"version": 6000})
	f.startHunt(t, hunt.Spec{
		FlowName: "noop",
		IntegerRules: []model.IntegerRule{
			{Attribute: "version", Operator: model.GREATER_THAN, Value: 5000},
		},
	})

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Zero(t, matched)

	matched, err = f.foreman.AssignTasksToClient(ctx, "C.1")
	require.NoError(t, err)
	require.Equal(t, 1, matched)
}

func testRulesSeenOnce(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"os": "Linux"})
	f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: "Windows"}},
	})

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Zero(t, matched)

	// unmatched rules advance the client's mark too
	mark, err := f.clientDao.GetLastForemanCheck(ctx, "C.0")
	require.NoError(t, err)
	require.Greater(t, mark, int64(0))

	matched, err = f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Zero(t, matched)
}

func testLaterHunts(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"os": "Windows"})
	f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: "Windows"}},
	})

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	f.clock.Advance(time.Hour)
	later := f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: "Windows"}},
	})
	f.foreman.cache.Flush()

	matched, err = f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	h, err := f.hunts.GetHunt(ctx, later)
	require.NoError(t, err)
	require.Equal(t, []string{"C.0"}, h.Started)
}

func testExpiredRules(t *testing.T, f *foremanFixture) {
	ctx := context.Background()
	f.addClient(t, "C.0", map[string]any{"os": "Windows"})
	expires := f.clock.Now().Add(time.Hour).UnixNano()
	f.startHunt(t, hunt.Spec{
		FlowName:   "noop",
		RegexRules: []model.RegexRule{{Attribute: "os", Regex: "Windows"}},
		Expires:    expires,
	})

	f.clock.Advance(2 * time.Hour)
	f.foreman.cache.Flush()

	matched, err := f.foreman.AssignTasksToClient(ctx, "C.0")
	require.NoError(t, err)
	require.Zero(t, matched)

	rules, err := f.rulesDao.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
}
