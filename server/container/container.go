package container

import (
	"time"

	"github.com/mohitkumar/flock/server/config"
	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/events"
	"github.com/mohitkumar/flock/server/persistence"
	rd "github.com/mohitkumar/flock/server/persistence/redis"
	"github.com/mohitkumar/flock/server/router"
	"github.com/mohitkumar/flock/server/util"
)

// DIContainer wires the storage and dispatch layers once and hands
// them out to the services. Access before Init is a programming
// error and panics.
type DIContainer struct {
	initialized   bool
	store         persistence.Store
	flowDao       *persistence.FlowDao
	huntDao       *persistence.HuntDao
	rulesDao      *persistence.RulesDao
	clientDao     *persistence.ClientDao
	requestRouter router.Router
	notifier      events.Notifier
	stateHandlers *engine.StateHandlerContainer
	registry      *engine.Registry
	engine        *engine.Engine
	clock         util.Clock
}

func (d *DIContainer) setInitialized() {
	d.initialized = true
}

func NewDiContainer(clock util.Clock) *DIContainer {
	return &DIContainer{
		initialized: false,
		clock:       clock,
	}
}

func (d *DIContainer) Init(conf config.Config) {
	defer d.setInitialized()

	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		fallthrough
	default:
		rdConf := rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
		}
		d.store = rd.NewAttributeStore(rdConf, d.clock)
		d.requestRouter = rd.NewRequestQueue(rdConf)
		d.notifier = rd.NewNotifier(rdConf)
	}
	d.flowDao = persistence.NewFlowDao(d.store)
	d.huntDao = persistence.NewHuntDao(d.store)
	d.rulesDao = persistence.NewRulesDao(d.store)
	d.clientDao = persistence.NewClientDao(d.store)
	d.registry = engine.NewRegistry()
	d.stateHandlers = engine.NewStateHandlerContainer()
	d.engine = engine.NewEngine(d.registry, d.stateHandlers, d.flowDao,
		d.requestRouter, d.clock, time.Duration(conf.LeaseTTLSeconds)*time.Second)
}

func (d *DIContainer) GetStore() persistence.Store {
	d.mustInit()
	return d.store
}

func (d *DIContainer) GetFlowDao() *persistence.FlowDao {
	d.mustInit()
	return d.flowDao
}

func (d *DIContainer) GetHuntDao() *persistence.HuntDao {
	d.mustInit()
	return d.huntDao
}

func (d *DIContainer) GetRulesDao() *persistence.RulesDao {
	d.mustInit()
	return d.rulesDao
}

func (d *DIContainer) GetClientDao() *persistence.ClientDao {
	d.mustInit()
	return d.clientDao
}

func (d *DIContainer) GetRouter() router.Router {
	d.mustInit()
	return d.requestRouter
}

func (d *DIContainer) GetNotifier() events.Notifier {
	d.mustInit()
	return d.notifier
}

func (d *DIContainer) GetRegistry() *engine.Registry {
	d.mustInit()
	return d.registry
}

func (d *DIContainer) GetStateHandlers() *engine.StateHandlerContainer {
	d.mustInit()
	return d.stateHandlers
}

func (d *DIContainer) GetEngine() *engine.Engine {
	d.mustInit()
	return d.engine
}

func (d *DIContainer) GetClock() util.Clock {
	d.mustInit()
	return d.clock
}

func (d *DIContainer) mustInit() {
	if !d.initialized {
		panic("container not initialized")
	}
}
