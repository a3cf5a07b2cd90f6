package agent

import (
	"sync"

	"github.com/mohitkumar/flock/server/config"
	"github.com/mohitkumar/flock/server/container"
	"github.com/mohitkumar/flock/server/flows"
	"github.com/mohitkumar/flock/server/foreman"
	"github.com/mohitkumar/flock/server/hunt"
	"github.com/mohitkumar/flock/server/rest"
	"github.com/mohitkumar/flock/server/service"
	"github.com/mohitkumar/flock/server/util"
)

type Agent struct {
	Config        config.Config
	container     *container.DIContainer
	hunts         *hunt.Orchestrator
	foreman       *foreman.Foreman
	flowService   *service.FlowExecutionService
	clientService *service.ClientService
	httpServer    *rest.Server
	sweeper       *util.TickWorker
	shutdown      bool
	shutdowns     chan struct{}
	shutdownLock  sync.Mutex
	wg            sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupContainer,
		a.setupHunts,
		a.setupForeman,
		a.setupServices,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupContainer() error {
	a.container = container.NewDiContainer(util.RealClock{})
	a.container.Init(a.Config)
	return flows.RegisterAll(a.container.GetRegistry())
}

func (a *Agent) setupHunts() error {
	a.hunts = hunt.NewOrchestrator(a.container.GetHuntDao(), a.container.GetRulesDao(),
		a.container.GetEngine(), a.container.GetNotifier(), a.container.GetClock())
	a.hunts.RegisterStateHandlers(a.container.GetStateHandlers())
	return nil
}

func (a *Agent) setupForeman() error {
	a.foreman = foreman.NewForeman(a.container.GetRulesDao(), a.container.GetClientDao(),
		a.hunts, a.container.GetClock())
	a.sweeper = a.foreman.NewSweeper(a.Config.SweepIntervalSeconds, a.shutdowns, &a.wg)
	return nil
}

func (a *Agent) setupServices() error {
	a.flowService = service.NewFlowExecutionService(a.container.GetEngine())
	a.clientService = service.NewClientService(a.container.GetClientDao(), a.foreman,
		a.container.GetRouter(), a.container.GetEngine(), a.Config.PollBatchSize)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.flowService, a.clientService, a.hunts)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	a.sweeper.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	a.sweeper.Stop()
	if err := a.httpServer.Stop(); err != nil {
		return err
	}
	a.wg.Wait()
	return nil
}
