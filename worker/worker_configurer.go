package worker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// WorkerConfigurer is the top level SDK entry. Register workers,
// call Start, and it blocks until the process is signalled.
type WorkerConfigurer struct {
	config WorkerConfiguration
	poller *TaskPoller
	wg     sync.WaitGroup
}

func NewWorkerConfigurer(conf WorkerConfiguration) *WorkerConfigurer {
	wc := &WorkerConfigurer{
		config: conf,
	}
	wc.poller = NewTaskPoller(conf, &wc.wg)
	return wc
}

func (wc *WorkerConfigurer) RegisterWorker(w Worker) {
	wc.poller.RegisterWorker(w)
}

func (wc *WorkerConfigurer) Start() error {
	if err := wc.poller.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sigc
	wc.Stop()
	return nil
}

func (wc *WorkerConfigurer) Stop() {
	wc.poller.Stop()
	wc.wg.Wait()
}
