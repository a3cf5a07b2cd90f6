package worker

import (
	"context"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/model"
	"go.uber.org/zap"
)

// TaskPoller drives the client loop: checkin, execute each request
// with the matching worker, push results back. Requests for actions
// with no registered worker fail with an error response so the flow
// is not left waiting.
type TaskPoller struct {
	workers map[string]Worker
	client  *client
	Config  WorkerConfiguration
	stop    chan struct{}
	wg      *sync.WaitGroup
}

func NewTaskPoller(conf WorkerConfiguration, wg *sync.WaitGroup) *TaskPoller {
	return &TaskPoller{
		workers: make(map[string]Worker),
		client:  newClient(conf.ServerUrl),
		Config:  conf,
		stop:    make(chan struct{}),
		wg:      wg,
	}
}

func (tp *TaskPoller) RegisterWorker(worker Worker) {
	tp.workers[worker.GetName()] = worker
}

func (tp *TaskPoller) Start() error {
	ctx := context.Background()
	if len(tp.Config.Attributes) > 0 {
		if err := tp.client.UpdateAttributes(ctx, tp.Config.ClientId, tp.Config.Attributes); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(time.Duration(tp.Config.PollIntervalSeconds) * time.Second)
	tp.wg.Add(1)
	go func() {
		defer tp.wg.Done()
		for {
			select {
			case <-tp.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				tp.poll(ctx)
			}
		}
	}()
	return nil
}

func (tp *TaskPoller) Stop() {
	tp.stop <- struct{}{}
}

func (tp *TaskPoller) poll(ctx context.Context) {
	requests, err := tp.client.Checkin(ctx, tp.Config.ClientId)
	if err != nil {
		logger.Error("checkin failed", zap.String("clientId", tp.Config.ClientId), zap.Error(err))
		return
	}
	for _, req := range requests {
		result := tp.execute(&req)
		if err := tp.sendResponse(ctx, result); err != nil {
			logger.Error("error sending execution response to server",
				zap.String("action", req.Action),
				zap.String("sessionId", req.SessionId),
				zap.Error(err))
		}
	}
}

func (tp *TaskPoller) execute(req *model.Request) *model.Response {
	resp := &model.Response{
		SessionId: req.SessionId,
		RequestId: req.RequestId,
	}
	worker, ok := tp.workers[req.Action]
	if !ok {
		resp.Error = "no worker registered for action " + req.Action
		return resp
	}
	result, err := worker.Execute(req.Payload)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Payload = result
	return resp
}

func (tp *TaskPoller) sendResponse(ctx context.Context, resp *model.Response) error {
	b := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(time.Duration(tp.Config.RetryIntervalSecond)*time.Second),
		uint64(tp.Config.MaxRetryBeforeResultPush))
	return backoff.Retry(func() error {
		return tp.client.PushResult(ctx, tp.Config.ClientId, resp)
	}, b)
}
