package engine

import (
	"github.com/google/uuid"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/util"
)

// Run is the handler-facing view of one flow invocation. Requests
// issued through it are buffered and dispatched only after the
// updated flow context has been persisted.
type Run struct {
	engine    *Engine
	flowCtx   *model.FlowContext
	pending   []model.Request
	completed bool
}

func (r *Run) SessionId() string {
	return r.flowCtx.Id
}

func (r *Run) ClientId() string {
	return r.flowCtx.ClientId
}

// CallClient queues one request for the flow's client and registers
// nextHandler as the resumption point for its response. Payload
// values may reference flow variables with {$.path} placeholders.
func (r *Run) CallClient(action string, payload map[string]any, nextHandler string) string {
	requestId := uuid.New().String()
	r.flowCtx.Outstanding[requestId] = nextHandler
	r.pending = append(r.pending, model.Request{
		SessionId: r.flowCtx.Id,
		RequestId: requestId,
		ClientId:  r.flowCtx.ClientId,
		Action:    action,
		Payload:   util.ResolveParams(r.flowCtx.Vars, payload),
	})
	return requestId
}

// Complete marks the flow terminated successfully. A flow with no
// outstanding requests completes implicitly.
func (r *Run) Complete() {
	r.completed = true
}

func (r *Run) SetVar(name string, value any) {
	r.flowCtx.Vars[name] = value
}

func (r *Run) GetVar(name string) (any, bool) {
	value, ok := r.flowCtx.Vars[name]
	return value, ok
}

// HeartBeat renews the flow's lease from inside a long-running
// handler body. The handler runs within the flow's compare-and-set
// extent, so the renewal is persisted when that extent commits.
func (r *Run) HeartBeat() {
	r.flowCtx.LeaseExpiry = r.engine.clock.Now().Add(r.engine.leaseTTL).Unix()
}
