package persistence

import (
	"context"
	"fmt"

	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/util"
)

const FLOW_PREFIX string = "flows"
const FLOW_CONTEXT_ATTR string = "flow_context"

// FlowDao persists flow contexts. Every save appends a new version,
// so the full state history of a flow stays queryable.
type FlowDao struct {
	store          Store
	encoderDecoder util.EncoderDecoder[model.FlowContext]
}

func NewFlowDao(store Store) *FlowDao {
	return &FlowDao{
		store:          store,
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowContext](),
	}
}

func flowKey(flowId string) string {
	return fmt.Sprintf("%s/%s", FLOW_PREFIX, flowId)
}

// Save writes the flow without a concurrency check. Flows another
// coordinator may already see must go through Modify instead.
func (fd *FlowDao) Save(ctx context.Context, flowCtx *model.FlowContext) error {
	handle, err := fd.store.Create(ctx, flowKey(flowCtx.Id), "flow")
	if err != nil {
		return err
	}
	data, err := fd.encoderDecoder.Encode(*flowCtx)
	if err != nil {
		return err
	}
	handle.Set(FLOW_CONTEXT_ATTR, data)
	return handle.Close(ctx)
}

// Modify mutates the flow context under the store's compare-and-set.
// The mutation function may run more than once on conflict; each run
// sees the freshly read record. An unchanged flow is not rewritten.
func (fd *FlowDao) Modify(ctx context.Context, flowId string, fn func(*model.FlowContext) (bool, error)) (*model.FlowContext, error) {
	var result *model.FlowContext
	err := fd.store.Update(ctx, flowKey(flowId), func(handle Handle) error {
		raw, ok := handle.Get(FLOW_CONTEXT_ATTR)
		if !ok {
			return NotFoundError{Key: flowKey(flowId)}
		}
		flowCtx, err := fd.encoderDecoder.Decode(raw)
		if err != nil {
			return err
		}
		changed, err := fn(flowCtx)
		if err != nil {
			return err
		}
		result = flowCtx
		if changed {
			data, err := fd.encoderDecoder.Encode(*flowCtx)
			if err != nil {
				return err
			}
			handle.Set(FLOW_CONTEXT_ATTR, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (fd *FlowDao) Get(ctx context.Context, flowId string) (*model.FlowContext, error) {
	handle, err := fd.store.Open(ctx, flowKey(flowId), MODE_READ)
	if err != nil {
		return nil, err
	}
	raw, ok := handle.Get(FLOW_CONTEXT_ATTR)
	if !ok {
		return nil, NotFoundError{Key: flowKey(flowId)}
	}
	return fd.encoderDecoder.Decode(raw)
}

// History returns every persisted state of the flow, oldest first.
func (fd *FlowDao) History(ctx context.Context, flowId string) ([]model.FlowContext, error) {
	handle, err := fd.store.Open(ctx, flowKey(flowId), MODE_READ)
	if err != nil {
		return nil, err
	}
	values := handle.GetValues(FLOW_CONTEXT_ATTR)
	history := make([]model.FlowContext, 0, len(values))
	for _, raw := range values {
		flowCtx, err := fd.encoderDecoder.Decode(raw)
		if err != nil {
			return nil, err
		}
		history = append(history, *flowCtx)
	}
	return history, nil
}
