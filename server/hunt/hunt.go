package hunt

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/events"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/metrics"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/util"
	"go.uber.org/zap"
)

const defaultHuntLifetime = 7 * 24 * time.Hour

// UnknownAttributeError is a configuration error: a targeting rule
// references an attribute name outside the client schema. It is
// surfaced when the hunt is started, never at match time.
type UnknownAttributeError struct {
	Attribute string
}

func (e UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown client attribute %q in targeting rule", e.Attribute)
}

type StartClientStatus int

// StartClient outcomes. Deferred means the rate slot has not arrived
// yet and the foreman should re-offer the client on a later sweep.
const (
	DISPATCHED StartClientStatus = iota + 1
	ALREADY_STARTED
	REFUSED
	DEFERRED
)

type Spec struct {
	FlowName          string              `json:"flowName"`
	RegexRules        []model.RegexRule   `json:"regexRules,omitempty"`
	IntegerRules      []model.IntegerRule `json:"integerRules,omitempty"`
	ClientLimit       int                 `json:"clientLimit"`
	ClientRate        int                 `json:"clientRate"`
	NotificationEvent string              `json:"notificationEvent,omitempty"`
	Args              map[string]any      `json:"args,omitempty"`
	Expires           int64               `json:"expires,omitempty"`
}

// Orchestrator fans a flow out across clients matched by the foreman.
// All hunt record mutation goes through the store's compare-and-set,
// which is what makes per-client dispatch at-most-once across
// coordinator instances.
type Orchestrator struct {
	huntDao  *persistence.HuntDao
	rulesDao *persistence.RulesDao
	engine   *engine.Engine
	notifier events.Notifier
	clock    util.Clock
}

func NewOrchestrator(huntDao *persistence.HuntDao, rulesDao *persistence.RulesDao,
	eng *engine.Engine, notifier events.Notifier, clock util.Clock) *Orchestrator {
	return &Orchestrator{
		huntDao:  huntDao,
		rulesDao: rulesDao,
		engine:   eng,
		notifier: notifier,
		clock:    clock,
	}
}

// RegisterStateHandlers hooks hunt completion accounting into the
// engine's terminal transitions.
func (o *Orchestrator) RegisterStateHandlers(container *engine.StateHandlerContainer) {
	container.Register(engine.HUNT_SUCCESS_HANDLER, o.markClientDone)
	container.Register(engine.HUNT_FAILURE_HANDLER, o.markClientFailed)
}

// CreateHunt persists a new hunt in paused state. Its rule is not yet
// visible to the foreman.
func (o *Orchestrator) CreateHunt(ctx context.Context, spec Spec) (string, error) {
	if !o.engine.HasDefinition(spec.FlowName) {
		return "", fmt.Errorf("flow %s not registered", spec.FlowName)
	}
	now := o.clock.Now().UnixNano()
	expires := spec.Expires
	if expires == 0 {
		expires = now + defaultHuntLifetime.Nanoseconds()
	}
	hunt := &model.Hunt{
		Id:                uuid.New().String(),
		FlowName:          spec.FlowName,
		State:             model.HUNT_PAUSED,
		RegexRules:        spec.RegexRules,
		IntegerRules:      spec.IntegerRules,
		ClientLimit:       spec.ClientLimit,
		ClientRate:        spec.ClientRate,
		NotificationEvent: spec.NotificationEvent,
		Args:              spec.Args,
		CreateTime:        now,
		Expires:           expires,
	}
	if err := o.huntDao.Save(ctx, hunt); err != nil {
		return "", err
	}
	logger.Info("hunt created", zap.String("huntId", hunt.Id), zap.String("flow", hunt.FlowName))
	return hunt.Id, nil
}

// Start validates the hunt's targeting rule and publishes it into the
// foreman's active rule list. Starting an already started hunt is a
// no-op; the rule list never holds two rules for one hunt.
func (o *Orchestrator) Start(ctx context.Context, huntId string) error {
	hunt, err := o.huntDao.Get(ctx, huntId)
	if err != nil {
		return err
	}
	if err := validateRules(hunt); err != nil {
		return err
	}
	rule := model.Rule{
		HuntId:       hunt.Id,
		Created:      hunt.CreateTime,
		Expires:      hunt.Expires,
		RegexRules:   hunt.RegexRules,
		IntegerRules: hunt.IntegerRules,
	}
	// The hunt flips to started before its rule is published, so a
	// checkin racing the start is dispatched instead of refused.
	now := o.clock.Now().UnixNano()
	_, err = o.huntDao.Modify(ctx, huntId, func(h *model.Hunt) (bool, error) {
		if h.State == model.HUNT_STARTED {
			return false, nil
		}
		h.State = model.HUNT_STARTED
		if h.StartTime == 0 {
			h.StartTime = now
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	_, err = o.rulesDao.Modify(ctx, func(rules []model.Rule) ([]model.Rule, bool, error) {
		for _, r := range rules {
			if r.HuntId == huntId {
				return rules, false, nil
			}
		}
		return append(rules, rule), true, nil
	})
	if err != nil {
		return err
	}
	logger.Info("hunt started", zap.String("huntId", huntId))
	return nil
}

// Stop retracts the hunt's rule and marks it non-dispatchable.
// Already started per-client flows are unaffected.
func (o *Orchestrator) Stop(ctx context.Context, huntId string) error {
	return o.retract(ctx, huntId, model.HUNT_STOPPED)
}

// Pause retracts the hunt's rule but leaves the hunt restartable.
func (o *Orchestrator) Pause(ctx context.Context, huntId string) error {
	return o.retract(ctx, huntId, model.HUNT_PAUSED)
}

func (o *Orchestrator) retract(ctx context.Context, huntId string, state model.HuntState) error {
	_, err := o.rulesDao.Modify(ctx, func(rules []model.Rule) ([]model.Rule, bool, error) {
		kept := make([]model.Rule, 0, len(rules))
		changed := false
		for _, r := range rules {
			if r.HuntId == huntId {
				changed = true
				continue
			}
			kept = append(kept, r)
		}
		return kept, changed, nil
	})
	if err != nil {
		return err
	}
	_, err = o.huntDao.Modify(ctx, huntId, func(h *model.Hunt) (bool, error) {
		if h.State == state {
			return false, nil
		}
		h.State = state
		return true, nil
	})
	return err
}

// StartClient is the foreman-facing dispatch entry. It admits the
// client at most once per hunt, respects the population cap and the
// dispatch rate, and on admission starts the per-client child flow.
func (o *Orchestrator) StartClient(ctx context.Context, huntId string, clientId string) (string, StartClientStatus, error) {
	var status StartClientStatus
	hunt, err := o.huntDao.Modify(ctx, huntId, func(h *model.Hunt) (bool, error) {
		status = DISPATCHED
		if h.State != model.HUNT_STARTED {
			status = REFUSED
			return false, nil
		}
		if h.HasStarted(clientId) {
			status = ALREADY_STARTED
			return false, nil
		}
		if h.ClientLimit > 0 && len(h.Started) >= h.ClientLimit {
			status = REFUSED
			return false, nil
		}
		if h.ClientRate > 0 {
			// One admission slot opens per interval, measured from
			// hunt start at call time. A client ahead of its slot is
			// refused, not queued; the foreman re-offers it.
			interval := time.Minute / time.Duration(h.ClientRate)
			elapsed := time.Duration(o.clock.Now().UnixNano() - h.StartTime)
			allowed := int(elapsed/interval) + 1
			if len(h.Started) >= allowed {
				status = DEFERRED
				return false, nil
			}
		}
		h.Started = append(h.Started, clientId)
		return true, nil
	})
	if err != nil {
		return "", status, err
	}
	if status != DISPATCHED {
		return "", status, nil
	}
	metrics.HuntClientsDispatched.Inc()
	sessionId, err := o.engine.StartHuntFlow(ctx, hunt.FlowName, clientId, huntId, hunt.Args)
	if err != nil {
		return "", status, err
	}
	return sessionId, status, nil
}

func (o *Orchestrator) GetHunt(ctx context.Context, huntId string) (*model.Hunt, error) {
	return o.huntDao.Get(ctx, huntId)
}

func (o *Orchestrator) ListHunts(ctx context.Context) ([]string, error) {
	return o.huntDao.List(ctx)
}

func (o *Orchestrator) markClientDone(flowCtx *model.FlowContext) error {
	changed := false
	hunt, err := o.huntDao.Modify(context.Background(), flowCtx.HuntId, func(h *model.Hunt) (bool, error) {
		if h.HasFinished(flowCtx.ClientId) {
			return false, nil
		}
		h.Finished = append(h.Finished, flowCtx.ClientId)
		changed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if changed && hunt.NotificationEvent != "" {
		return o.notifier.Notify(context.Background(), hunt.NotificationEvent, events.Notification{
			HuntId:   hunt.Id,
			ClientId: flowCtx.ClientId,
		})
	}
	return nil
}

// markClientFailed records the client in the errored set. The client
// still lands in the finished set so completion accounting is not
// blocked by per-client faults; no notification is published.
func (o *Orchestrator) markClientFailed(flowCtx *model.FlowContext) error {
	_, err := o.huntDao.Modify(context.Background(), flowCtx.HuntId, func(h *model.Hunt) (bool, error) {
		changed := false
		if !h.HasErrored(flowCtx.ClientId) {
			h.Errored = append(h.Errored, flowCtx.ClientId)
			changed = true
		}
		if !h.HasFinished(flowCtx.ClientId) {
			h.Finished = append(h.Finished, flowCtx.ClientId)
			changed = true
		}
		return changed, nil
	})
	return err
}

func validateRules(hunt *model.Hunt) error {
	for _, r := range hunt.RegexRules {
		if !model.IsKnownAttribute(r.Attribute) {
			return UnknownAttributeError{Attribute: r.Attribute}
		}
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("invalid regex %q for attribute %s: %w", r.Regex, r.Attribute, err)
		}
	}
	for _, r := range hunt.IntegerRules {
		if !model.IsKnownAttribute(r.Attribute) {
			return UnknownAttributeError{Attribute: r.Attribute}
		}
	}
	return nil
}
