package foreman

import (
	"context"
	"regexp"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mohitkumar/flock/server/hunt"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/metrics"
	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/util"
	"go.uber.org/zap"
)

const rulesCacheKey = "rules"
const rulesCacheTTL = 30 * time.Second

// Foreman matches client checkins against the active hunt rule list.
// Each client carries a high-water mark over rule creation times;
// rules at or below the mark are never evaluated again for that
// client, so one checkin only ever pays for rules it has not seen.
type Foreman struct {
	rulesDao  *persistence.RulesDao
	clientDao *persistence.ClientDao
	hunts     *hunt.Orchestrator
	cache     *gocache.Cache
	clock     util.Clock
}

func NewForeman(rulesDao *persistence.RulesDao, clientDao *persistence.ClientDao,
	hunts *hunt.Orchestrator, clock util.Clock) *Foreman {
	return &Foreman{
		rulesDao:  rulesDao,
		clientDao: clientDao,
		hunts:     hunts,
		cache:     gocache.New(rulesCacheTTL, time.Minute),
		clock:     clock,
	}
}

// AssignTasksToClient evaluates every rule the client has not seen
// and dispatches the matching hunts. Returns the number of rules
// matched. Dispatch failures of individual hunts are logged, never
// propagated, so a broken hunt cannot wedge the checkin path.
func (f *Foreman) AssignTasksToClient(ctx context.Context, clientId string) (int, error) {
	metrics.ForemanSweeps.Inc()
	rules, err := f.activeRules(ctx)
	if err != nil {
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}
	mark, err := f.clientDao.GetLastForemanCheck(ctx, clientId)
	if err != nil {
		return 0, err
	}
	now := f.clock.Now().UnixNano()
	pending := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Created <= mark || r.Expired(now) {
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	snapshot, err := f.clientDao.GetSnapshot(ctx, clientId)
	if err != nil {
		return 0, err
	}
	matched := 0
	newMark := mark
	retryLater := false
	for _, r := range pending {
		if !ruleMatches(r, snapshot) {
			if r.Created > newMark {
				newMark = r.Created
			}
			continue
		}
		matched++
		_, status, err := f.hunts.StartClient(ctx, r.HuntId, clientId)
		if err != nil {
			logger.Error("hunt dispatch failed",
				zap.String("huntId", r.HuntId),
				zap.String("clientId", clientId),
				zap.Error(err))
		}
		if status != hunt.DISPATCHED && status != hunt.ALREADY_STARTED {
			// Keep the mark below this rule so a later checkin
			// re-offers the client: a deferred client once a rate
			// slot opens, a refused one once the hunt restarts or
			// its rule is retracted.
			retryLater = true
			continue
		}
		if r.Created > newMark {
			newMark = r.Created
		}
	}
	if !retryLater && newMark > mark {
		if err := f.clientDao.SetLastForemanCheck(ctx, clientId, newMark); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

// Sweep runs one foreman pass over every known client. It backs the
// periodic server-side sweep; clients that check in on their own are
// handled inline by AssignTasksToClient.
func (f *Foreman) Sweep(ctx context.Context) error {
	clients, err := f.clientDao.List(ctx)
	if err != nil {
		return err
	}
	for _, clientId := range clients {
		if _, err := f.AssignTasksToClient(ctx, clientId); err != nil {
			logger.Error("foreman sweep failed for client",
				zap.String("clientId", clientId), zap.Error(err))
		}
	}
	return nil
}

// NewSweeper wraps Sweep in a ticker worker.
func (f *Foreman) NewSweeper(intervalSeconds int, stop chan struct{}, wg *sync.WaitGroup) *util.TickWorker {
	return util.NewTickWorker("foreman-sweeper", intervalSeconds, stop, func() {
		if err := f.Sweep(context.Background()); err != nil {
			logger.Error("foreman sweep failed", zap.Error(err))
		}
	}, wg)
}

// activeRules returns the current rule list, purging expired rules
// from the store when any are found. The list is cached briefly so
// agent checkin storms do not hammer the rules object.
func (f *Foreman) activeRules(ctx context.Context) ([]model.Rule, error) {
	if cached, ok := f.cache.Get(rulesCacheKey); ok {
		return cached.([]model.Rule), nil
	}
	rules, err := f.rulesDao.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := f.clock.Now().UnixNano()
	expired := false
	for _, r := range rules {
		if r.Expired(now) {
			expired = true
			break
		}
	}
	if expired {
		rules, err = f.rulesDao.Modify(ctx, func(current []model.Rule) ([]model.Rule, bool, error) {
			kept := make([]model.Rule, 0, len(current))
			for _, r := range current {
				if !r.Expired(now) {
					kept = append(kept, r)
				}
			}
			return kept, len(kept) != len(current), nil
		})
		if err != nil {
			return nil, err
		}
		logger.Info("purged expired hunt rules", zap.Int("remaining", len(rules)))
	}
	f.cache.Set(rulesCacheKey, rules, gocache.DefaultExpiration)
	return rules, nil
}

// ruleMatches evaluates the conjunction of all conditions in a rule.
// A condition on an attribute the client does not report fails the
// rule for that client.
func ruleMatches(r model.Rule, c *model.ClientSnapshot) bool {
	for _, rr := range r.RegexRules {
		value, ok := c.GetString(rr.Attribute)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(rr.Regex, value)
		if err != nil || !matched {
			return false
		}
	}
	for _, ir := range r.IntegerRules {
		value, ok := c.GetInt(ir.Attribute)
		if !ok {
			return false
		}
		switch ir.Operator {
		case model.EQUAL:
			if value != ir.Value {
				return false
			}
		case model.LESS_THAN:
			if value >= ir.Value {
				return false
			}
		case model.GREATER_THAN:
			if value <= ir.Value {
				return false
			}
		default:
			return false
		}
	}
	return true
}
