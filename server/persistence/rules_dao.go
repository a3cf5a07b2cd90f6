package persistence

import (
	"context"

	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/util"
)

const FOREMAN_KEY string = "foreman"
const RULES_ATTR string = "rules"

// RulesDao owns the single active rule list the foreman evaluates.
// All mutation goes through Modify so hunts starting and stopping
// concurrently never lose each other's edits.
type RulesDao struct {
	store          Store
	encoderDecoder util.EncoderDecoder[[]model.Rule]
}

func NewRulesDao(store Store) *RulesDao {
	return &RulesDao{
		store:          store,
		encoderDecoder: util.NewJsonEncoderDecoder[[]model.Rule](),
	}
}

func (rd *RulesDao) Get(ctx context.Context) ([]model.Rule, error) {
	handle, err := rd.store.Open(ctx, FOREMAN_KEY, MODE_READ)
	if err != nil {
		if _, ok := err.(NotFoundError); ok {
			return []model.Rule{}, nil
		}
		return nil, err
	}
	raw, ok := handle.Get(RULES_ATTR)
	if !ok {
		return []model.Rule{}, nil
	}
	rules, err := rd.encoderDecoder.Decode(raw)
	if err != nil {
		return nil, err
	}
	return *rules, nil
}

func (rd *RulesDao) Modify(ctx context.Context, fn func([]model.Rule) ([]model.Rule, bool, error)) ([]model.Rule, error) {
	var result []model.Rule
	handle, err := rd.store.Create(ctx, FOREMAN_KEY, "foreman")
	if err != nil {
		return nil, err
	}
	_ = handle.Close(ctx)
	err = rd.store.Update(ctx, FOREMAN_KEY, func(handle Handle) error {
		rules := []model.Rule{}
		if raw, ok := handle.Get(RULES_ATTR); ok {
			decoded, err := rd.encoderDecoder.Decode(raw)
			if err != nil {
				return err
			}
			rules = *decoded
		}
		updated, changed, err := fn(rules)
		if err != nil {
			return err
		}
		result = updated
		if changed {
			data, err := rd.encoderDecoder.Encode(updated)
			if err != nil {
				return err
			}
			handle.Set(RULES_ATTR, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
