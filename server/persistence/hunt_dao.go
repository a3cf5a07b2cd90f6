package persistence

import (
	"context"
	"fmt"

	"github.com/mohitkumar/flock/server/model"
	"github.com/mohitkumar/flock/server/util"
)

const HUNT_PREFIX string = "hunts"
const HUNT_ATTR string = "hunt"

type HuntDao struct {
	store          Store
	encoderDecoder util.EncoderDecoder[model.Hunt]
}

func NewHuntDao(store Store) *HuntDao {
	return &HuntDao{
		store:          store,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Hunt](),
	}
}

func huntKey(huntId string) string {
	return fmt.Sprintf("%s/%s", HUNT_PREFIX, huntId)
}

func (hd *HuntDao) Save(ctx context.Context, hunt *model.Hunt) error {
	handle, err := hd.store.Create(ctx, huntKey(hunt.Id), "hunt")
	if err != nil {
		return err
	}
	data, err := hd.encoderDecoder.Encode(*hunt)
	if err != nil {
		return err
	}
	handle.Set(HUNT_ATTR, data)
	return handle.Close(ctx)
}

func (hd *HuntDao) Get(ctx context.Context, huntId string) (*model.Hunt, error) {
	handle, err := hd.store.Open(ctx, huntKey(huntId), MODE_READ)
	if err != nil {
		return nil, err
	}
	raw, ok := handle.Get(HUNT_ATTR)
	if !ok {
		return nil, NotFoundError{Key: huntKey(huntId)}
	}
	return hd.encoderDecoder.Decode(raw)
}

// Modify mutates the hunt record under the store's compare-and-set.
// The mutation function reports whether it changed anything; an
// unchanged hunt is not rewritten. The hunt as last seen by the
// mutation is returned.
func (hd *HuntDao) Modify(ctx context.Context, huntId string, fn func(*model.Hunt) (bool, error)) (*model.Hunt, error) {
	var result *model.Hunt
	err := hd.store.Update(ctx, huntKey(huntId), func(handle Handle) error {
		raw, ok := handle.Get(HUNT_ATTR)
		if !ok {
			return NotFoundError{Key: huntKey(huntId)}
		}
		hunt, err := hd.encoderDecoder.Decode(raw)
		if err != nil {
			return err
		}
		changed, err := fn(hunt)
		if err != nil {
			return err
		}
		result = hunt
		if changed {
			data, err := hd.encoderDecoder.Encode(*hunt)
			if err != nil {
				return err
			}
			handle.Set(HUNT_ATTR, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (hd *HuntDao) List(ctx context.Context) ([]string, error) {
	keys, err := hd.store.ListChildren(ctx, HUNT_PREFIX)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key[len(HUNT_PREFIX)+1:])
	}
	return ids, nil
}
