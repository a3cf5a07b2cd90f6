package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mohitkumar/flock/server/model"
)

const CLIENT_PREFIX string = "clients"
const FOREMAN_CHECK_ATTR string = "foreman_check"

// ClientDao reads and writes client metadata objects. Attribute
// values carry their full version history; the snapshot exposes the
// newest value of each.
type ClientDao struct {
	store Store
}

func NewClientDao(store Store) *ClientDao {
	return &ClientDao{store: store}
}

func clientKey(clientId string) string {
	return fmt.Sprintf("%s/%s", CLIENT_PREFIX, clientId)
}

func (cd *ClientDao) SetAttributes(ctx context.Context, clientId string, attributes map[string]any) error {
	handle, err := cd.store.Create(ctx, clientKey(clientId), "client")
	if err != nil {
		return err
	}
	for name, value := range attributes {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		handle.Set(name, data)
	}
	return handle.Close(ctx)
}

func (cd *ClientDao) GetSnapshot(ctx context.Context, clientId string) (*model.ClientSnapshot, error) {
	handle, err := cd.store.Open(ctx, clientKey(clientId), MODE_READ)
	if err != nil {
		return nil, err
	}
	snapshot := &model.ClientSnapshot{
		Id:         clientId,
		Attributes: make(map[string]any),
	}
	for _, name := range handle.ListAttributes() {
		if name == FOREMAN_CHECK_ATTR {
			continue
		}
		raw, ok := handle.Get(name)
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		snapshot.Attributes[name] = value
	}
	return snapshot, nil
}

// GetLastForemanCheck returns the creation-time high-water mark of
// foreman rules already evaluated for this client. Zero means the
// client has never been checked.
func (cd *ClientDao) GetLastForemanCheck(ctx context.Context, clientId string) (int64, error) {
	handle, err := cd.store.Open(ctx, clientKey(clientId), MODE_READ)
	if err != nil {
		return 0, err
	}
	raw, ok := handle.Get(FOREMAN_CHECK_ATTR)
	if !ok {
		return 0, nil
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return ts, nil
}

func (cd *ClientDao) SetLastForemanCheck(ctx context.Context, clientId string, ts int64) error {
	return cd.store.Update(ctx, clientKey(clientId), func(handle Handle) error {
		handle.Set(FOREMAN_CHECK_ATTR, []byte(strconv.FormatInt(ts, 10)))
		return nil
	})
}

func (cd *ClientDao) List(ctx context.Context) ([]string, error) {
	keys, err := cd.store.ListChildren(ctx, CLIENT_PREFIX)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key[len(CLIENT_PREFIX)+1:])
	}
	return ids, nil
}
