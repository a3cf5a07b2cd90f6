package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/persistence"
	"github.com/mohitkumar/flock/server/util"
	"go.uber.org/zap"
)

const OBJECT_KEY string = "obj"
const CHILDREN_KEY string = "children"

const typeField string = "_type"
const versionField string = "_ver"

const casMaxRetries = 5
const casRetryInterval = 20 * time.Millisecond

var _ persistence.Store = new(attributeStore)

// attributeStore keeps every object as a redis hash with one field
// per attribute. An attribute field holds the full ordered version
// history of that attribute. Shared records are mutated through
// Update, which runs the read-modify-write under WATCH.
type attributeStore struct {
	baseDao
	clock util.Clock
}

func NewAttributeStore(conf Config, clock util.Clock) *attributeStore {
	return &attributeStore{
		baseDao: *newBaseDao(conf),
		clock:   clock,
	}
}

type version struct {
	Ts int64           `json:"ts"`
	V  json.RawMessage `json:"v"`
}

func (s *attributeStore) objKey(key string) string {
	return s.getNamespaceKey(OBJECT_KEY, key)
}

func (s *attributeStore) Create(ctx context.Context, key string, typeHint string) (persistence.Handle, error) {
	objKey := s.objKey(key)
	created, err := s.redisClient.HSetNX(ctx, objKey, typeField, typeHint).Result()
	if err != nil {
		logger.Error("error creating object", zap.String("key", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if created {
		if parent := parentKey(key); parent != "" {
			err = s.redisClient.SAdd(ctx, s.getNamespaceKey(CHILDREN_KEY, parent), key).Err()
			if err != nil {
				return nil, persistence.StorageLayerError{Message: err.Error()}
			}
		}
	}
	return s.open(ctx, key, persistence.MODE_RW)
}

func (s *attributeStore) Open(ctx context.Context, key string, mode persistence.Mode) (persistence.Handle, error) {
	objKey := s.objKey(key)
	exists, err := s.redisClient.Exists(ctx, objKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if exists == 0 {
		return nil, persistence.NotFoundError{Key: key}
	}
	return s.open(ctx, key, mode)
}

func (s *attributeStore) MultiOpen(ctx context.Context, keys []string, mode persistence.Mode) ([]persistence.Handle, error) {
	handles := make([]persistence.Handle, 0, len(keys))
	for _, key := range keys {
		h, err := s.Open(ctx, key, mode)
		if err != nil {
			if _, ok := err.(persistence.NotFoundError); ok {
				continue
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *attributeStore) ListChildren(ctx context.Context, key string) ([]string, error) {
	children, err := s.redisClient.SMembers(ctx, s.getNamespaceKey(CHILDREN_KEY, key)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return children, nil
}

func (s *attributeStore) open(ctx context.Context, key string, mode persistence.Mode) (*redisHandle, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.objKey(key)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.newHandle(key, mode, fields), nil
}

func (s *attributeStore) newHandle(key string, mode persistence.Mode, fields map[string]string) *redisHandle {
	h := &redisHandle{
		store:    s,
		key:      key,
		mode:     mode,
		typeHint: fields[typeField],
		versions: make(map[string][]version),
		dirty:    make(map[string]bool),
	}
	for field, raw := range fields {
		if field == typeField || field == versionField {
			continue
		}
		var vs []version
		if err := json.Unmarshal([]byte(raw), &vs); err != nil {
			logger.Error("corrupt attribute value", zap.String("key", key), zap.String("attribute", field), zap.Error(err))
			continue
		}
		h.versions[field] = vs
	}
	return h
}

// Update runs fn against a fresh handle of the object under WATCH and
// retries with backoff on transaction conflicts. All mutations of
// shared records (rule lists, hunt membership) go through here so
// concurrent coordinators never lose each other's edits.
func (s *attributeStore) Update(ctx context.Context, key string, fn func(persistence.Handle) error) error {
	objKey := s.objKey(key)
	operation := func() error {
		err := s.redisClient.Watch(ctx, func(tx *rd.Tx) error {
			fields, err := tx.HGetAll(ctx, objKey).Result()
			if err != nil {
				return backoff.Permanent(persistence.StorageLayerError{Message: err.Error()})
			}
			h := s.newHandle(key, persistence.MODE_RW, fields)
			if err := fn(h); err != nil {
				return backoff.Permanent(err)
			}
			if len(h.dirty) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				for attr := range h.dirty {
					data, err := json.Marshal(h.versions[attr])
					if err != nil {
						return err
					}
					pipe.HSet(ctx, objKey, attr, string(data))
				}
				pipe.HIncrBy(ctx, objKey, versionField, 1)
				return nil
			})
			return err
		}, objKey)
		return err
	}
	err := backoff.Retry(operation, backoff.WithMaxRetries(
		backoff.NewConstantBackOff(casRetryInterval), casMaxRetries))
	if err != nil {
		if errors.Is(err, rd.TxFailedErr) {
			return persistence.ConcurrentModificationError{Key: key}
		}
		return err
	}
	return nil
}

type redisHandle struct {
	store    *attributeStore
	key      string
	mode     persistence.Mode
	typeHint string
	versions map[string][]version
	dirty    map[string]bool
}

var _ persistence.Handle = new(redisHandle)

func (h *redisHandle) Key() string {
	return h.key
}

func (h *redisHandle) Type() string {
	return h.typeHint
}

func (h *redisHandle) Get(attribute string) ([]byte, bool) {
	vs := h.versions[attribute]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[len(vs)-1].V, true
}

func (h *redisHandle) GetValues(attribute string) [][]byte {
	vs := h.versions[attribute]
	values := make([][]byte, 0, len(vs))
	for _, v := range vs {
		values = append(values, v.V)
	}
	return values
}

func (h *redisHandle) Set(attribute string, value []byte) {
	h.append(attribute, value)
}

func (h *redisHandle) AddAttribute(attribute string, value []byte) {
	h.append(attribute, value)
}

func (h *redisHandle) ListAttributes() []string {
	attrs := make([]string, 0, len(h.versions))
	for attr := range h.versions {
		attrs = append(attrs, attr)
	}
	return attrs
}

func (h *redisHandle) append(attribute string, value []byte) {
	ts := h.store.clock.Now().UnixNano()
	vs := h.versions[attribute]
	if len(vs) > 0 && vs[len(vs)-1].Ts >= ts {
		ts = vs[len(vs)-1].Ts + 1
	}
	h.versions[attribute] = append(vs, version{Ts: ts, V: json.RawMessage(value)})
	h.dirty[attribute] = true
}

// Close flushes buffered writes. Records that can be mutated by more
// than one coordinator must be written through Update instead.
func (h *redisHandle) Close(ctx context.Context) error {
	if h.mode != persistence.MODE_RW || len(h.dirty) == 0 {
		return nil
	}
	objKey := h.store.objKey(h.key)
	_, err := h.store.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for attr := range h.dirty {
			data, err := json.Marshal(h.versions[attr])
			if err != nil {
				return err
			}
			pipe.HSet(ctx, objKey, attr, string(data))
		}
		pipe.HIncrBy(ctx, objKey, versionField, 1)
		return nil
	})
	if err != nil {
		logger.Error("error flushing object", zap.String("key", h.key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	h.dirty = make(map[string]bool)
	return nil
}

func parentKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	return key[:idx]
}
