package persistence

import (
	"context"
	"fmt"
)

type Mode string

const MODE_READ Mode = "r"
const MODE_RW Mode = "rw"

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.Key)
}

type ConcurrentModificationError struct {
	Key string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of %s", e.Key)
}

// Store is a versioned attribute store. Every attribute of an object
// is an ordered sequence of timestamped values; reads return the
// newest version unless full history is requested.
type Store interface {
	// Create opens an object handle, creating the object if absent.
	Create(ctx context.Context, key string, typeHint string) (Handle, error)
	// Open fails with NotFoundError if the object does not exist.
	Open(ctx context.Context, key string, mode Mode) (Handle, error)
	MultiOpen(ctx context.Context, keys []string, mode Mode) ([]Handle, error)
	ListChildren(ctx context.Context, key string) ([]string, error)
	// Update performs a read-modify-write of one object under the
	// store's compare-and-set primitive. The mutation function may be
	// invoked more than once; after the retry budget is exhausted
	// Update fails with ConcurrentModificationError.
	Update(ctx context.Context, key string, fn func(Handle) error) error
}

// Handle is a scoped view of one object. Mutations are buffered and
// flushed on Close (or at the end of Update).
type Handle interface {
	Key() string
	Type() string
	// Get returns the newest version of an attribute.
	Get(attribute string) ([]byte, bool)
	// GetValues returns every version of an attribute, oldest first.
	GetValues(attribute string) [][]byte
	// Set records a new current value for an attribute. Prior
	// versions are retained.
	Set(attribute string, value []byte)
	// AddAttribute appends a new versioned instance without
	// overwriting prior versions.
	AddAttribute(attribute string, value []byte)
	// ListAttributes returns the attribute names present on the object.
	ListAttributes() []string
	Close(ctx context.Context) error
}
