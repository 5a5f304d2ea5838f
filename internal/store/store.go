// Package store defines the storage collaborator contract: an encrypted
// key-value / append-log engine addressed by hierarchical string paths.
// The engine never inspects path contents beyond substring composition.
//
// Consistency model: last-write-wins per path, append-order-preserved per
// push list. There is no multi-path transaction; callers sequence their own
// multi-path writes.
package store

import "context"

// KeyValue is one direct child of a list path.
type KeyValue struct {
	Key   string
	Value []byte
}

// ListPush is one appended entry of a push list.
type ListPush struct {
	Index int
	Value []byte
}

// Store is the logical storage contract consumed by the engine.
//
// A path holds either a single value (Set/Get) or acts as the parent of a
// list: direct children written via Set(path/key) or appended via Push.
// Remove deletes the path and everything beneath it and is idempotent.
type Store interface {
	// Get returns the value at path, or common.ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Set writes the value at path (last write wins).
	Set(ctx context.Context, path string, value []byte) error

	// Remove deletes path and all of its children. Removing a missing
	// path is a no-op.
	Remove(ctx context.Context, path string) error

	// Push appends value to the list at path and returns its index.
	Push(ctx context.Context, path string, value []byte) (int, error)

	// ListKeys returns the sorted keys of path's direct children.
	ListKeys(ctx context.Context, path string) ([]string, error)

	// Watch streams the value at path: the current value first (empty if
	// unset), then every subsequent change. Closed when ctx is done.
	Watch(ctx context.Context, path string) (<-chan []byte, error)

	// WatchList streams the full child set of path: current snapshot
	// first, then a new snapshot on every change beneath path.
	WatchList(ctx context.Context, path string) (<-chan []KeyValue, error)

	// WatchListPushes streams appended entries of the list at path:
	// the existing backlog in append order, then subsequent pushes.
	// Unlike Watch/WatchList, entries are never coalesced.
	WatchListPushes(ctx context.Context, path string) (<-chan ListPush, error)
}
