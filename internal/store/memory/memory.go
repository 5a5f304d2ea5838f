// Package memory provides the in-memory reference implementation of the
// store contract. It is the authoritative backend for tests and the model
// against which the persistent backends are checked.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/store"
)

// Store keeps all paths in a flat map and fans out changes through a Hub.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
	hub  *store.Hub
}

func New() *Store {
	return &Store{
		data: make(map[string][]byte),
		hub:  store.NewHub(),
	}
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, common.ErrNotFound)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Set(_ context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[path] = stored

	s.hub.PublishValue(path, stored)
	s.publishParentLocked(path)
	return nil
}

func (s *Store) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := path + "/"
	removed := false
	for p := range s.data {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.data, p)
			removed = true
		}
	}
	if removed {
		s.hub.PublishValue(path, nil)
		s.hub.PublishList(path, s.childrenLocked(path))
		s.publishParentLocked(path)
	}
	return nil
}

func (s *Store) Push(_ context.Context, path string, value []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := len(s.childrenLocked(path))
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[pushKey(path, index)] = stored

	s.hub.PublishPush(path, store.ListPush{Index: index, Value: stored})
	s.hub.PublishList(path, s.childrenLocked(path))
	return index, nil
}

func (s *Store) ListKeys(_ context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := s.childrenLocked(path)
	keys := make([]string, len(children))
	for i, kv := range children {
		keys[i] = kv.Key
	}
	return keys, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.SubscribeValue(ctx, path, s.data[path]), nil
}

func (s *Store) WatchList(ctx context.Context, path string) (<-chan []store.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.SubscribeList(ctx, path, s.childrenLocked(path)), nil
}

func (s *Store) WatchListPushes(ctx context.Context, path string) (<-chan store.ListPush, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := s.childrenLocked(path)
	backlog := make([]store.ListPush, len(children))
	for i, kv := range children {
		backlog[i] = store.ListPush{Index: i, Value: kv.Value}
	}
	return s.hub.SubscribePushes(ctx, path, backlog), nil
}

// childrenLocked returns the direct children of path sorted by key.
func (s *Store) childrenLocked(path string) []store.KeyValue {
	prefix := path + "/"
	var out []store.KeyValue
	for p, v := range s.data {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, store.KeyValue{Key: rest, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// publishParentLocked refreshes list watchers of path's parent.
func (s *Store) publishParentLocked(path string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return
	}
	parent := path[:i]
	s.hub.PublishList(parent, s.childrenLocked(parent))
}

func pushKey(path string, index int) string {
	return fmt.Sprintf("%s/%010d", path, index)
}
