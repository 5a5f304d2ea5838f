package store

import (
	"context"
	"sync"
)

// Hub fans out change notifications to watchers. It carries no data itself;
// backends publish into it after committing their own state. Value and list
// streams coalesce to the latest state for slow consumers; push streams are
// queued and delivered one by one.
type Hub struct {
	mu     sync.Mutex
	values map[string]map[int]chan []byte
	lists  map[string]map[int]chan []KeyValue
	pushes map[string]map[int]*pushQueue
	nextID int
}

func NewHub() *Hub {
	return &Hub{
		values: make(map[string]map[int]chan []byte),
		lists:  make(map[string]map[int]chan []KeyValue),
		pushes: make(map[string]map[int]*pushQueue),
	}
}

// SubscribeValue registers a watcher for path, seeding it with current.
func (h *Hub) SubscribeValue(ctx context.Context, path string, current []byte) <-chan []byte {
	ch := make(chan []byte, 1)

	h.mu.Lock()
	if h.values[path] == nil {
		h.values[path] = make(map[int]chan []byte)
	}
	id := h.nextID
	h.nextID++
	h.values[path][id] = ch
	ch <- current
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.values[path], id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// PublishValue notifies value watchers of path.
func (h *Hub) PublishValue(path string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.values[path] {
		sendLatest(ch, value)
	}
}

// SubscribeList registers a snapshot watcher for path's children.
func (h *Hub) SubscribeList(ctx context.Context, path string, current []KeyValue) <-chan []KeyValue {
	ch := make(chan []KeyValue, 1)

	h.mu.Lock()
	if h.lists[path] == nil {
		h.lists[path] = make(map[int]chan []KeyValue)
	}
	id := h.nextID
	h.nextID++
	h.lists[path][id] = ch
	ch <- current
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.lists[path], id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// PublishList notifies list watchers of path with a fresh snapshot.
func (h *Hub) PublishList(path string, entries []KeyValue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.lists[path] {
		sendLatest(ch, entries)
	}
}

// SubscribePushes registers a push watcher for path. The backlog is
// delivered first, in order; subsequent pushes follow without coalescing.
func (h *Hub) SubscribePushes(ctx context.Context, path string, backlog []ListPush) <-chan ListPush {
	q := newPushQueue()

	h.mu.Lock()
	if h.pushes[path] == nil {
		h.pushes[path] = make(map[int]*pushQueue)
	}
	id := h.nextID
	h.nextID++
	h.pushes[path][id] = q
	for _, p := range backlog {
		q.enqueue(p)
	}
	h.mu.Unlock()

	go q.run(ctx)
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.pushes[path], id)
		h.mu.Unlock()
	}()

	return q.out
}

// PublishPush delivers one appended entry to push watchers of path.
func (h *Hub) PublishPush(path string, p ListPush) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, q := range h.pushes[path] {
		q.enqueue(p)
	}
}

// sendLatest delivers val into a 1-buffered channel, replacing any
// undelivered previous value. Callers must hold h.mu.
func sendLatest[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- val:
	default:
	}
}

// pushQueue buffers pushed entries for one subscriber so that publishers
// never block and no entry is dropped.
type pushQueue struct {
	mu    sync.Mutex
	items []ListPush
	wake  chan struct{}
	out   chan ListPush
}

func newPushQueue() *pushQueue {
	return &pushQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan ListPush),
	}
}

func (q *pushQueue) enqueue(p ListPush) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *pushQueue) run(ctx context.Context) {
	defer close(q.out)
	for {
		q.mu.Lock()
		var next *ListPush
		if len(q.items) > 0 {
			next = &q.items[0]
			q.items = q.items[1:]
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case q.out <- *next:
		case <-ctx.Done():
			return
		}
	}
}
