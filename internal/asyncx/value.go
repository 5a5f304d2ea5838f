// Package asyncx provides a single-slot container for a possibly secret
// value, with serialized updates, change notification, and secure erasure
// of superseded byte buffers.
package asyncx

import (
	"context"
	"sync"

	"github.com/npopovs/filevault/internal/common"
)

// Wiper is implemented by values that know how to zero their own secret
// material when superseded in a Value.
type Wiper interface {
	Wipe()
}

// Value holds one value of type T.
//
// Set replaces the value and notifies watchers. If the superseded value is a
// byte buffer (or a slice of byte buffers, or implements Wiper), its bytes
// are overwritten with zeros before release, minimizing how long decrypted
// secrets stay resident after supersession.
//
// Update serializes transforms: at most one in-flight transform per cell.
// A failing transform leaves the cell unchanged; unlike the usual
// fire-and-forget setter, the failure is returned to the caller.
type Value[T any] struct {
	mu       sync.Mutex
	value    T
	watchers map[int]chan T
	nextID   int

	sem chan struct{}
}

// NewValue returns a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		value:    initial,
		watchers: make(map[int]chan T),
		sem:      make(chan struct{}, 1),
	}
}

// Get returns the current value without blocking on in-flight updates.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set replaces the current value, wipes the superseded one, and publishes
// the change to all watchers.
func (v *Value[T]) Set(newValue T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	old := v.value
	v.value = newValue
	wipe(old)

	for _, ch := range v.watchers {
		sendLatest(ch, newValue)
	}
}

// Update acquires the cell's exclusive update slot, applies f to the current
// value, and stores the result. If f fails the cell is left unchanged and
// the error is returned. The slot is always released.
func (v *Value[T]) Update(ctx context.Context, f func(T) (T, error)) error {
	select {
	case v.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-v.sem }()

	newValue, err := f(v.Get())
	if err != nil {
		return err
	}

	v.Set(newValue)
	return nil
}

// Watch returns a stream that immediately yields the current value and then
// every subsequent change. Intermediate values may be coalesced: a slow
// consumer always observes the latest value, not history. The channel is
// closed when ctx is done.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = ch
	ch <- v.value
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.watchers, id)
		close(ch)
		v.mu.Unlock()
	}()

	return ch
}

// sendLatest delivers val into a 1-buffered channel, replacing any
// undelivered previous value. Callers must hold v.mu.
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

func wipe(old any) {
	switch b := old.(type) {
	case []byte:
		common.WipeByteArray(b)
	case [][]byte:
		for _, v := range b {
			common.WipeByteArray(v)
		}
	case Wiper:
		b.Wipe()
	}
}
