package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestStore_GetSetRemove(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "a/b")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Set(ctx, "a/b", []byte("v1")))
	got, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	// Last write wins.
	require.NoError(t, s.Set(ctx, "a/b", []byte("v2")))
	got, err = s.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Remove(ctx, "a/b"))
	_, err = s.Get(ctx, "a/b")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Remove(ctx, "a/b"))
}

func TestStore_RemoveDeletesSubtree(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/alice/docs/1", []byte("x")))
	require.NoError(t, s.Set(ctx, "users/alice/docs/2", []byte("y")))
	require.NoError(t, s.Set(ctx, "users/alice/other", []byte("z")))

	require.NoError(t, s.Remove(ctx, "users/alice/docs"))

	keys, err := s.ListKeys(ctx, "users/alice/docs")
	require.NoError(t, err)
	require.Empty(t, keys)

	got, err := s.Get(ctx, "users/alice/other")
	require.NoError(t, err)
	require.Equal(t, []byte("z"), got)
}

func TestStore_PushAndListKeys(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		idx, err := s.Push(ctx, "log", []byte{byte(i)})
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	keys, err := s.ListKeys(ctx, "log")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	// Zero-padded keys sort in append order.
	require.True(t, sortedAscending(keys))
}

func sortedAscending(keys []string) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			return false
		}
	}
	return true
}

func TestStore_Watch_ReplaysThenStreams(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Set(ctx, "p", []byte("v1")))

	ch, err := s.Watch(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), <-ch)

	require.NoError(t, s.Set(ctx, "p", []byte("v2")))
	require.Equal(t, []byte("v2"), <-ch)
}

func TestStore_WatchListPushes_BacklogThenLive(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Push(ctx, "log", []byte("one"))
	require.NoError(t, err)

	ch, err := s.WatchListPushes(ctx, "log")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, 0, first.Index)
	require.Equal(t, []byte("one"), first.Value)

	_, err = s.Push(ctx, "log", []byte("two"))
	require.NoError(t, err)

	select {
	case second := <-ch:
		require.Equal(t, 1, second.Index)
		require.Equal(t, []byte("two"), second.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live push")
	}
}

var _ store.Store = (*Store)(nil)
