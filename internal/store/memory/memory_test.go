package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/store"
)

func TestStore_GetSetRemove(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Get(ctx, "a/b")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Set(ctx, "a/b", []byte("v1")))
	got, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Remove(ctx, "a/b"))
	_, err = s.Get(ctx, "a/b")
	require.ErrorIs(t, err, common.ErrNotFound)

	// Removing a missing path is a no-op.
	require.NoError(t, s.Remove(ctx, "a/b"))
}

func TestStore_RemoveDeletesChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/alice/docs/1", []byte("x")))
	require.NoError(t, s.Set(ctx, "users/alice/docs/2", []byte("y")))
	require.NoError(t, s.Remove(ctx, "users/alice/docs"))

	keys, err := s.ListKeys(ctx, "users/alice/docs")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStore_PushAssignsSequentialIndexes(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		idx, err := s.Push(ctx, "log", []byte{byte(i)})
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	keys, err := s.ListKeys(ctx, "log")
	require.NoError(t, err)
	require.Len(t, keys, 3)
}

func TestStore_ListKeysDirectChildrenOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/alice/fileReferences/f1", []byte("a")))
	require.NoError(t, s.Set(ctx, "users/alice/fileReferences/f2", []byte("b")))
	require.NoError(t, s.Set(ctx, "users/alice/fileReferences/f2/nested", []byte("c")))

	keys, err := s.ListKeys(ctx, "users/alice/fileReferences")
	require.NoError(t, err)
	require.Equal(t, []string{"f1", "f2"}, keys)
}

func TestStore_Watch_ReplaysThenStreams(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Set(ctx, "p", []byte("v1")))

	ch, err := s.Watch(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), <-ch)

	require.NoError(t, s.Set(ctx, "p", []byte("v2")))
	require.Equal(t, []byte("v2"), <-ch)
}

func TestStore_WatchList_SnapshotOnChange(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchList(ctx, "inbox")
	require.NoError(t, err)
	require.Empty(t, <-ch)

	require.NoError(t, s.Set(ctx, "inbox/a", []byte("1")))

	snapshot := <-ch
	require.Len(t, snapshot, 1)
	require.Equal(t, "a", snapshot[0].Key)
}

func TestStore_WatchListPushes_BacklogThenLive(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Push(ctx, "log", []byte("one"))
	require.NoError(t, err)
	_, err = s.Push(ctx, "log", []byte("two"))
	require.NoError(t, err)

	ch, err := s.WatchListPushes(ctx, "log")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, 0, first.Index)
	require.Equal(t, []byte("one"), first.Value)

	second := <-ch
	require.Equal(t, 1, second.Index)
	require.Equal(t, []byte("two"), second.Value)

	_, err = s.Push(ctx, "log", []byte("three"))
	require.NoError(t, err)

	select {
	case third := <-ch:
		require.Equal(t, 2, third.Index)
		require.Equal(t, []byte("three"), third.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live push")
	}
}

func TestStore_WatchListPushes_NoCoalescing(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchListPushes(ctx, "log")
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		_, err := s.Push(ctx, "log", []byte{byte(i)})
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		select {
		case p := <-ch:
			require.Equal(t, i, p.Index)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for push %d", i)
		}
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "p", []byte("abc")))

	got, err := s.Get(ctx, "p")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := s.Get(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

var _ store.Store = (*Store)(nil)
