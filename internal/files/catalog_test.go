package files

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/models"
)

func TestFilesList_SortedByTimestampDescending(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		tr, err := v.svc.UploadFile(ctx, name, "text/plain", []byte(name))
		ids = append(ids, mustUpload(t, tr, err))
		time.Sleep(2 * time.Millisecond)
	}

	listing, err := v.svc.FilesList(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 3)
	assert.Equal(t, "third", listing[0].Name)
	assert.Equal(t, "second", listing[1].Name)
	assert.Equal(t, "first", listing[2].Name)

	// Touching the oldest entry moves it to the front.
	time.Sleep(2 * time.Millisecond)
	name := "first-renamed"
	require.NoError(t, v.svc.UpdateMetadata(ctx, ids[0], MetadataPatch{Name: &name}))

	listing, err = v.svc.FilesList(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first-renamed", listing[0].Name)
}

func TestFilesList_PlaceholderForEmptyOwner(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	u := v.signIn(t, "alice")

	tr, err := v.svc.UploadNote(ctx, "real", "content")
	mustUpload(t, tr, err)

	// A reference whose owner never resolved.
	require.NoError(t, v.svc.writeReference(ctx, u, models.FileReference{
		ID:  "dangling",
		Key: cryptox.GenerateKey(),
	}))

	listing, err := v.svc.FilesList(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 2, "placeholder still included for stability")

	var placeholder models.FileRecord
	for _, record := range listing {
		if record.Owner == "" {
			placeholder = record
		}
	}
	assert.Equal(t, "dangling", placeholder.ID)
	assert.Equal(t, models.RecordTypeFile, placeholder.RecordType)
	assert.Equal(t, common.SizeUnknown, placeholder.Size)

	// Filtered sub-views exclude it.
	filtered, err := v.svc.FilesListByType(ctx, models.RecordTypeFile)
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestFilesListByType(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadNote(ctx, "a-note", "text")
	mustUpload(t, tr, err)
	tr, err = v.svc.UploadFile(ctx, "a-file", "image/png", []byte("img"))
	mustUpload(t, tr, err)

	notes, err := v.svc.FilesListByType(ctx, models.RecordTypeNote)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "a-note", notes[0].Name)

	docs, err := v.svc.FilesListByType(ctx, models.RecordTypeDoc)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWatchFilesList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := newVault(t, nil)
	v.signIn(t, "alice")

	listings, err := v.svc.WatchFilesList(ctx)
	require.NoError(t, err)

	select {
	case listing := <-listings:
		assert.Empty(t, listing)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial listing")
	}

	tr, err := v.svc.UploadFile(ctx, "appeared", "text/plain", []byte("x"))
	mustUpload(t, tr, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case listing := <-listings:
			if len(listing) == 1 && listing[0].Name == "appeared" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for updated listing")
		}
	}
}

func TestFirstLoad_SignalledAfterFirstProjection(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	select {
	case <-v.svc.FirstLoad():
		t.Fatal("first load signalled before any projection")
	default:
	}

	_, err := v.svc.FilesList(ctx)
	require.NoError(t, err)

	select {
	case <-v.svc.FirstLoad():
	case <-time.After(time.Second):
		t.Fatal("first load not signalled")
	}
}

func TestNoteSnippet_ShortNote(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadNote(ctx, "draft", "hello")
	id := mustUpload(t, tr, err)

	assert.Equal(t, SnippetPlaceholder, v.svc.NoteSnippet(ctx, id), "placeholder until computed")

	require.Eventually(t, func() bool {
		return v.svc.NoteSnippet(ctx, id) == "hello"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoteSnippet_TruncatesLongNote(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	body := strings.Repeat("x", 200)
	tr, err := v.svc.UploadNote(ctx, "long", body)
	id := mustUpload(t, tr, err)

	want := strings.Repeat("x", 75) + "..."
	v.svc.NoteSnippet(ctx, id)
	require.Eventually(t, func() bool {
		return v.svc.NoteSnippet(ctx, id) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoteSnippet_CustomLimit(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")
	v.svc.snippetLimit = 5

	tr, err := v.svc.UploadNote(ctx, "tiny", "hello world")
	id := mustUpload(t, tr, err)

	v.svc.NoteSnippet(ctx, id)
	require.Eventually(t, func() bool {
		return v.svc.NoteSnippet(ctx, id) == "hello..."
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTruncateSnippet_RuneSafe(t *testing.T) {
	assert.Equal(t, "héllo", truncateSnippet("héllo", 75))
	assert.Equal(t, "hél...", truncateSnippet("héllo wörld", 3))
	assert.Equal(t, "", truncateSnippet("", 75))
}
