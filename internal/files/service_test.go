package files

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/asyncx"
	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/logging"
	"github.com/npopovs/filevault/internal/models"
	"github.com/npopovs/filevault/internal/store/memory"
)

// vault is a test harness: one service bound to one user cell, over a
// store that may be shared between harnesses to simulate multiple clients.
type vault struct {
	svc  *Service
	cell *asyncx.Value[*accounts.CurrentUser]
	dir  *accounts.Directory
	st   *memory.Store
}

func newVault(t *testing.T, shared *memory.Store) *vault {
	t.Helper()
	if shared == nil {
		shared = memory.New()
	}
	cell := asyncx.NewValue[*accounts.CurrentUser](nil)
	dir := accounts.NewDirectory(shared)
	return &vault{
		svc:  New(shared, dir, cell, logging.NewNop()),
		cell: cell,
		dir:  dir,
		st:   shared,
	}
}

func (v *vault) signIn(t *testing.T, username string) *accounts.CurrentUser {
	t.Helper()
	keys, err := accounts.NewUserKeys()
	require.NoError(t, err)
	require.NoError(t, v.dir.Publish(context.Background(), username, keys))
	u := &accounts.CurrentUser{Username: username, Keys: keys}
	v.cell.Set(u)
	return u
}

func mustUpload(t *testing.T, tr *Transfer, err error) string {
	t.Helper()
	require.NoError(t, err)
	id, err := tr.Wait(context.Background())
	require.NoError(t, err)
	return id
}

func TestUploadFile_GetFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	content := []byte("pelican photo bytes")
	tr, err := v.svc.UploadFile(ctx, "pelican.jpg", "image/jpeg", content)
	id := mustUpload(t, tr, err)
	require.NotEmpty(t, id)

	ref, record, err := v.svc.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pelican.jpg", record.Name)
	assert.Equal(t, "image/jpeg", record.MediaType)
	assert.Equal(t, models.RecordTypeFile, record.RecordType)
	assert.Equal(t, int64(len(content)), record.Size)
	assert.Equal(t, "alice", record.Owner)
	assert.Equal(t, "alice", ref.Owner)
	assert.Len(t, ref.Key, 32)
}

func TestUploadFile_ProgressReachesCompletion(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadFile(ctx, "a.bin", "application/octet-stream", []byte{1})
	require.NoError(t, err)

	last := -1
	for pct := range tr.Progress {
		last = pct
	}
	assert.Equal(t, 100, last)

	_, err = tr.Wait(ctx)
	require.NoError(t, err)
}

func TestUpload_UnauthenticatedWithoutRecipient(t *testing.T) {
	v := newVault(t, nil)

	_, err := v.svc.UploadFile(context.Background(), "a", "text/plain", []byte("x"))
	require.ErrorIs(t, err, common.ErrInvalidOperation)
}

func TestGetFile_NotFound(t *testing.T) {
	v := newVault(t, nil)
	v.signIn(t, "alice")

	_, _, err := v.svc.GetFile(context.Background(), "no-such-id")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetFile_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadNote(ctx, "draft", "hello")
	id := mustUpload(t, tr, err)

	_, _, err = v.svc.GetFile(ctx, id, models.RecordTypeFile)
	require.ErrorIs(t, err, common.ErrTypeMismatch)

	_, _, err = v.svc.GetFile(ctx, id, models.RecordTypeNote)
	require.NoError(t, err)
}

func TestRemove_ThenGetFileFails(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadFile(ctx, "a.txt", "text/plain", []byte("bye"))
	id := mustUpload(t, tr, err)

	require.NoError(t, v.svc.Remove(ctx, id))

	_, _, err = v.svc.GetFile(ctx, id)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRemove_Idempotent(t *testing.T) {
	v := newVault(t, nil)
	v.signIn(t, "alice")

	require.NoError(t, v.svc.Remove(context.Background(), "never-existed"))
	require.NoError(t, v.svc.Remove(context.Background(), "never-existed"))
}

func TestUpdateMetadata_PreservesUntouchedFields(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadFile(ctx, "old-name", "image/png", []byte("img"))
	id := mustUpload(t, tr, err)

	_, before, err := v.svc.GetFile(ctx, id)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	newName := "new-name"
	require.NoError(t, v.svc.UpdateMetadata(ctx, id, MetadataPatch{Name: &newName}))

	_, after, err := v.svc.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new-name", after.Name)
	assert.Equal(t, "image/png", after.MediaType, "untouched field preserved")
	assert.Equal(t, before.Size, after.Size)
	assert.Greater(t, after.Timestamp, before.Timestamp, "fresh timestamp stamped")
}

func TestUpdateMetadata_UnknownID(t *testing.T) {
	v := newVault(t, nil)
	v.signIn(t, "alice")

	name := "x"
	err := v.svc.UpdateMetadata(context.Background(), "missing", MetadataPatch{Name: &name})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestOperations_RequireSession(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)

	_, _, err := v.svc.GetFile(ctx, "id")
	require.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = v.svc.FilesList(ctx)
	require.ErrorIs(t, err, common.ErrUnauthorized)

	err = v.svc.Remove(ctx, "id")
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestUploadForm_DownloadForm(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	form := models.Form{
		Title: "intake",
		Fields: []models.FormField{
			{Label: "name", Value: "Alice"},
			{Label: "email", Value: "alice@example.com"},
		},
	}
	tr, err := v.svc.UploadForm(ctx, "intake-form", form)
	id := mustUpload(t, tr, err)

	got, err := v.svc.DownloadForm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, form, got)

	_, record, err := v.svc.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypeForm, record.RecordType)
	assert.Equal(t, common.SizeUnknown, record.Size)
}

func TestDownloadAndSave(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")
	dir := t.TempDir()
	v.svc.downloadDir = dir

	content := []byte("raw file bytes")
	tr, err := v.svc.UploadFile(ctx, "saved.bin", "application/octet-stream", content)
	id := mustUpload(t, tr, err)

	dl, err := v.svc.DownloadAndSave(ctx, id)
	require.NoError(t, err)

	last := -1
	for pct := range dl.Progress {
		last = pct
	}
	assert.Equal(t, 100, last)

	path, err := dl.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.FileExists(t, path)
}

func TestDownloadAndSave_RejectsNonFile(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, nil)
	v.signIn(t, "alice")

	tr, err := v.svc.UploadNote(ctx, "draft", "hello")
	id := mustUpload(t, tr, err)

	_, err = v.svc.DownloadAndSave(ctx, id)
	require.ErrorIs(t, err, common.ErrTypeMismatch)
}

func TestThumbnailKindFor(t *testing.T) {
	tests := []struct {
		mediaType string
		want      ThumbnailKind
	}{
		{"image/jpeg", ThumbnailImage},
		{"image/png", ThumbnailImage},
		{"video/mp4", ThumbnailVideo},
		{"text/plain", ThumbnailOther},
		{"", ThumbnailOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ThumbnailKindFor(tt.mediaType), tt.mediaType)
	}
}
