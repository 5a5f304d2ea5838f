package files

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/delta"
	"github.com/npopovs/filevault/internal/models"
)

const (
	mediaTypeNote = "text/plain"
	mediaTypeDoc  = "application/vnd.vault.doc"
	mediaTypeForm = "application/vnd.vault.form"
)

// contentWriter writes the content of a new file under owner's paths,
// encrypted with the file key, reporting progress along the way.
type contentWriter func(ctx context.Context, owner string, key []byte, t *Transfer) error

// UploadFile stores an opaque blob under a fresh symmetric key and returns
// a Transfer that completes when the record, content and reference are all
// written. With shareWith, the file is additionally shared with each
// recipient; an unauthenticated caller with recipients takes the anonymous
// path instead (nothing is persisted under the caller's account).
func (s *Service) UploadFile(ctx context.Context, name, mediaType string, content []byte, shareWith ...string) (*Transfer, error) {
	record := models.FileRecord{
		Name:       name,
		MediaType:  mediaType,
		RecordType: models.RecordTypeFile,
		Size:       int64(len(content)),
	}
	return s.upload(ctx, record, s.blobWriter(content), shareWith)
}

// UploadNote stores a short text note. The note body is kept as a content
// delta so later edits go through the same representation as documents.
func (s *Service) UploadNote(ctx context.Context, name, text string, shareWith ...string) (*Transfer, error) {
	d := delta.FromText(text)
	record := models.FileRecord{
		Name:       name,
		MediaType:  mediaTypeNote,
		RecordType: models.RecordTypeNote,
		Size:       int64(len(cryptox.FromString(text))),
	}
	encoded, err := models.Encode(d)
	if err != nil {
		return nil, err
	}
	return s.upload(ctx, record, s.blobWriter(encoded), shareWith)
}

// UploadDoc initializes a collaborative document from a sequence of initial
// deltas, pushed one by one onto the append-only doc log.
func (s *Service) UploadDoc(ctx context.Context, name string, deltas []delta.Delta, shareWith ...string) (*Transfer, error) {
	record := models.FileRecord{
		Name:       name,
		MediaType:  mediaTypeDoc,
		RecordType: models.RecordTypeDoc,
		Size:       common.SizeUnknown,
	}
	return s.upload(ctx, record, s.docWriter(deltas), shareWith)
}

// UploadForm stores structured form content.
func (s *Service) UploadForm(ctx context.Context, name string, form models.Form, shareWith ...string) (*Transfer, error) {
	encoded, err := models.Encode(form)
	if err != nil {
		return nil, err
	}
	record := models.FileRecord{
		Name:       name,
		MediaType:  mediaTypeForm,
		RecordType: models.RecordTypeForm,
		Size:       common.SizeUnknown,
	}
	return s.upload(ctx, record, s.blobWriter(encoded), shareWith)
}

// blobWriter seals content under the file key and writes it as a single
// value at the owner's content path.
func (s *Service) blobWriter(content []byte) contentWriter {
	return func(ctx context.Context, owner string, key []byte, t *Transfer) error {
		ciphertext, err := cryptox.SecretBoxSeal(content, key)
		if err != nil {
			return fmt.Errorf("seal content: %w", err)
		}
		return s.store.Set(ctx, contentPath(owner, t.ID), ciphertext)
	}
}

// docWriter pushes each initial delta onto the owner's doc log, reporting
// progress proportional to the entries written.
func (s *Service) docWriter(deltas []delta.Delta) contentWriter {
	return func(ctx context.Context, owner string, key []byte, t *Transfer) error {
		for i, d := range deltas {
			encoded, err := delta.EncodeEntry(delta.NewDeltaEntry(d))
			if err != nil {
				return err
			}
			ciphertext, err := cryptox.SecretBoxSeal(encoded, key)
			if err != nil {
				return fmt.Errorf("seal doc entry: %w", err)
			}
			if _, err := s.store.Push(ctx, docPath(owner, t.ID), ciphertext); err != nil {
				return fmt.Errorf("push doc entry: %w", err)
			}
			t.report(int(math.Round(float64(i+1) / float64(len(deltas)) * 100)))
		}
		return nil
	}
}

// upload runs the shared upload sequence: mint key and id, write content,
// record and reference as one logical unit, then share with any recipients.
func (s *Service) upload(ctx context.Context, record models.FileRecord, write contentWriter, shareWith []string) (*Transfer, error) {
	u := s.user.Get()
	if u == nil || u.Username == "" {
		if len(shareWith) == 0 {
			return nil, fmt.Errorf("upload without account or recipient: %w", common.ErrInvalidOperation)
		}
		return s.uploadAnonymous(ctx, record, write, shareWith), nil
	}

	record.ID = uuid.NewString()
	record.Owner = u.Username
	record.Timestamp = common.TimestampMs()
	key := cryptox.GenerateKey()

	t := newTransfer(record.ID)
	go func() {
		err := s.commitUpload(ctx, u, record, key, write, t)
		if err == nil {
			for _, recipient := range shareWith {
				if shareErr := s.ShareFile(ctx, record.ID, recipient); shareErr != nil {
					err = shareErr
					break
				}
			}
		}
		if err == nil {
			t.report(100)
		}
		t.finish(record.ID, err)
	}()
	return t, nil
}

// uploadAnonymous writes content under each recipient's paths and seals a
// {record, key} bundle to them. The sender keeps nothing.
func (s *Service) uploadAnonymous(ctx context.Context, record models.FileRecord, write contentWriter, shareWith []string) *Transfer {
	record.ID = uuid.NewString()
	record.Timestamp = common.TimestampMs()
	key := cryptox.GenerateKey()

	t := newTransfer(record.ID)
	go func() {
		var err error
		for _, recipient := range shareWith {
			if err = write(ctx, recipient, key, t); err != nil {
				break
			}
			if err = s.ShareBundle(ctx, record, key, recipient); err != nil {
				break
			}
		}
		if err == nil {
			t.report(100)
		}
		t.finish(record.ID, err)
	}()
	return t
}

func (s *Service) commitUpload(ctx context.Context, u *accounts.CurrentUser, record models.FileRecord, key []byte, write contentWriter, t *Transfer) error {
	if err := write(ctx, record.Owner, key, t); err != nil {
		return err
	}
	if err := s.writeRecord(ctx, record, key); err != nil {
		return err
	}
	return s.writeReference(ctx, u, models.FileReference{
		ID:    record.ID,
		Owner: record.Owner,
		Key:   key,
	})
}
