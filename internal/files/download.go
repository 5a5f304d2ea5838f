package files

import (
	"context"
	"fmt"

	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/delta"
	"github.com/npopovs/filevault/internal/filex"
	"github.com/npopovs/filevault/internal/models"
)

// DownloadAndSave fetches a blob-type file, decrypts it and saves it into
// the configured download directory under the record's name. The returned
// Transfer streams 0–100 progress and its result is the saved path.
func (s *Service) DownloadAndSave(ctx context.Context, id string) (*Transfer, error) {
	ref, record, err := s.GetFile(ctx, id, models.RecordTypeFile)
	if err != nil {
		return nil, err
	}

	t := newTransfer(id)
	go func() {
		t.report(0)

		ciphertext, err := s.store.Get(ctx, contentPath(ref.Owner, ref.ID))
		if err != nil {
			t.finish("", fmt.Errorf("content %s: %w", id, err))
			return
		}
		t.report(50)

		plaintext, err := cryptox.SecretBoxOpen(ciphertext, ref.Key)
		if err != nil {
			t.finish("", fmt.Errorf("open content %s: %w", id, err))
			return
		}
		t.report(75)

		path, err := filex.SaveFile(s.downloadDir, record.Name, plaintext)
		if err != nil {
			t.finish("", err)
			return
		}
		t.report(100)
		t.finish(path, nil)
	}()
	return t, nil
}

// downloadBlob fetches and decrypts the single-value content of id after
// checking its record type.
func (s *Service) downloadBlob(ctx context.Context, id string, expected models.RecordType) ([]byte, error) {
	ref, _, err := s.GetFile(ctx, id, expected)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.store.Get(ctx, contentPath(ref.Owner, ref.ID))
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", id, err)
	}
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("open content %s: %w", id, err)
	}
	return plaintext, nil
}

// DownloadNote returns a note's content delta.
func (s *Service) DownloadNote(ctx context.Context, id string) (delta.Delta, error) {
	plaintext, err := s.downloadBlob(ctx, id, models.RecordTypeNote)
	if err != nil {
		return delta.Delta{}, err
	}
	if len(plaintext) == 0 {
		return delta.Delta{}, nil
	}
	return models.Decode[delta.Delta](plaintext)
}

// DownloadForm returns a form's structured content.
func (s *Service) DownloadForm(ctx context.Context, id string) (models.Form, error) {
	plaintext, err := s.downloadBlob(ctx, id, models.RecordTypeForm)
	if err != nil {
		return models.Form{}, err
	}
	return models.Decode[models.Form](plaintext)
}
