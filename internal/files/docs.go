package files

import (
	"context"
	"fmt"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/delta"
	"github.com/npopovs/filevault/internal/models"
)

// UpdateDoc appends one content delta to the document's log. Prior entries
// are never rewritten; the current document state is the in-order
// composition of all content entries.
func (s *Service) UpdateDoc(ctx context.Context, id string, d delta.Delta) error {
	return s.appendDocEntry(ctx, id, delta.NewDeltaEntry(d))
}

// UpdateDocSelection appends a cursor/selection event to the document's
// log. Selection events carry no persistent state and are excluded from
// composition.
func (s *Service) UpdateDocSelection(ctx context.Context, id string, r delta.Range) error {
	return s.appendDocEntry(ctx, id, delta.NewSelectionEntry(r))
}

func (s *Service) appendDocEntry(ctx context.Context, id string, entry delta.Entry) error {
	u, err := s.currentUser()
	if err != nil {
		return err
	}
	ref, _, err := s.loadReference(ctx, u, id)
	if err != nil {
		return err
	}

	encoded, err := delta.EncodeEntry(entry)
	if err != nil {
		return err
	}
	ciphertext, err := cryptox.SecretBoxSeal(encoded, ref.Key)
	if err != nil {
		return fmt.Errorf("seal doc entry %s: %w", id, err)
	}
	if _, err := s.store.Push(ctx, docPath(ref.Owner, ref.ID), ciphertext); err != nil {
		return fmt.Errorf("push doc entry %s: %w", id, err)
	}
	return nil
}

// WatchDoc opens a live view of a document. The content stream first yields
// the composition of all entries present at open time, then every
// subsequently appended content delta; selection events go to the second
// stream. Entries that fail to decrypt or decode degrade to an empty delta
// so one bad entry never breaks the document.
func (s *Service) WatchDoc(ctx context.Context, id string) (<-chan delta.Delta, <-chan delta.Range, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, nil, err
	}
	ref, _, err := s.loadReference(ctx, u, id)
	if err != nil {
		return nil, nil, err
	}

	path := docPath(ref.Owner, ref.ID)
	keys, err := s.store.ListKeys(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	bootstrap := len(keys)

	pushes, err := s.store.WatchListPushes(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	content := make(chan delta.Delta, 1)
	selections := make(chan delta.Range, 1)

	go func() {
		defer close(content)
		defer close(selections)

		// Fold the backlog eagerly so replay cost is bounded by the log
		// length at open time.
		var initial []delta.Delta
		seen := 0
		for seen < bootstrap {
			push, ok := <-pushes
			if !ok {
				return
			}
			seen++
			entry := s.decodeDocEntry(ctx, id, push.Value, ref.Key)
			if !entry.IsSelection() {
				initial = append(initial, entry.Delta())
			}
		}

		select {
		case content <- delta.ComposeAll(initial):
		case <-ctx.Done():
			return
		}

		for push := range pushes {
			entry := s.decodeDocEntry(ctx, id, push.Value, ref.Key)
			if entry.IsSelection() {
				select {
				case selections <- entry.Range():
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case content <- entry.Delta():
			case <-ctx.Done():
				return
			}
		}
	}()

	return content, selections, nil
}

// decodeDocEntry decrypts and decodes one log entry, degrading failures to
// an empty content entry.
func (s *Service) decodeDocEntry(ctx context.Context, id string, ciphertext, key []byte) delta.Entry {
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, key)
	if err != nil {
		s.log.Warn(ctx, "undecryptable doc entry", "id", id, "err", err)
		return delta.Entry{}
	}
	entry, err := delta.DecodeEntry(plaintext)
	if err != nil {
		s.log.Warn(ctx, "malformed doc entry", "id", id, "err", err)
		return delta.Entry{}
	}
	return entry
}

// UpdateNote replaces a note's content wholesale and refreshes the record's
// size and timestamp in the same logical operation.
func (s *Service) UpdateNote(ctx context.Context, id string, d delta.Delta) error {
	ref, record, err := s.GetFile(ctx, id, models.RecordTypeNote)
	if err != nil {
		return err
	}

	encoded, err := models.Encode(d)
	if err != nil {
		return err
	}
	ciphertext, err := cryptox.SecretBoxSeal(encoded, ref.Key)
	if err != nil {
		return fmt.Errorf("seal note %s: %w", id, err)
	}
	if err := s.store.Set(ctx, contentPath(ref.Owner, ref.ID), ciphertext); err != nil {
		return err
	}

	record.Size = int64(len(cryptox.FromString(d.PlainText())))
	record.Timestamp = common.TimestampMs()
	return s.writeRecord(ctx, record, ref.Key)
}

// WatchNote streams a note's content delta: the current state first, then
// every replacement. Unset or unreadable content degrades to an empty
// delta.
func (s *Service) WatchNote(ctx context.Context, id string) (<-chan delta.Delta, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	ref, _, err := s.loadReference(ctx, u, id)
	if err != nil {
		return nil, err
	}

	values, err := s.store.Watch(ctx, contentPath(ref.Owner, ref.ID))
	if err != nil {
		return nil, err
	}

	out := make(chan delta.Delta, 1)
	go func() {
		defer close(out)
		for value := range values {
			d := s.decodeNote(ctx, id, value, ref.Key)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) decodeNote(ctx context.Context, id string, ciphertext, key []byte) delta.Delta {
	if len(ciphertext) == 0 {
		return delta.Delta{}
	}
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, key)
	if err != nil {
		s.log.Warn(ctx, "undecryptable note", "id", id, "err", err)
		return delta.Delta{}
	}
	d, err := models.Decode[delta.Delta](plaintext)
	if err != nil {
		s.log.Warn(ctx, "malformed note", "id", id, "err", err)
		return delta.Delta{}
	}
	return d
}

// WatchMetadata streams the record for id: the current record first, then
// every metadata update. An unreadable record degrades to the placeholder
// entry.
func (s *Service) WatchMetadata(ctx context.Context, id string) (<-chan models.FileRecord, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	ref, _, err := s.loadReference(ctx, u, id)
	if err != nil {
		return nil, err
	}

	values, err := s.store.Watch(ctx, recordPath(ref.Owner, ref.ID))
	if err != nil {
		return nil, err
	}

	out := make(chan models.FileRecord, 1)
	go func() {
		defer close(out)
		for value := range values {
			record := s.decodeRecord(ctx, id, value, ref.Key)
			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) decodeRecord(ctx context.Context, id string, ciphertext, key []byte) models.FileRecord {
	if len(ciphertext) == 0 {
		return placeholderFor(id)
	}
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, key)
	if err != nil {
		s.log.Warn(ctx, "undecryptable record", "id", id, "err", err)
		return placeholderFor(id)
	}
	record, err := models.Decode[models.FileRecord](plaintext)
	if err != nil {
		s.log.Warn(ctx, "malformed record", "id", id, "err", err)
		return placeholderFor(id)
	}
	return record
}

func placeholderFor(id string) models.FileRecord {
	record := models.Placeholder()
	record.ID = id
	return record
}
