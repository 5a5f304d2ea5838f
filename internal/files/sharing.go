package files

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/models"
)

// ShareFile signs the caller's reference for id and delivers it, sealed to
// the recipient's public encryption key, into the recipient's incoming
// queue. Sharing with oneself is a silent no-op. An unauthenticated caller
// cannot prove provenance and fails with ErrInvalidOperation; use
// ShareBundle for the account-less path.
func (s *Service) ShareFile(ctx context.Context, id, recipient string) error {
	u := s.user.Get()
	if u == nil || u.Username == "" {
		return fmt.Errorf("share without account: %w", common.ErrInvalidOperation)
	}
	if recipient == u.Username {
		return nil
	}

	_, refBytes, err := s.loadReference(ctx, u, id)
	if err != nil {
		return err
	}

	signed, err := cryptox.Sign(refBytes, u.Keys.Signing.Private)
	if err != nil {
		return fmt.Errorf("sign reference %s: %w", id, err)
	}

	container := models.ReferenceContainer{
		SignedShare: &models.SignedShare{
			SignedReference: signed,
			Owner:           u.Username,
		},
	}
	return s.deliver(ctx, container, id, recipient)
}

// ShareBundle delivers a self-contained {record, key} bundle to recipient.
// No account and no local reference are required, which makes it the
// anonymous sharing path.
func (s *Service) ShareBundle(ctx context.Context, record models.FileRecord, key []byte, recipient string) error {
	if u := s.user.Get(); u != nil && recipient == u.Username {
		return nil
	}
	container := models.ReferenceContainer{
		AnonymousShare: &models.AnonymousShare{
			Record: record,
			Key:    key,
		},
	}
	return s.deliver(ctx, container, record.ID, recipient)
}

// deliver seals a reference container to recipient's public encryption key
// and writes it into their incoming queue.
func (s *Service) deliver(ctx context.Context, container models.ReferenceContainer, id, recipient string) error {
	if err := container.Validate(); err != nil {
		return err
	}

	pub, err := s.dir.PublicKeys(ctx, recipient)
	if err != nil {
		return err
	}

	plaintext, err := models.Encode(container)
	if err != nil {
		return err
	}
	sealed, err := cryptox.SealAnonymous(plaintext, pub.Encryption)
	if err != nil {
		return fmt.Errorf("seal share to %s: %w", recipient, err)
	}
	return s.store.Set(ctx, incomingFilePath(recipient, id), sealed)
}

// decodeIncoming opens a sealed incoming entry and resolves it into a
// committable preview. Results are memoized by ciphertext. A signature that
// fails verification is a hard authenticity failure; an entry that does not
// decode at all resolves to a zero preview.
func (s *Service) decodeIncoming(ctx context.Context, u *accounts.CurrentUser, ciphertext []byte) (models.IncomingFile, error) {
	cacheKey := string(ciphertext)

	s.incomingMu.Lock()
	if cached, ok := s.incoming[cacheKey]; ok {
		s.incomingMu.Unlock()
		return cached.file, cached.err
	}
	s.incomingMu.Unlock()

	file, err := s.resolveIncoming(ctx, u, ciphertext)

	s.incomingMu.Lock()
	s.incoming[cacheKey] = incomingResult{file: file, err: err}
	s.incomingMu.Unlock()

	return file, err
}

func (s *Service) resolveIncoming(ctx context.Context, u *accounts.CurrentUser, ciphertext []byte) (models.IncomingFile, error) {
	plaintext, err := cryptox.OpenAnonymous(ciphertext, u.Keys.Encryption)
	if err != nil {
		s.log.Warn(ctx, "undecryptable incoming entry", "err", err)
		return models.IncomingFile{}, nil
	}

	container, err := models.Decode[models.ReferenceContainer](plaintext)
	if err != nil {
		s.log.Warn(ctx, "undecodable incoming entry", "err", err)
		return models.IncomingFile{}, nil
	}
	if err := container.Validate(); err != nil {
		s.log.Warn(ctx, "malformed incoming container", "err", err)
		return models.IncomingFile{}, nil
	}

	if container.AnonymousShare != nil {
		record := container.AnonymousShare.Record
		record.WasAnonymousShare = true
		return models.IncomingFile{
			FileRecord: record,
			Key:        container.AnonymousShare.Key,
			Anonymous:  true,
		}, nil
	}

	// Signed share: authenticate the sender before trusting the reference.
	sender := container.SignedShare.Owner
	pub, err := s.dir.PublicKeys(ctx, sender)
	if err != nil {
		return models.IncomingFile{}, err
	}
	refBytes, err := cryptox.SignOpen(container.SignedShare.SignedReference, pub.Signing)
	if err != nil {
		return models.IncomingFile{}, fmt.Errorf("share from %s: %w", sender, common.ErrAuthenticityFailure)
	}
	ref, err := models.Decode[models.FileReference](refBytes)
	if err != nil {
		s.log.Warn(ctx, "undecodable verified reference", "sender", sender, "err", err)
		return models.IncomingFile{}, nil
	}

	record, err := s.readRecord(ctx, ref.Owner, ref.ID, ref.Key)
	if err != nil {
		return models.IncomingFile{}, err
	}
	// The verified reference, not the record, says whose path holds the
	// content.
	record.Owner = ref.Owner
	return models.IncomingFile{FileRecord: record, Key: ref.Key}, nil
}

// AcceptIncomingFile resolves the pending incoming entry id and, when
// accept is true, commits it: the anonymous case materializes a local
// record and reference, the signed case only a reference pointing at the
// sender's record. The queue entry is removed whether accepted or
// rejected. Invalid entries are removed without committing anything.
func (s *Service) AcceptIncomingFile(ctx context.Context, id string, accept bool) error {
	u, err := s.currentUser()
	if err != nil {
		return err
	}

	entryPath := incomingFilePath(u.Username, id)
	ciphertext, err := s.store.Get(ctx, entryPath)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("incoming entry %s: %w", id, err)
	}

	if !accept {
		return s.store.Remove(ctx, entryPath)
	}

	inc, err := s.decodeIncoming(ctx, u, ciphertext)
	if err != nil {
		if removeErr := s.store.Remove(ctx, entryPath); removeErr != nil {
			return removeErr
		}
		return err
	}

	if inc.IsValid() {
		if err := s.commitIncoming(ctx, u, inc); err != nil {
			return err
		}
	}
	return s.store.Remove(ctx, entryPath)
}

func (s *Service) commitIncoming(ctx context.Context, u *accounts.CurrentUser, inc models.IncomingFile) error {
	ref := models.FileReference{
		ID:    inc.ID,
		Owner: inc.Owner,
		Key:   inc.Key,
	}

	// Only a bundle delivered anonymously materializes a local copy. A
	// signed share keeps pointing at the sender's record even when that
	// record reached the sender anonymously in the first place.
	if inc.Anonymous {
		record := inc.FileRecord
		record.Owner = u.Username
		ref.Owner = u.Username
		if err := s.writeRecord(ctx, record, inc.Key); err != nil {
			return err
		}
	}
	return s.writeReference(ctx, u, ref)
}

// IncomingFiles lists the caller's pending incoming shares as previews,
// newest first. Entries that cannot be decoded or verified appear as zero
// previews so the rest of the queue stays visible.
func (s *Service) IncomingFiles(ctx context.Context) ([]models.IncomingFile, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	keys, err := s.store.ListKeys(ctx, incomingFilesPath(u.Username))
	if err != nil {
		return nil, err
	}

	out := make([]models.IncomingFile, 0, len(keys))
	for _, key := range keys {
		ciphertext, err := s.store.Get(ctx, incomingFilePath(u.Username, key))
		if err != nil {
			s.log.Warn(ctx, "unreadable incoming entry", "id", key, "err", err)
			out = append(out, models.IncomingFile{})
			continue
		}
		inc, err := s.decodeIncoming(ctx, u, ciphertext)
		if err != nil {
			s.log.Warn(ctx, "unverifiable incoming entry", "id", key, "err", err)
			inc = models.IncomingFile{}
		}
		out = append(out, inc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

// IncomingFilesByType lists pending incoming previews of one record type,
// newest first. Zero previews from undecodable entries are excluded, like
// placeholders in the owned filtered views.
func (s *Service) IncomingFilesByType(ctx context.Context, recordType models.RecordType) ([]models.IncomingFile, error) {
	all, err := s.IncomingFiles(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.IncomingFile, 0, len(all))
	for _, inc := range all {
		if !inc.IsValid() || inc.RecordType != recordType {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

// WatchIncomingFiles streams the incoming preview listing: the current
// snapshot first, then a new one on every queue change.
func (s *Service) WatchIncomingFiles(ctx context.Context) (<-chan []models.IncomingFile, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	snapshots, err := s.store.WatchList(ctx, incomingFilesPath(u.Username))
	if err != nil {
		return nil, err
	}

	out := make(chan []models.IncomingFile, 1)
	go func() {
		defer close(out)
		for snapshot := range snapshots {
			listing := make([]models.IncomingFile, 0, len(snapshot))
			for _, kv := range snapshot {
				inc, err := s.decodeIncoming(ctx, u, kv.Value)
				if err != nil {
					s.log.Warn(ctx, "unverifiable incoming entry", "id", kv.Key, "err", err)
					inc = models.IncomingFile{}
				}
				listing = append(listing, inc)
			}
			sort.SliceStable(listing, func(i, j int) bool {
				return listing[i].Timestamp > listing[j].Timestamp
			})
			select {
			case out <- listing:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
