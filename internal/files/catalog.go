package files

import (
	"context"
	"sort"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/models"
	"github.com/npopovs/filevault/internal/store"
)

// FilesList projects the caller's reference set into a catalog listing,
// sorted by timestamp descending. A reference whose owner has not resolved
// yet appears as a placeholder entry so listings stay stable for consumers.
func (s *Service) FilesList(ctx context.Context) ([]models.FileRecord, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	keys, err := s.store.ListKeys(ctx, referencesPath(u.Username))
	if err != nil {
		return nil, err
	}

	kvs := make([]store.KeyValue, 0, len(keys))
	for _, key := range keys {
		value, err := s.store.Get(ctx, referencePath(u.Username, key))
		if err != nil {
			s.log.Warn(ctx, "unreadable reference", "id", key, "err", err)
			continue
		}
		kvs = append(kvs, store.KeyValue{Key: key, Value: value})
	}

	return s.projectReferences(ctx, u, kvs), nil
}

// FilesListByType is a pure filter over FilesList that also excludes
// placeholder entries.
func (s *Service) FilesListByType(ctx context.Context, recordType models.RecordType) ([]models.FileRecord, error) {
	listing, err := s.FilesList(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.FileRecord, 0, len(listing))
	for _, record := range listing {
		if record.Owner == "" {
			continue
		}
		if record.RecordType == recordType {
			out = append(out, record)
		}
	}
	return out, nil
}

// WatchFilesList streams the catalog listing: the current projection first,
// then a new one on every reference change.
func (s *Service) WatchFilesList(ctx context.Context) (<-chan []models.FileRecord, error) {
	u, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	snapshots, err := s.store.WatchList(ctx, referencesPath(u.Username))
	if err != nil {
		return nil, err
	}

	out := make(chan []models.FileRecord, 1)
	go func() {
		defer close(out)
		for snapshot := range snapshots {
			listing := s.projectReferences(ctx, u, snapshot)
			select {
			case out <- listing:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// projectReferences joins each encrypted reference with its record,
// degrading unreadable entries to placeholders, and sorts newest first.
// The first completed projection releases FirstLoad.
func (s *Service) projectReferences(ctx context.Context, u *accounts.CurrentUser, kvs []store.KeyValue) []models.FileRecord {
	listing := make([]models.FileRecord, 0, len(kvs))

	for _, kv := range kvs {
		listing = append(listing, s.projectReference(ctx, u, kv))
	}

	sort.SliceStable(listing, func(i, j int) bool {
		return listing[i].Timestamp > listing[j].Timestamp
	})

	s.firstLoadOnce.Do(func() { close(s.firstLoad) })
	return listing
}

func (s *Service) projectReference(ctx context.Context, u *accounts.CurrentUser, kv store.KeyValue) models.FileRecord {
	ref, err := decodeReference(kv.Value, u)
	if err != nil {
		s.log.Warn(ctx, "undecodable reference", "id", kv.Key, "err", err)
		return placeholderFor(kv.Key)
	}
	if ref.Owner == "" {
		return placeholderFor(ref.ID)
	}

	record, err := s.readRecord(ctx, ref.Owner, ref.ID, ref.Key)
	if err != nil {
		s.log.Warn(ctx, "unresolvable reference", "id", kv.Key, "err", err)
		return placeholderFor(kv.Key)
	}
	return record
}

// FirstLoad is closed once the first catalog projection has been observed,
// signalling that consumers can stop showing an initial loading state.
func (s *Service) FirstLoad() <-chan struct{} {
	return s.firstLoad
}

// NoteSnippet returns a short preview of a note's content. The snippet is
// computed lazily, once per id, and cached for the rest of the session;
// until the computation finishes callers observe SnippetPlaceholder.
func (s *Service) NoteSnippet(ctx context.Context, id string) string {
	s.snippetMu.Lock()
	if snippet, ok := s.snippets[id]; ok {
		s.snippetMu.Unlock()
		return snippet
	}
	if s.pending[id] {
		s.snippetMu.Unlock()
		return SnippetPlaceholder
	}
	s.pending[id] = true
	s.snippetMu.Unlock()

	go s.computeSnippet(ctx, id)
	return SnippetPlaceholder
}

func (s *Service) computeSnippet(ctx context.Context, id string) {
	d, err := s.DownloadNote(ctx, id)

	s.snippetMu.Lock()
	defer s.snippetMu.Unlock()
	delete(s.pending, id)

	if err != nil {
		// Retried on the next NoteSnippet call.
		s.log.Warn(ctx, "snippet computation failed", "id", id, "err", err)
		return
	}
	s.snippets[id] = truncateSnippet(d.PlainText(), s.snippetLimit)
}

func truncateSnippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
