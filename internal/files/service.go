// Package files implements the encrypted file sharing and document
// synchronization engine: per-file symmetric keys, the reference/record
// indirection, anonymous and signed sharing, append-only doc logs, and the
// catalog projections built on top of them.
package files

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/asyncx"
	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/logging"
	"github.com/npopovs/filevault/internal/models"
	"github.com/npopovs/filevault/internal/store"
)

// DefaultSnippetLimit is the character budget of note preview snippets.
const DefaultSnippetLimit = 75

// SnippetPlaceholder is what NoteSnippet returns until the snippet has been
// computed.
const SnippetPlaceholder = "..."

// DefaultDownloadDir is where DownloadAndSave writes when no directory is
// configured.
const DefaultDownloadDir = "downloads"

type incomingResult struct {
	file models.IncomingFile
	err  error
}

// Service is the engine. It owns the store paths under users/<u>/, the
// per-session caches, and the key-material lifecycle of every operation.
type Service struct {
	store store.Store
	dir   *accounts.Directory
	user  *asyncx.Value[*accounts.CurrentUser]
	log   logging.Logger

	snippetLimit int
	downloadDir  string

	snippetMu sync.Mutex
	snippets  map[string]string
	pending   map[string]bool

	// incoming share previews memoized by raw ciphertext, so repeated
	// inspection of a pending entry does not redo the open/verify/fetch
	// chain. Never invalidated within a session.
	incomingMu sync.Mutex
	incoming   map[string]incomingResult

	firstLoadOnce sync.Once
	firstLoad     chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithSnippetLimit overrides the note snippet character budget.
func WithSnippetLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.snippetLimit = n
		}
	}
}

// WithDownloadDir overrides the directory DownloadAndSave writes into.
func WithDownloadDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.downloadDir = dir
		}
	}
}

// New builds a Service on top of the given store, public-key directory and
// current-user cell.
func New(st store.Store, dir *accounts.Directory, user *asyncx.Value[*accounts.CurrentUser], log logging.Logger, opts ...Option) *Service {
	s := &Service{
		store:        st,
		dir:          dir,
		user:         user,
		log:          log,
		snippetLimit: DefaultSnippetLimit,
		downloadDir:  DefaultDownloadDir,
		snippets:     make(map[string]string),
		pending:      make(map[string]bool),
		incoming:     make(map[string]incomingResult),
		firstLoad:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func referencesPath(username string) string {
	return "users/" + username + "/fileReferences"
}

func referencePath(username, id string) string {
	return referencesPath(username) + "/" + id
}

func recordPath(owner, id string) string {
	return "users/" + owner + "/fileRecords/" + id
}

func contentPath(owner, id string) string {
	return "users/" + owner + "/files/" + id
}

func docPath(owner, id string) string {
	return "users/" + owner + "/docs/" + id
}

func incomingFilesPath(recipient string) string {
	return "users/" + recipient + "/incomingFiles"
}

func incomingFilePath(recipient, id string) string {
	return incomingFilesPath(recipient) + "/" + id
}

// currentUser returns the signed-in user or ErrUnauthorized.
func (s *Service) currentUser() (*accounts.CurrentUser, error) {
	u := s.user.Get()
	if u == nil || u.Username == "" {
		return nil, common.ErrUnauthorized
	}
	return u, nil
}

// loadReference reads and decrypts the caller's reference for id. The
// plaintext bytes are returned alongside the decoded reference because the
// sharing path signs them as-is.
func (s *Service) loadReference(ctx context.Context, u *accounts.CurrentUser, id string) (models.FileReference, []byte, error) {
	ciphertext, err := s.store.Get(ctx, referencePath(u.Username, id))
	if err != nil {
		return models.FileReference{}, nil, fmt.Errorf("reference %s: %w", id, err)
	}
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, u.Keys.Symmetric)
	if err != nil {
		return models.FileReference{}, nil, fmt.Errorf("open reference %s: %w", id, err)
	}
	ref, err := models.Decode[models.FileReference](plaintext)
	if err != nil {
		return models.FileReference{}, nil, err
	}
	return ref, plaintext, nil
}

// decodeReference decrypts and decodes reference ciphertext with the
// caller's account key.
func decodeReference(ciphertext []byte, u *accounts.CurrentUser) (models.FileReference, error) {
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, u.Keys.Symmetric)
	if err != nil {
		return models.FileReference{}, err
	}
	return models.Decode[models.FileReference](plaintext)
}

// writeReference encrypts ref under the account symmetric key and stores it
// in the caller's reference collection.
func (s *Service) writeReference(ctx context.Context, u *accounts.CurrentUser, ref models.FileReference) error {
	plaintext, err := models.Encode(ref)
	if err != nil {
		return err
	}
	ciphertext, err := cryptox.SecretBoxSeal(plaintext, u.Keys.Symmetric)
	if err != nil {
		return fmt.Errorf("seal reference %s: %w", ref.ID, err)
	}
	return s.store.Set(ctx, referencePath(u.Username, ref.ID), ciphertext)
}

// writeRecord encrypts record under the file key and stores it at the
// owner's record path.
func (s *Service) writeRecord(ctx context.Context, record models.FileRecord, key []byte) error {
	plaintext, err := models.Encode(record)
	if err != nil {
		return err
	}
	ciphertext, err := cryptox.SecretBoxSeal(plaintext, key)
	if err != nil {
		return fmt.Errorf("seal record %s: %w", record.ID, err)
	}
	return s.store.Set(ctx, recordPath(record.Owner, record.ID), ciphertext)
}

// readRecord fetches and decrypts the record at owner/id with key.
func (s *Service) readRecord(ctx context.Context, owner, id string, key []byte) (models.FileRecord, error) {
	ciphertext, err := s.store.Get(ctx, recordPath(owner, id))
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("record %s: %w", id, err)
	}
	plaintext, err := cryptox.SecretBoxOpen(ciphertext, key)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("open record %s: %w", id, err)
	}
	return models.Decode[models.FileRecord](plaintext)
}

// GetFile resolves the caller's reference for id and fetches the record it
// points at. When expected is supplied, a record of a different type fails
// with ErrTypeMismatch.
func (s *Service) GetFile(ctx context.Context, id string, expected ...models.RecordType) (models.FileReference, models.FileRecord, error) {
	u, err := s.currentUser()
	if err != nil {
		return models.FileReference{}, models.FileRecord{}, err
	}

	ref, _, err := s.loadReference(ctx, u, id)
	if err != nil {
		return models.FileReference{}, models.FileRecord{}, err
	}
	if ref.Owner == "" {
		return models.FileReference{}, models.FileRecord{}, fmt.Errorf("reference %s has no owner: %w", id, common.ErrNotFound)
	}

	record, err := s.readRecord(ctx, ref.Owner, ref.ID, ref.Key)
	if err != nil {
		return models.FileReference{}, models.FileRecord{}, err
	}

	if len(expected) > 0 && record.RecordType != expected[0] {
		return models.FileReference{}, models.FileRecord{}, fmt.Errorf(
			"%s is a %s, expected %s: %w", id, record.RecordType, expected[0], common.ErrTypeMismatch)
	}
	return ref, record, nil
}

// Remove deletes the caller's record, content, doc log and reference for id.
// Removing an id that does not exist is a no-op. A reference produced by a
// signed share only removes the local reference; the original owner's
// record is untouched.
func (s *Service) Remove(ctx context.Context, id string) error {
	u, err := s.currentUser()
	if err != nil {
		return err
	}

	paths := []string{
		docPath(u.Username, id),
		contentPath(u.Username, id),
		recordPath(u.Username, id),
		referencePath(u.Username, id),
	}
	for _, p := range paths {
		if err := s.store.Remove(ctx, p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// MetadataPatch is a partial record update; nil fields are left untouched.
type MetadataPatch struct {
	Name      *string
	MediaType *string
	Size      *int64
}

// UpdateMetadata read-modify-writes the record for id, preserving untouched
// fields and stamping a fresh timestamp.
func (s *Service) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error {
	ref, record, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}

	if patch.Name != nil {
		record.Name = *patch.Name
	}
	if patch.MediaType != nil {
		record.MediaType = *patch.MediaType
	}
	if patch.Size != nil {
		record.Size = *patch.Size
	}
	record.Timestamp = common.TimestampMs()

	return s.writeRecord(ctx, record, ref.Key)
}

// ThumbnailKind categorizes a media type for preview purposes.
type ThumbnailKind string

const (
	ThumbnailImage ThumbnailKind = "image"
	ThumbnailVideo ThumbnailKind = "video"
	ThumbnailOther ThumbnailKind = "other"
)

// ThumbnailKindFor returns the preview category of a media type.
func ThumbnailKindFor(mediaType string) ThumbnailKind {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return ThumbnailImage
	case strings.HasPrefix(mediaType, "video/"):
		return ThumbnailVideo
	default:
		return ThumbnailOther
	}
}
