// Package filevault is an encrypted file sharing and incremental document
// synchronization engine. Content is stored under per-file symmetric keys,
// access is granted through references, sharing works both signed (between
// accounts) and anonymously (sealed record+key bundles), and document-type
// content is synchronized through an append-only operation log.
//
// The package is a library-level subsystem: it exposes no network or CLI
// surface of its own. Open builds a Vault on one of the configured storage
// backends; the heavy lifting lives in the Files service.
package filevault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/npopovs/filevault/internal/accounts"
	"github.com/npopovs/filevault/internal/asyncx"
	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/config"
	"github.com/npopovs/filevault/internal/files"
	"github.com/npopovs/filevault/internal/logging"
	"github.com/npopovs/filevault/internal/models"
	"github.com/npopovs/filevault/internal/store"
	"github.com/npopovs/filevault/internal/store/memory"
	"github.com/npopovs/filevault/internal/store/s3"
	"github.com/npopovs/filevault/internal/store/sqlite"
)

// Re-exported types so consumers do not import internal packages.
type (
	Config       = config.Config
	FileRecord   = models.FileRecord
	FileRef      = models.FileReference
	IncomingFile = models.IncomingFile
	Form         = models.Form
	FormField    = models.FormField
	RecordType   = models.RecordType
	Transfer     = files.Transfer
	Logger       = logging.Logger
)

const (
	RecordTypeFile = models.RecordTypeFile
	RecordTypeNote = models.RecordTypeNote
	RecordTypeForm = models.RecordTypeForm
	RecordTypeDoc  = models.RecordTypeDoc
)

// Sentinel errors surfaced by vault operations.
var (
	ErrNotFound            = common.ErrNotFound
	ErrTypeMismatch        = common.ErrTypeMismatch
	ErrAuthenticityFailure = common.ErrAuthenticityFailure
	ErrInvalidOperation    = common.ErrInvalidOperation
	ErrUnauthorized        = common.ErrUnauthorized
)

// LoadConfig builds a Config from defaults, an optional JSON file and
// command-line flags.
func LoadConfig() *Config {
	return config.LoadConfig()
}

// Vault is an opened engine instance bound to one storage backend.
type Vault struct {
	Files *files.Service

	store   store.Store
	dir     *accounts.Directory
	session *asyncx.Value[*accounts.CurrentUser]
	db      *sql.DB
	log     logging.Logger
}

// Open builds a Vault on the backend named by cfg.StoreBackend. A nil
// logger defaults to a no-op logger.
func Open(ctx context.Context, cfg *Config, log Logger) (*Vault, error) {
	if log == nil {
		log = logging.NewNop()
	}

	var (
		st store.Store
		db *sql.DB
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		st = memory.New()
	case config.BackendSQLite:
		var err error
		db, err = sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		st = sqlite.New(db)
	case config.BackendS3:
		var err error
		st, err = s3.NewFromConfig(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3BaseEndpoint, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q: %w", cfg.StoreBackend, common.ErrInvalidOperation)
	}

	dir := accounts.NewDirectory(st)
	session := asyncx.NewValue[*accounts.CurrentUser](nil)

	v := &Vault{
		Files:   files.New(st, dir, session, log, files.WithSnippetLimit(cfg.SnippetLimit), files.WithDownloadDir(cfg.DownloadDir)),
		store:   st,
		dir:     dir,
		session: session,
		db:      db,
		log:     log,
	}
	return v, nil
}

// Register generates fresh account keys for username, publishes the public
// half to the key directory, and signs the session in.
func (v *Vault) Register(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("empty username: %w", common.ErrInvalidOperation)
	}

	keys, err := accounts.NewUserKeys()
	if err != nil {
		return err
	}
	if err := v.dir.Publish(ctx, username, keys); err != nil {
		return err
	}

	v.session.Set(&accounts.CurrentUser{Username: username, Keys: keys})
	v.log.Info(ctx, "registered", "username", username)
	return nil
}

// CurrentUsername returns the signed-in username, empty when signed out.
func (v *Vault) CurrentUsername() string {
	if u := v.session.Get(); u != nil {
		return u.Username
	}
	return ""
}

// SignOut clears the session; the superseded key material is wiped.
func (v *Vault) SignOut(ctx context.Context) {
	v.session.Set(nil)
	v.log.Info(ctx, "signed out")
}

// Close releases the backend. The session is cleared first so key material
// does not outlive the vault.
func (v *Vault) Close() error {
	v.session.Set(nil)
	if v.db != nil {
		return v.db.Close()
	}
	return nil
}
