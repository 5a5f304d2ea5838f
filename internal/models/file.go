// Package models defines the engine's record types: encrypted file records,
// the references that grant access to them, and the container used to carry
// a share through the incoming queue.
package models

import (
	"errors"

	"github.com/npopovs/filevault/internal/common"
)

// RecordType classifies stored content.
type RecordType int32

const (
	RecordTypeFile RecordType = iota
	RecordTypeNote
	RecordTypeForm
	RecordTypeDoc
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeFile:
		return "file"
	case RecordTypeNote:
		return "note"
	case RecordTypeForm:
		return "form"
	case RecordTypeDoc:
		return "doc"
	default:
		return "unknown"
	}
}

// FileRecord is the metadata of owned content. It is persisted encrypted
// under the file's symmetric key and carries no key material itself.
type FileRecord struct {
	ID                string     `msgpack:"id"`
	Name              string     `msgpack:"name"`
	MediaType         string     `msgpack:"mediaType"`
	RecordType        RecordType `msgpack:"recordType"`
	Size              int64      `msgpack:"size"`
	Timestamp         int64      `msgpack:"timestamp"`
	Owner             string     `msgpack:"owner"`
	WasAnonymousShare bool       `msgpack:"wasAnonymousShare"`
}

// Placeholder returns the empty catalog entry used for a reference whose
// owner has not resolved yet. It keeps listings stable for consumers and is
// excluded from filtered sub-views.
func Placeholder() FileRecord {
	return FileRecord{
		RecordType: RecordTypeFile,
		Size:       common.SizeUnknown,
	}
}

// FileReference grants access to a record: the id, the owning user, and the
// symmetric key that decrypts the record and its content. A reference is
// the only artifact handed to another party when granting access, short of
// a full anonymous bundle.
type FileReference struct {
	ID    string `msgpack:"id"`
	Owner string `msgpack:"owner"`
	Key   []byte `msgpack:"key"`
}

// AnonymousShare is a self-contained share: the full record plus its key.
// Producing one requires no account.
type AnonymousShare struct {
	Record FileRecord `msgpack:"fileRecord"`
	Key    []byte     `msgpack:"key"`
}

// SignedShare carries a reference signed with the sender's private signing
// key, attributable to Owner.
type SignedShare struct {
	SignedReference []byte `msgpack:"signedReference"`
	Owner           string `msgpack:"owner"`
}

// ReferenceContainer is the tagged union carried through the incoming-share
// queue. Exactly one variant is populated.
type ReferenceContainer struct {
	AnonymousShare *AnonymousShare `msgpack:"anonymousShare,omitempty"`
	SignedShare    *SignedShare    `msgpack:"signedShare,omitempty"`
}

var errBadContainer = errors.New("reference container must carry exactly one share variant")

// Validate rejects containers with both or neither variant populated.
func (c ReferenceContainer) Validate() error {
	if (c.AnonymousShare == nil) == (c.SignedShare == nil) {
		return errBadContainer
	}
	return nil
}

// IncomingFile is the decrypted preview of a pending incoming share: record
// metadata joined with the reference data needed to commit it. Anonymous
// records which share variant delivered the preview; the record's own
// WasAnonymousShare flag is history from the sender's side and must not
// drive the commit.
type IncomingFile struct {
	FileRecord
	Key       []byte
	Anonymous bool
}

// IsValid reports whether the preview decoded to something committable.
// Undecodable queue entries materialize as zero previews.
func (f IncomingFile) IsValid() bool {
	return f.ID != ""
}

// Form is structured form content.
type Form struct {
	Title  string      `msgpack:"title"`
	Fields []FormField `msgpack:"fields"`
}

// FormField is one labeled value of a form.
type FormField struct {
	Label string `msgpack:"label"`
	Value string `msgpack:"value"`
}
