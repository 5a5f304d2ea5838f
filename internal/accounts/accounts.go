// Package accounts handles the engine's notion of a signed-in user: the key
// material held in memory for the session, and a public-key directory that
// other users' keys are fetched from when sharing.
package accounts

import (
	"context"
	"fmt"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/cryptox"
	"github.com/npopovs/filevault/internal/models"
	"github.com/npopovs/filevault/internal/store"
)

// PublicKeys is the published half of a user's keys, stored in plaintext at
// the user's public profile path.
type PublicKeys struct {
	Encryption []byte `msgpack:"encryption"`
	Signing    []byte `msgpack:"signing"`
}

// UserKeys is the private key material of a session.
//
// Symmetric is the account key protecting locally stored references;
// Encryption receives sealed incoming shares; Signing proves provenance of
// signed shares.
type UserKeys struct {
	Symmetric  []byte
	Encryption *cryptox.BoxKeyPair
	Signing    *cryptox.SignKeyPair
}

// Wipe zeroes all private key material. Implements the supersession hook of
// the async cell holding the current user, so keys do not outlive logout.
func (k *UserKeys) Wipe() {
	if k == nil {
		return
	}
	common.WipeByteArray(k.Symmetric)
	if k.Encryption != nil {
		common.WipeByteArray(k.Encryption.Private)
	}
	if k.Signing != nil {
		common.WipeByteArray(k.Signing.Private)
	}
}

// NewUserKeys generates a fresh set of account keys.
func NewUserKeys() (*UserKeys, error) {
	enc, err := cryptox.GenerateBoxKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate encryption keypair: %w", err)
	}
	sig, err := cryptox.GenerateSignKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	return &UserKeys{
		Symmetric:  cryptox.GenerateKey(),
		Encryption: enc,
		Signing:    sig,
	}, nil
}

// DeriveSymmetricKey replaces the random account key with one derived from
// a password, for deployments that must recover it across sessions. The
// returned verifier can be persisted next to the salt to check a
// re-derivation later without storing the key.
func (k *UserKeys) DeriveSymmetricKey(password, salt []byte) []byte {
	common.WipeByteArray(k.Symmetric)
	k.Symmetric = cryptox.DeriveMasterKey(password, salt)
	return cryptox.MakeVerifier(k.Symmetric)
}

// CurrentUser is a signed-in user with session keys.
type CurrentUser struct {
	Username string
	Keys     *UserKeys
}

// Wipe implements the async cell supersession hook.
func (u *CurrentUser) Wipe() {
	if u != nil {
		u.Keys.Wipe()
	}
}

// Directory reads and writes the public-key profiles other users share
// against.
type Directory struct {
	store store.Store
}

func NewDirectory(s store.Store) *Directory {
	return &Directory{store: s}
}

func profilePath(username string) string {
	return "users/" + username + "/publicKeys"
}

// Publish writes the public half of keys to username's profile.
func (d *Directory) Publish(ctx context.Context, username string, keys *UserKeys) error {
	pub := PublicKeys{
		Encryption: keys.Encryption.Public,
		Signing:    keys.Signing.Public,
	}
	b, err := models.Encode(pub)
	if err != nil {
		return err
	}
	if err := d.store.Set(ctx, profilePath(username), b); err != nil {
		return fmt.Errorf("publish keys for %s: %w", username, err)
	}
	return nil
}

// PublicKeys fetches username's published keys.
func (d *Directory) PublicKeys(ctx context.Context, username string) (PublicKeys, error) {
	b, err := d.store.Get(ctx, profilePath(username))
	if err != nil {
		return PublicKeys{}, fmt.Errorf("fetch keys for %s: %w", username, err)
	}
	return models.Decode[PublicKeys](b)
}
