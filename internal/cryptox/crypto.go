// Package cryptox wraps the NaCl primitives used by the engine: symmetric
// secretbox for per-file content, anonymous sealed boxes for incoming-share
// delivery, and detached-free signatures for signed shares. Key derivation
// for account keys uses Argon2id.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/nacl/sign"

	"github.com/npopovs/filevault/internal/common"
)

const (
	// KeyBytes is the size of a symmetric secretbox key.
	KeyBytes = 32
	// NonceBytes is the size of a secretbox nonce.
	NonceBytes = 24
)

var (
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrVerificationFailed = errors.New("signature verification failed")
	ErrInvalidKeySize     = errors.New("invalid key size")
)

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeyBytes)
}

// DeriveMasterKey derives a 32-byte account key from a password and salt
// using Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeyBytes)
}

// MakeVerifier returns a value safe to persist for checking a derived
// master key without storing the key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// FromString encodes a string as UTF-8 bytes. Content sizes are measured
// over this encoding.
func FromString(s string) []byte {
	return []byte(s)
}

// SecretBoxSeal encrypts plaintext under a 32-byte symmetric key.
// A random 24-byte nonce is generated per call and prepended to the
// returned ciphertext.
func SecretBoxSeal(plaintext, key []byte) ([]byte, error) {
	k, err := to32(key)
	if err != nil {
		return nil, err
	}

	var nonce [NonceBytes]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, k), nil
}

// SecretBoxOpen decrypts ciphertext produced by SecretBoxSeal.
func SecretBoxOpen(ciphertext, key []byte) ([]byte, error) {
	k, err := to32(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < NonceBytes {
		return nil, ErrDecryptionFailed
	}

	var nonce [NonceBytes]byte
	copy(nonce[:], ciphertext[:NonceBytes])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceBytes:], &nonce, k)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// BoxKeyPair is a Curve25519 keypair for sealed-box encryption.
type BoxKeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateBoxKeyPair returns a fresh encryption keypair.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: pub[:], Private: priv[:]}, nil
}

// SealAnonymous encrypts plaintext to the recipient's public encryption key
// without authenticating the sender. The recipient learns nothing about who
// produced the box.
func SealAnonymous(plaintext, recipientPublic []byte) ([]byte, error) {
	pub, err := to32(recipientPublic)
	if err != nil {
		return nil, err
	}
	return box.SealAnonymous(nil, plaintext, pub, rand.Reader)
}

// OpenAnonymous decrypts an anonymous sealed box with the recipient's keypair.
func OpenAnonymous(ciphertext []byte, kp *BoxKeyPair) ([]byte, error) {
	pub, err := to32(kp.Public)
	if err != nil {
		return nil, err
	}
	priv, err := to32(kp.Private)
	if err != nil {
		return nil, err
	}

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, pub, priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SignKeyPair is an Ed25519 keypair for signed shares.
type SignKeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateSignKeyPair returns a fresh signing keypair.
func GenerateSignKeyPair() (*SignKeyPair, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SignKeyPair{Public: pub[:], Private: priv[:]}, nil
}

// Sign returns message with a signature attached. The result can only be
// recovered through SignOpen with the matching public key.
func Sign(message, privateKey []byte) ([]byte, error) {
	priv, err := to64(privateKey)
	if err != nil {
		return nil, err
	}
	return sign.Sign(nil, message, priv), nil
}

// SignOpen verifies a signed message and returns the embedded payload.
// Returns ErrVerificationFailed if the signature does not check out.
func SignOpen(signed, publicKey []byte) ([]byte, error) {
	pub, err := to32(publicKey)
	if err != nil {
		return nil, err
	}

	message, ok := sign.Open(nil, signed, pub)
	if !ok {
		return nil, ErrVerificationFailed
	}
	return message, nil
}

func to32(b []byte) (*[32]byte, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKeySize, len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}

func to64(b []byte) (*[64]byte, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidKeySize, len(b))
	}
	var out [64]byte
	copy(out[:], b)
	return &out, nil
}
