package cryptox

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	key := GenerateKey()
	plaintext := []byte("attack at dawn")

	ciphertext, err := SecretBoxSeal(plaintext, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatalf("ciphertext contains plaintext")
	}

	got, err := SecretBoxOpen(ciphertext, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestSecretBox_WrongKey(t *testing.T) {
	ciphertext, err := SecretBoxSeal([]byte("secret"), GenerateKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := SecretBoxOpen(ciphertext, GenerateKey()); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSecretBox_InvalidKeySize(t *testing.T) {
	if _, err := SecretBoxSeal([]byte("x"), []byte("short")); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestSealAnonymous_RoundTrip(t *testing.T) {
	kp, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	plaintext := []byte("no return address")
	ciphertext, err := SealAnonymous(plaintext, kp.Public)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got, err := OpenAnonymous(ciphertext, kp)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestSealAnonymous_WrongRecipient(t *testing.T) {
	kp1, _ := GenerateBoxKeyPair()
	kp2, _ := GenerateBoxKeyPair()

	ciphertext, err := SealAnonymous([]byte("secret"), kp1.Public)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := OpenAnonymous(ciphertext, kp2); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSign_RoundTrip(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	message := []byte("provenance matters")
	signed, err := Sign(message, kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := SignOpen(signed, kp.Public)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, message) {
		t.Fatalf("expected %q, got %q", message, got)
	}
}

func TestSign_Tampered(t *testing.T) {
	kp, _ := GenerateSignKeyPair()

	signed, err := Sign([]byte("original"), kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed[len(signed)-1] ^= 0xff

	if _, err := SignOpen(signed, kp.Public); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestSign_WrongPublicKey(t *testing.T) {
	kp1, _ := GenerateSignKeyPair()
	kp2, _ := GenerateSignKeyPair()

	signed, err := Sign([]byte("original"), kp1.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := SignOpen(signed, kp2.Public); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
	if len(key1) != KeyBytes {
		t.Errorf("expected %d-byte key, got %d", KeyBytes, len(key1))
	}
}

func TestDeriveMasterKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different keys for different salts")
	}
}

func TestFromString(t *testing.T) {
	if got := len(FromString("hello")); got != 5 {
		t.Errorf("expected 5 bytes, got %d", got)
	}
}
