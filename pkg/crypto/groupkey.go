package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretSize is the group master secret length in bytes.
const SecretSize = 32

// NewMasterSecret generates a fresh random 32-byte group master secret
func NewMasterSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return secret, err
	}
	return secret, nil
}

// DeriveGroupKey derives the AES-256 message key for one key version.
// The version is bound into the HKDF info string, so keys from
// different rotations stay unrelated even if a secret were ever
// reused.
func DeriveGroupKey(secret [SecretSize]byte, version uint32) ([]byte, error) {
	info := fmt.Sprintf("cyxchat group msg v%d", version)
	reader := hkdf.New(sha256.New, secret[:], nil, []byte(info))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptGroupPayload encrypts a group message body under the
// version-bound key. Output layout: nonce(12) || ciphertext.
func EncryptGroupPayload(secret [SecretSize]byte, version uint32, plaintext []byte) ([]byte, error) {
	key, err := DeriveGroupKey(secret, version)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateNonce(NonceSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// DecryptGroupPayload decrypts nonce||ciphertext produced by
// EncryptGroupPayload. Fails if the secret or version differs from
// the one used to encrypt.
func DecryptGroupPayload(secret [SecretSize]byte, version uint32, data []byte) ([]byte, error) {
	if len(data) < NonceSize+16 {
		return nil, ErrDecryptionFailed
	}

	key, err := DeriveGroupKey(secret, version)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
