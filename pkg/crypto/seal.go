package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// AES-GCM nonce size (96 bits / 12 bytes is standard)
	NonceSize = 12

	// Smallest valid sealed box: ephemeral key + nonce + GCM tag
	sealOverhead = KeySize + NonceSize + 16

	// HKDF info string for sealed box key derivation
	sealInfo = "cyxchat sealed secret v1"
)

// Seal encrypts plaintext to the recipient's X25519 public key.
//
// A fresh ephemeral key pair is generated per call, the shared secret
// comes from X25519(ephemeral_priv, recipient_pub), and the AES-256
// key is derived with HKDF-SHA256 salted by both public keys. Output
// layout: ephemeral_pub(32) || nonce(12) || ciphertext.
func Seal(plaintext []byte, recipientPub [KeySize]byte) ([]byte, error) {
	eph, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(eph.Private[:], recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	key, err := sealKey(shared, eph.Public[:], recipientPub[:])
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

	box := make([]byte, 0, sealOverhead+len(plaintext))
	box = append(box, eph.Public[:]...)
	box = append(box, nonce...)
	return gcm.Seal(box, nonce, plaintext, nil), nil
}

// Open decrypts a sealed box with the recipient's key pair
func Open(box []byte, recipient *KeyPair) ([]byte, error) {
	if len(box) < sealOverhead {
		return nil, ErrDecryptionFailed
	}

	var ephPub [KeySize]byte
	copy(ephPub[:], box[:KeySize])
	nonce := box[KeySize : KeySize+NonceSize]
	ciphertext := box[KeySize+NonceSize:]

	shared, err := curve25519.X25519(recipient.Private[:], ephPub[:])
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	key, err := sealKey(shared, ephPub[:], recipient.Public[:])
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// sealKey derives the AES-256 key for one box. Salting with both
// public keys binds the key to this sender/recipient pair.
func sealKey(shared, ephPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	reader := hkdf.New(sha256.New, shared, salt, []byte(sealInfo))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
