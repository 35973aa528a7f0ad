package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeySize is the X25519 key length in bytes.
const KeySize = 32

// KeyPair holds an X25519 key pair. The public half is shared with
// peers for sealed secret delivery; the private half never leaves the
// node.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair generates a new X25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}

	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// PublicKeyFromPrivate recomputes the public half of a key pair
func PublicKeyFromPrivate(private [KeySize]byte) [KeySize]byte {
	var public [KeySize]byte
	curve25519.ScalarBaseMult(&public, &private)
	return public
}

// DeriveNodeID derives a 20-byte node identifier from an X25519
// public key (first 20 bytes of its BLAKE2b-256 digest)
func DeriveNodeID(public [KeySize]byte) [20]byte {
	sum := blake2b.Sum256(public[:])

	var id [20]byte
	copy(id[:], sum[:20])
	return id
}

// ExportPrivateKeyHex exports the private key as a hex string
func ExportPrivateKeyHex(kp *KeyPair) string {
	return hex.EncodeToString(kp.Private[:])
}

// ImportPrivateKeyHex imports a hex private key and rebuilds the pair
func ImportPrivateKeyHex(s string) (*KeyPair, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != KeySize {
		return nil, ErrInvalidKey
	}

	kp := &KeyPair{}
	copy(kp.Private[:], raw)
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// SaveKeyToFile saves a hex encoded private key to file
func SaveKeyToFile(filename string, kp *KeyPair) error {
	return os.WriteFile(filename, []byte(ExportPrivateKeyHex(kp)+"\n"), 0600)
}

// LoadKeyFromFile loads a hex encoded private key from file
func LoadKeyFromFile(filename string) (*KeyPair, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ImportPrivateKeyHex(string(data))
}
