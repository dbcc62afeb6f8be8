package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Keyring seals and opens credential envelopes with XChaCha20-Poly1305.
// Envelopes are prefixed with a key id so master keys rotate without
// re-encrypting stored rows: new envelopes use the active key, old ids
// stay openable for as long as they remain in the ring.
//
// Wire format: "<key_id>." + base64(nonce || ciphertext).
type Keyring struct {
	keys     map[string][]byte
	activeID string
}

// NewKeyring builds a keyring from base64-encoded 32-byte master keys
func NewKeyring(keys map[string]string, activeID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keyring requires at least one master key")
	}

	decoded := make(map[string][]byte, len(keys))
	for id, b64 := range keys {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("master key %q must be %d bytes, got %d", id, chacha20poly1305.KeySize, len(key))
		}
		decoded[id] = key
	}

	if _, ok := decoded[activeID]; !ok {
		return nil, fmt.Errorf("active key id %q not present in keyring", activeID)
	}

	return &Keyring{keys: decoded, activeID: activeID}, nil
}

// ActiveKeyID returns the id used for new envelopes
func (k *Keyring) ActiveKeyID() string { return k.activeID }

// Seal encrypts plaintext under the active key
func (k *Keyring) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(k.keys[k.activeID])
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return k.activeID + "." + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope with whichever ring key its prefix names.
// The returned error never contains plaintext.
func (k *Keyring) Open(envelope string) ([]byte, error) {
	keyID, payload, ok := strings.Cut(envelope, ".")
	if !ok {
		return nil, fmt.Errorf("malformed envelope: missing key id prefix")
	}

	key, found := k.keys[keyID]
	if !found {
		return nil, fmt.Errorf("unknown envelope key id %q", keyID)
	}

	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("envelope too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope authentication failed")
	}

	return plaintext, nil
}

// GenerateKey returns a fresh base64-encoded master key
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
