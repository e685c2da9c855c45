package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

const keyFileName = "catalog.key"

// cipher seals and opens credential blobs with a symmetric key held in a
// file readable only by the owner. The key is generated on first use.
type cipher struct {
	key [32]byte
}

// loadOrCreateKey reads the key file at path, generating it if missing.
func loadOrCreateKey(path string) (*cipher, error) {
	c := &cipher{}

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != len(c.key) {
			return nil, fmt.Errorf("store: key file %s has wrong length %d", path, len(data))
		}
		copy(c.key[:], data)
		return c, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if _, err := rand.Read(c.key[:]); err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	if err := os.WriteFile(path, c.key[:], 0600); err != nil {
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	return c, nil
}

// seal encrypts plaintext and returns a base64 blob with the nonce prepended.
// Empty input stays empty so absent credentials round-trip cleanly.
func (c *cipher) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

// open decrypts a blob produced by seal.
func (c *cipher) open(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	box, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("store: decode credentials: %w", err)
	}
	if len(box) < 24 {
		return "", errors.New("store: credential blob too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, &c.key)
	if !ok {
		return "", errors.New("store: credential blob failed to decrypt")
	}
	return string(plaintext), nil
}
