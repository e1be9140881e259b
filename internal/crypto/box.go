package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/scrypt"
)

// Box seals peer-channel frames with AES-GCM under a key derived from a shared
// secret. A nil Box passes frames through untouched, so callers never branch
// on whether encryption is configured.
type Box struct {
	gcm cipher.AEAD
}

// NewBox derives a box from secret. An empty secret yields a nil box.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, nil
	}
	salt := sha256.Sum256([]byte(secret))
	key, err := scrypt.Key([]byte(secret), salt[:], 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{gcm: gcm}, nil
}

// Seal returns base64(nonce || ciphertext) for a plaintext frame.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	if b == nil {
		return plaintext, nil
	}
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := b.gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func (b *Box) Open(payload []byte) ([]byte, error) {
	if b == nil {
		return payload, nil
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return nil, err
	}
	raw = raw[:n]
	if len(raw) < b.gcm.NonceSize() {
		return nil, errors.New("sealed frame too short")
	}
	nonce, ciphertext := raw[:b.gcm.NonceSize()], raw[b.gcm.NonceSize():]
	return b.gcm.Open(nil, nonce, ciphertext, nil)
}

// Enabled reports whether frames are actually sealed.
func (b *Box) Enabled() bool {
	return b != nil
}
