// Package ephemeral provides the authenticated symmetric cipher the
// store package uses to keep secret shares and signing shares encrypted
// at rest, independent of the VSS algebraic masking applied to shares
// while they are still in flight on-chain.
package ephemeral

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Box is an authenticated symmetric cipher over a 32-byte key.
type Box struct {
	key [32]byte
}

// NewBox builds a Box over key.
func NewBox(key [32]byte) *Box {
	return &Box{key: key}
}

// Encrypt seals plaintext under a fresh random nonce, prepended to the
// returned ciphertext so repeated encryptions of the same plaintext
// never collide.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (b *Box) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("symmetric key decryption failed")
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &b.key)
	if !ok {
		return nil, fmt.Errorf("symmetric key decryption failed")
	}

	return plaintext, nil
}
