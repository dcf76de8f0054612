package roomcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Cipher seals and opens relay frames under the room key.
//
// Frames are nonce || AES-GCM(ciphertext || tag). Every Seal draws a fresh
// random nonce; reusing a nonce under the same key breaks confidentiality.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(secret Secret) (*Cipher, error) {
	if len(secret.Key) != KeyBytes {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrSecretParse, len(secret.Key), KeyBytes)
	}
	block, err := aes.NewCipher(secret.Key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceBytes, NonceBytes+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("roomcrypto: read nonce: %w", err)
	}
	return c.aead.Seal(out, out[:NonceBytes], plaintext, nil), nil
}

// Open authenticates and decrypts a frame produced by Seal. Any tampering,
// truncation or wrong key yields ErrAuthentication.
func (c *Cipher) Open(frame []byte) ([]byte, error) {
	if len(frame) < NonceBytes+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: frame is %d bytes", ErrAuthentication, len(frame))
	}
	plaintext, err := c.aead.Open(nil, frame[:NonceBytes], frame[NonceBytes:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// ChannelIDFor derives the relay channel for secret by sealing the salt under the
// room key with an all-zero nonce and mapping the first 16 output bytes
// through Alphabet. Two participants with the same secret always compute the
// same id; the id does not reveal the secret.
func ChannelIDFor(secret Secret) (ChannelID, error) {
	c, err := NewCipher(secret)
	if err != nil {
		return "", err
	}
	var zero [NonceBytes]byte
	sealed := c.aead.Seal(nil, zero[:], []byte(secret.Salt), nil)
	return ChannelID(mapAlphabet(sealed[:ChannelIDLength])), nil
}
