// Package roomcrypto derives everything a participant needs from the shared
// room secret carried in the URL fragment: the relay channel identifier and the
// AEAD cipher that wraps every control message.
//
// The relay only ever learns the ChannelID. The secret itself never leaves the
// participant.
package roomcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 62-symbol alphabet used for identities, salts and channel ids.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// SaltLength is the number of encoded characters at the start of a secret.
	SaltLength = 4
	// KeyBytes is the AES-128-GCM key size.
	KeyBytes = 16
	// NonceBytes is the AES-GCM nonce size prefixed to every sealed message.
	NonceBytes = 12
	// ChannelIDLength is the length of the derived relay channel identifier.
	ChannelIDLength = 16

	identityBytes = 4
)

var (
	ErrSecretParse    = errors.New("roomcrypto: malformed secret")
	ErrAuthentication = errors.New("roomcrypto: message authentication failed")
)

var keyEncoding = base64.RawURLEncoding

// Identity is a short per-session participant identifier. It is unique enough
// to address peers within a room but carries no cryptographic weight.
type Identity string

// NewIdentity returns a fresh random Identity.
func NewIdentity() (Identity, error) {
	s, err := randomSymbols(identityBytes)
	if err != nil {
		return "", err
	}
	return Identity(s), nil
}

// ChannelID routes a room on the relay.
type ChannelID string

// Secret is the shared room secret: a salt plus raw AES key material.
type Secret struct {
	Salt string
	Key  []byte
}

// String encodes the secret the way it is carried in a URL fragment:
// salt followed by the unpadded base64url key.
func (s Secret) String() string {
	return s.Salt + keyEncoding.EncodeToString(s.Key)
}

// NewSecret generates a fresh salt and 128-bit key.
func NewSecret() (Secret, error) {
	salt, err := randomSymbols(SaltLength)
	if err != nil {
		return Secret{}, err
	}
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return Secret{}, fmt.Errorf("roomcrypto: generate key: %w", err)
	}
	return Secret{Salt: salt, Key: key}, nil
}

// ParseSecret parses an encoded secret (with or without a leading '#').
func ParseSecret(fragment string) (Secret, error) {
	fragment = strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	if len(fragment) <= SaltLength {
		return Secret{}, fmt.Errorf("%w: too short", ErrSecretParse)
	}
	salt := fragment[:SaltLength]
	for i := 0; i < len(salt); i++ {
		if strings.IndexByte(Alphabet, salt[i]) < 0 {
			return Secret{}, fmt.Errorf("%w: invalid salt character %q", ErrSecretParse, salt[i])
		}
	}
	key, err := keyEncoding.DecodeString(fragment[SaltLength:])
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrSecretParse, err)
	}
	if len(key) != KeyBytes {
		return Secret{}, fmt.Errorf("%w: key is %d bytes, want %d", ErrSecretParse, len(key), KeyBytes)
	}
	return Secret{Salt: salt, Key: key}, nil
}

// DeriveOrCreate imports the secret from fragment, falling back to a freshly
// generated one when the fragment is absent or malformed. A malformed fragment
// is never an error; created reports that a new secret was generated and the
// fragment must be rewritten for the room to be shareable. The returned error
// is non-nil only when the system random source fails.
func DeriveOrCreate(fragment string) (secret Secret, created bool, err error) {
	if s, perr := ParseSecret(fragment); perr == nil {
		return s, false, nil
	}
	s, err := NewSecret()
	if err != nil {
		return Secret{}, false, err
	}
	return s, true, nil
}

func randomSymbols(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("roomcrypto: read random: %w", err)
	}
	return mapAlphabet(buf), nil
}

func mapAlphabet(b []byte) string {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = Alphabet[int(v)%len(Alphabet)]
	}
	return string(out)
}
