package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 16

	// Argon2id parameters matching libsodium's "interactive" limits.
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
)

// ErrDecrypt is returned when a ciphertext cannot be opened with the key,
// either because it was tampered with or sealed under another key.
var ErrDecrypt = errors.New("decryption failed")

// PassphraseEncryptor seals strings with XSalsa20-Poly1305 (NaCl secretbox)
// under a key derived from the user's passphrase with Argon2id.
// Output is base64(nonce || box).
type PassphraseEncryptor struct {
	key [keySize]byte
}

// NewPassphraseEncryptor derives the note key from passphrase and salt.
func NewPassphraseEncryptor(passphrase string, salt []byte) (*PassphraseEncryptor, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(salt) < saltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", saltSize)
	}

	e := &PassphraseEncryptor{}
	copy(e.key[:], argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize))
	return e, nil
}

// AccountSalt derives the key salt from the account ID, so every device of
// the same account derives the same key from the same passphrase.
func AccountSalt(userID string) []byte {
	sum := sha256.Sum256([]byte("securenotes/note-key/" + userID))
	return sum[:saltSize]
}

func (e *PassphraseEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &e.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *PassphraseEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &e.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
