package savegame

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/rollmesh-go/pkg/crypto/adaptive"
)

// Encryption errors.
var (
	ErrKeyTooShort       = errors.New("savegame: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("savegame: passphrase too weak (minimum 8 characters)")
	ErrDecryptionFailed  = errors.New("savegame: decryption failed - wrong key or corrupted data")
)

const (
	// MinKeyLength is the minimum key length for encryption.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the salt length used in key derivation.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	subkeyInfo = "rollmesh savegame v1"
)

// EncryptionConfig configures save encryption. Saves are written in the
// clear when neither Key nor Passphrase is set.
type EncryptionConfig struct {
	// Key is a master key; the save key is derived from it with HKDF.
	Key []byte

	// Passphrase derives the key with Argon2id. It takes precedence over Key.
	Passphrase []byte

	// Salt for passphrase derivation. Nil generates a new one; the salt is
	// stored in the save header so the file can be opened again.
	Salt []byte

	// Algorithm is "aes-gcm", "chacha20-poly1305" or empty for the
	// hardware-appropriate default.
	Algorithm string
}

// Enabled reports whether a key source is configured.
func (c EncryptionConfig) Enabled() bool {
	return len(c.Key) > 0 || len(c.Passphrase) > 0
}

// ValidateConfig validates the encryption configuration.
func ValidateConfig(cfg EncryptionConfig) error {
	if len(cfg.Passphrase) > 0 {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}
	if len(cfg.Key) > 0 && len(cfg.Key) < MinKeyLength {
		return ErrKeyTooShort
	}
	switch adaptive.CipherType(cfg.Algorithm) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
		return nil
	default:
		return fmt.Errorf("savegame: unsupported algorithm: %s", cfg.Algorithm)
	}
}

// NewCipherFromConfig creates the save cipher. It returns the salt used for
// passphrase derivation, which the caller must persist, and a nil cipher
// when encryption is disabled.
func NewCipherFromConfig(cfg EncryptionConfig) (adaptive.Cipher, []byte, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}

	var key, salt []byte
	switch {
	case len(cfg.Passphrase) > 0:
		var err error
		salt, key, err = DeriveKeyFromPassphrase(cfg.Passphrase, cfg.Salt)
		if err != nil {
			return nil, nil, err
		}
	case len(cfg.Key) > 0:
		var err error
		key, err = DeriveSubkey(cfg.Key, subkeyInfo, argon2KeyLen)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, nil
	}
	defer ZeroKey(key)

	var (
		c   adaptive.Cipher
		err error
	)
	if cfg.Algorithm == "" {
		c, err = adaptive.New(key)
	} else {
		c, err = adaptive.NewWithType(key, adaptive.CipherType(cfg.Algorithm))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("savegame: create cipher: %w", err)
	}
	return c, salt, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key with Argon2id. A nil salt
// generates a fresh random one.
func DeriveKeyFromPassphrase(passphrase, salt []byte) (usedSalt, key []byte, err error) {
	if salt == nil {
		salt = make([]byte, SaltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("savegame: derive key: %w", err)
		}
	}
	if len(salt) != SaltLength {
		return nil, nil, fmt.Errorf("savegame: salt must be %d bytes", SaltLength)
	}
	key = argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return salt, key, nil
}

// DeriveSubkey derives a purpose-specific key from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("savegame: derive subkey: %w", err)
	}
	return key, nil
}

// ZeroKey zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
