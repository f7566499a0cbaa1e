package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType names an AEAD algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	// ErrCiphertextTooShort is returned for input shorter than a nonce.
	ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

	// ErrUnknownCipher is returned by NewWithType for an unknown name.
	ErrUnknownCipher = errors.New("adaptive: unknown cipher type")
)

// Cipher is an authenticated cipher with random nonces.
type Cipher interface {
	Type() CipherType
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(sealed, additionalData []byte) ([]byte, error)
	Overhead() int
}

// New picks the cipher for the running architecture.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, Preferred())
}

// Preferred returns AES-GCM on architectures whose Go AES implementation
// is hardware backed, ChaCha20-Poly1305 otherwise.
func Preferred() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// NewWithType creates a cipher of the given type. AES-GCM accepts 16, 24
// or 32 byte keys; ChaCha20-Poly1305 requires 32.
func NewWithType(key []byte, t CipherType) (Cipher, error) {
	var (
		a   cipher.AEAD
		err error
	)
	switch t {
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			a, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		a, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, t)
	}
	if err != nil {
		return nil, fmt.Errorf("adaptive: %s: %w", t, err)
	}
	return &aead{typ: t, aead: a}, nil
}

type aead struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aead) Type() CipherType { return c.typ }

func (c *aead) Overhead() int { return c.aead.NonceSize() + c.aead.Overhead() }

func (c *aead) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plaintext, additionalData), nil
}

func (c *aead) Decrypt(sealed, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData)
}
