// Package adaptive seals byte blobs with an AEAD chosen for the host CPU:
// AES-256-GCM where the platform accelerates AES, ChaCha20-Poly1305
// elsewhere. Game saves are encrypted with it.
//
// Sealed output is nonce || ciphertext || tag, so a blob is
// self-contained given the key and the additional data.
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(state, header)
//	state, err = c.Decrypt(sealed, header)
package adaptive
