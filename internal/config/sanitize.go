package config

import "strings"

// SanitizePeer returns a copy with secrets masked, for logging.
func SanitizePeer(cfg *PeerConfig) *PeerConfig {
	sanitized := *cfg
	if sanitized.Storage.EncryptionKey != "" {
		sanitized.Storage.EncryptionKey = maskSecret(sanitized.Storage.EncryptionKey)
	}
	if sanitized.Storage.Passphrase != "" {
		sanitized.Storage.Passphrase = "****"
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
