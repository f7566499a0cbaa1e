// Package tlsroots loads the TLS material of the relay.
//
//   - roots.go: trusted roots for peers dialing a wss:// relay, the system
//     pool plus an optional private CA bundle
//   - watcher.go: the relay's serving certificate, reloaded when its files
//     change (fsnotify)
package tlsroots
