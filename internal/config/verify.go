package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
)

// VerifyPeer validates a peer configuration.
func VerifyPeer(cfg *PeerConfig) error {
	var errs []error
	if len(cfg.Peer.ID) > 255 {
		errs = append(errs, errors.New("peer.id must be at most 255 bytes"))
	}
	if cfg.Peer.Room == "" {
		errs = append(errs, errors.New("peer.room is required"))
	}
	if cfg.Peer.TickRate <= 0 || cfg.Peer.TickRate > 240 {
		errs = append(errs, errors.New("peer.tick_rate must be between 1 and 240"))
	}
	if cfg.Peer.Frames < 0 {
		errs = append(errs, errors.New("peer.frames must not be negative"))
	}
	if cfg.Lobby.MinPeers < 0 {
		errs = append(errs, errors.New("lobby.min_peers must not be negative"))
	}
	if err := verifyTransport(&cfg.Transport); err != nil {
		errs = append(errs, err)
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		errs = append(errs, err)
	}
	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		}
	}
	if _, err := ToSessionConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := verifyLog(&cfg.Log); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func verifyLog(l *LogSection) error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logger.ParseFormat(l.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}

func verifyTransport(t *TransportSection) error {
	switch t.Kind {
	case TransportGossip:
		if t.Gossip.BindPort < 0 || t.Gossip.BindPort > 65535 {
			return errors.New("transport.gossip.bind_port out of range")
		}
		switch t.Gossip.Profile {
		case "", "lan", "wan", "local":
		default:
			return fmt.Errorf("transport.gossip.profile %q is not lan, wan or local", t.Gossip.Profile)
		}
	case TransportRelay:
		if t.Relay.URL == "" {
			return errors.New("transport.relay.url is required for the relay transport")
		}
	default:
		return fmt.Errorf("transport.kind %q is not gossip or relay", t.Kind)
	}
	return nil
}

func verifyStorage(s *StorageSection) error {
	if s.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if s.SaveKeep < 1 {
		return errors.New("storage.save_keep must be at least 1")
	}
	if _, err := EncryptionConfig(s); err != nil {
		return err
	}
	return nil
}

// EncryptionConfig converts the storage section into save encryption
// settings.
func EncryptionConfig(s *StorageSection) (savegame.EncryptionConfig, error) {
	var enc savegame.EncryptionConfig
	if s.EncryptionKey != "" {
		key, err := hex.DecodeString(s.EncryptionKey)
		if err != nil {
			return enc, fmt.Errorf("storage.encryption_key must be hex: %w", err)
		}
		enc.Key = key
	}
	if s.Passphrase != "" {
		enc.Passphrase = []byte(s.Passphrase)
	}
	if err := savegame.ValidateConfig(enc); err != nil {
		return enc, fmt.Errorf("storage: %w", err)
	}
	return enc, nil
}

// VerifyRelay validates a relay configuration.
func VerifyRelay(cfg *RelayConfig) error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.addr: %w", err))
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if cfg.Limits.FrameRate <= 0 {
		errs = append(errs, errors.New("limits.frame_rate must be positive"))
	}
	if cfg.Limits.FrameBurst <= 0 {
		errs = append(errs, errors.New("limits.frame_burst must be positive"))
	}
	if cfg.Limits.MaxRoomMembers < 2 {
		errs = append(errs, errors.New("limits.max_room_members must be at least 2"))
	}
	if err := verifyLog(&cfg.Log); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
