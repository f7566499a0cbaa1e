package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/core/session"
	"github.com/yndnr/rollmesh-go/internal/lobby"
	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport/relay"
)

// PeerIDPrefix prefixes generated peer IDs.
const PeerIDPrefix = "peer-"

// EnsurePeerID fills Peer.ID with a random ID when empty.
func EnsurePeerID(cfg *PeerConfig) error {
	if cfg.Peer.ID != "" {
		return nil
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate peer id: %w", err)
	}
	cfg.Peer.ID = PeerIDPrefix + hex.EncodeToString(b)
	return nil
}

// ToSessionConfig converts the session section. InputSize is left at the
// session default; the host overrides it for its simulation.
func ToSessionConfig(cfg *PeerConfig) (session.Config, error) {
	sc := session.DefaultConfig()
	s := cfg.Session
	sc.PredictionWindow = s.PredictionWindow
	sc.ChecksumInterval = s.ChecksumInterval
	sc.ChecksumHistory = s.ChecksumHistory
	sc.SyncRoundtrips = s.SyncRoundtrips
	sc.PingInterval = s.PingInterval
	sc.DisconnectTimeout = s.DisconnectTimeout
	sc.DesyncPolicy = session.DesyncPolicy(s.DesyncPolicy)
	if err := sc.Validate(); err != nil {
		return session.Config{}, err
	}
	return sc, nil
}

// ToLobbyConfig converts the lobby section.
func ToLobbyConfig(cfg *PeerConfig, log logger.Logger, metrics *metric.Registry) lobby.Config {
	return lobby.Config{
		Name:           cfg.Peer.Name,
		ResendInterval: cfg.Lobby.ResendInterval,
		MinPeers:       cfg.Lobby.MinPeers,
		Logger:         log,
		Metrics:        metrics,
	}
}

// ToSaveConfig converts the storage section.
func ToSaveConfig(cfg *PeerConfig, dir string) (savegame.Config, error) {
	enc, err := EncryptionConfig(&cfg.Storage)
	if err != nil {
		return savegame.Config{}, err
	}
	return savegame.Config{
		Dir:            dir,
		RetentionCount: cfg.Storage.SaveKeep,
		RetentionDays:  cfg.Storage.SaveDays,
		PeerID:         domain.PeerID(cfg.Peer.ID),
		Encryption:     enc,
	}, nil
}

// ToRelayServerConfig converts a relay configuration.
func ToRelayServerConfig(cfg *RelayConfig, log logger.Logger, metrics *metric.Registry) relay.ServerConfig {
	return relay.ServerConfig{
		FrameRate:      cfg.Limits.FrameRate,
		FrameBurst:     cfg.Limits.FrameBurst,
		MaxFrameSize:   cfg.Limits.MaxFrameSize,
		SendQueue:      cfg.Limits.SendQueue,
		MaxRoomMembers: cfg.Limits.MaxRoomMembers,
		PingInterval:   cfg.Server.PingInterval,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Logger:         log,
		Metrics:        metrics,
	}
}
