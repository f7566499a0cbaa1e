package config

import (
	"path/filepath"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/session"
	"github.com/yndnr/rollmesh-go/internal/lobby"
	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
	"github.com/yndnr/rollmesh-go/internal/transport/relay"
)

// Default configuration values.
const (
	DefaultRoom          = "default"
	DefaultTickRate      = 60
	DefaultTransport     = TransportGossip
	DefaultGossipAddr    = "0.0.0.0"
	DefaultGossipPort    = 7946
	DefaultGossipProfile = "lan"
	DefaultDataDir       = "./rollmesh-data"
	DefaultRelayAddr     = "127.0.0.1:7480"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Transport kinds.
const (
	TransportGossip = "gossip"
	TransportRelay  = "relay"
)

// DefaultPeer returns the default peer configuration.
func DefaultPeer() *PeerConfig {
	s := session.DefaultConfig()
	return &PeerConfig{
		Peer: PeerSection{
			Name:     lobby.DefaultName,
			Room:     DefaultRoom,
			TickRate: DefaultTickRate,
		},
		Session: SessionSection{
			PredictionWindow:  s.PredictionWindow,
			ChecksumInterval:  s.ChecksumInterval,
			ChecksumHistory:   s.ChecksumHistory,
			SyncRoundtrips:    s.SyncRoundtrips,
			PingInterval:      s.PingInterval,
			DisconnectTimeout: s.DisconnectTimeout,
			DesyncPolicy:      string(s.DesyncPolicy),
		},
		Lobby: LobbySection{
			MinPeers:       1,
			ResendInterval: lobby.DefaultResendInterval,
			Resume:         true,
		},
		Transport: TransportSection{
			Kind: DefaultTransport,
			Gossip: GossipSection{
				BindAddr: DefaultGossipAddr,
				BindPort: DefaultGossipPort,
				Profile:  DefaultGossipProfile,
			},
		},
		Storage: StorageSection{
			DataDir:  DefaultDataDir,
			SaveKeep: savegame.DefaultRetentionCount,
			SaveDays: savegame.DefaultRetentionDays,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultRelay returns the default relay configuration.
func DefaultRelay() *RelayConfig {
	return &RelayConfig{
		Server: RelayServerSection{
			Addr:         DefaultRelayAddr,
			PingInterval: relay.DefaultPingInterval,
			ReadTimeout:  relay.DefaultReadTimeout,
			WriteTimeout: relay.DefaultWriteTimeout,
		},
		Limits: RelayLimitsSection{
			FrameRate:      relay.DefaultFrameRate,
			FrameBurst:     relay.DefaultFrameBurst,
			MaxFrameSize:   relay.DefaultMaxFrameSize,
			SendQueue:      relay.DefaultSendQueue,
			MaxRoomMembers: relay.DefaultMaxRoomMembers,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// FrameDuration returns the wall-clock length of one frame.
func (c *PeerConfig) FrameDuration() time.Duration {
	if c.Peer.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(c.Peer.TickRate)
}

// Data directory layout.
const (
	SaveSubdir    = "saves"
	JournalSubdir = "journal"
)

// SaveDir returns the save directory under dataDir.
func SaveDir(dataDir string) string {
	return filepath.Join(dataDir, SaveSubdir)
}

// JournalDir returns the journal directory under dataDir.
func JournalDir(dataDir string) string {
	return filepath.Join(dataDir, JournalSubdir)
}
