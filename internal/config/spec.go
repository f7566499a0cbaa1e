// Package config defines the configuration of the RollMesh binaries.
package config

import "time"

// PeerConfig is the root configuration of rollmesh-peer.
type PeerConfig struct {
	Peer      PeerSection      `koanf:"peer" yaml:"peer"`
	Session   SessionSection   `koanf:"session" yaml:"session"`
	Lobby     LobbySection     `koanf:"lobby" yaml:"lobby"`
	Transport TransportSection `koanf:"transport" yaml:"transport"`
	Storage   StorageSection   `koanf:"storage" yaml:"storage"`
	Metrics   MetricsSection   `koanf:"metrics" yaml:"metrics"`
	Log       LogSection       `koanf:"log" yaml:"log"`
}

// PeerSection identifies the local participant.
type PeerSection struct {
	// ID must be unique within the room. Generated when empty.
	ID   string `koanf:"id" yaml:"id"`
	Name string `koanf:"name" yaml:"name"`

	// Room groups the peers of one match on a shared transport.
	Room string `koanf:"room" yaml:"room"`

	// TickRate is the number of simulation frames per second.
	TickRate int `koanf:"tick_rate" yaml:"tick_rate"`

	// Frames stops the match after this many frames. Zero runs until
	// interrupted.
	Frames int `koanf:"frames" yaml:"frames"`

	// Bot drives the local player with a scripted input pattern.
	Bot bool `koanf:"bot" yaml:"bot"`
}

// SessionSection tunes the rollback session.
type SessionSection struct {
	PredictionWindow  int           `koanf:"prediction_window" yaml:"prediction_window"`
	ChecksumInterval  int           `koanf:"checksum_interval" yaml:"checksum_interval"`
	ChecksumHistory   int           `koanf:"checksum_history" yaml:"checksum_history"`
	SyncRoundtrips    int           `koanf:"sync_roundtrips" yaml:"sync_roundtrips"`
	PingInterval      time.Duration `koanf:"ping_interval" yaml:"ping_interval"`
	DisconnectTimeout time.Duration `koanf:"disconnect_timeout" yaml:"disconnect_timeout"`

	// DesyncPolicy is "report" or "abort".
	DesyncPolicy string `koanf:"desync_policy" yaml:"desync_policy"`
}

// LobbySection configures the pre-session handshake.
type LobbySection struct {
	// MinPeers is the number of remote peers required to start.
	MinPeers       int           `koanf:"min_peers" yaml:"min_peers"`
	ResendInterval time.Duration `koanf:"resend_interval" yaml:"resend_interval"`

	// Resume offers the newest local save to the lobby.
	Resume bool `koanf:"resume" yaml:"resume"`
}

// TransportSection selects and configures the peer channel.
type TransportSection struct {
	// Kind is "gossip" or "relay".
	Kind   string        `koanf:"kind" yaml:"kind"`
	Gossip GossipSection `koanf:"gossip" yaml:"gossip"`
	Relay  RelaySection  `koanf:"relay" yaml:"relay"`
}

// GossipSection configures the memberlist transport.
type GossipSection struct {
	BindAddr      string   `koanf:"bind_addr" yaml:"bind_addr"`
	BindPort      int      `koanf:"bind_port" yaml:"bind_port"`
	AdvertiseAddr string   `koanf:"advertise_addr" yaml:"advertise_addr"`
	Seeds         []string `koanf:"seeds" yaml:"seeds"`

	// Profile is "lan", "wan" or "local".
	Profile string `koanf:"profile" yaml:"profile"`
}

// RelaySection configures the websocket relay client.
type RelaySection struct {
	URL string `koanf:"url" yaml:"url"`

	// CAFile adds a private CA bundle for wss:// relays.
	CAFile string `koanf:"ca_file" yaml:"ca_file"`
}

// StorageSection configures saves and the input journal.
type StorageSection struct {
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	SaveKeep int `koanf:"save_keep" yaml:"save_keep"`
	SaveDays int `koanf:"save_days" yaml:"save_days"`

	// EncryptionKey (hex, at least 16 bytes) or Passphrase seals saves.
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
	Passphrase    string `koanf:"passphrase" yaml:"passphrase"`

	// Journal records confirmed frames for offline replay.
	Journal bool `koanf:"journal" yaml:"journal"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr serves /metrics when set.
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// RelayConfig is the root configuration of rollmesh-relay.
type RelayConfig struct {
	Server  RelayServerSection `koanf:"server" yaml:"server"`
	Limits  RelayLimitsSection `koanf:"limits" yaml:"limits"`
	Metrics MetricsSection     `koanf:"metrics" yaml:"metrics"`
	Log     LogSection         `koanf:"log" yaml:"log"`
}

// RelayServerSection configures the relay listener.
type RelayServerSection struct {
	Addr         string        `koanf:"addr" yaml:"addr"`
	PingInterval time.Duration `koanf:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout"`

	// TLSCertFile and TLSKeyFile serve wss://. Both or neither.
	TLSCertFile string `koanf:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" yaml:"tls_key_file"`
}

// RelayLimitsSection bounds what one connection may do.
type RelayLimitsSection struct {
	FrameRate      float64 `koanf:"frame_rate" yaml:"frame_rate"`
	FrameBurst     int     `koanf:"frame_burst" yaml:"frame_burst"`
	MaxFrameSize   int64   `koanf:"max_frame_size" yaml:"max_frame_size"`
	SendQueue      int     `koanf:"send_queue" yaml:"send_queue"`
	MaxRoomMembers int     `koanf:"max_room_members" yaml:"max_room_members"`
}
