package session

import (
	"fmt"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/core/inputsync"
	"github.com/yndnr/rollmesh-go/internal/protocol"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

// DesyncPolicy decides what a detected desync does to the session.
type DesyncPolicy string

const (
	// DesyncReport surfaces desyncs through DesyncEvents and keeps running.
	DesyncReport DesyncPolicy = "report"
	// DesyncAbort aborts the session on the first desync.
	DesyncAbort DesyncPolicy = "abort"
)

// Config holds session tuning.
type Config struct {
	// InputSize is the fixed length of every input in bytes.
	InputSize int

	// PredictionWindow is how many frames the local frame may run ahead of
	// the confirmed frontier before AdvanceFrame stalls.
	PredictionWindow int

	// ChecksumInterval K: every K-th confirmed frame is digested and compared.
	ChecksumInterval int

	// ChecksumHistory is how many local digests are kept for comparison.
	ChecksumHistory int

	// SyncRoundtrips is the number of handshake round-trips before a peer
	// counts as synchronized. Zero synchronizes peers immediately.
	SyncRoundtrips int

	// PingInterval is the spacing of RTT probes.
	PingInterval time.Duration

	// DisconnectTimeout marks a silent peer disconnected. Zero disables it.
	DisconnectTimeout time.Duration

	DesyncPolicy DesyncPolicy

	// MatchID names the session in logs, journals and saves. Generated when
	// empty.
	MatchID domain.MatchID
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:         1,
		PredictionWindow:  8,
		ChecksumInterval:  10,
		ChecksumHistory:   32,
		SyncRoundtrips:    3,
		PingInterval:      time.Second,
		DisconnectTimeout: 5 * time.Second,
		DesyncPolicy:      DesyncReport,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return domain.ErrInvalidConfig.WithDetails("input_size must be positive")
	}
	if c.PredictionWindow <= 0 {
		return domain.ErrInvalidConfig.WithDetails("prediction_window must be positive")
	}
	if c.ChecksumInterval <= 0 {
		return domain.ErrInvalidConfig.WithDetails("checksum_interval must be positive")
	}
	if c.ChecksumHistory <= 0 {
		return domain.ErrInvalidConfig.WithDetails("checksum_history must be positive")
	}
	if c.SyncRoundtrips < 0 {
		return domain.ErrInvalidConfig.WithDetails("sync_roundtrips must not be negative")
	}
	if c.PingInterval <= 0 {
		return domain.ErrInvalidConfig.WithDetails("ping_interval must be positive")
	}
	if c.DisconnectTimeout < 0 {
		return domain.ErrInvalidConfig.WithDetails("disconnect_timeout must not be negative")
	}
	switch c.DesyncPolicy {
	case DesyncReport, DesyncAbort:
	default:
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("unknown desync_policy %q", c.DesyncPolicy))
	}
	if c.MatchID != "" && !c.MatchID.Valid() {
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("invalid match_id %q", c.MatchID))
	}
	return nil
}

// Journal records confirmed history for offline replay.
type Journal interface {
	RecordInputs(inputs domain.InputSet) error
	RecordChecksum(rec domain.ChecksumRecord) error
}

// Deps are the collaborators of a session.
type Deps struct {
	// Channel is required.
	Channel transport.Channel

	// Simulation is required. Its current state becomes frame 0.
	Simulation domain.Simulation

	// Logger defaults to a no-op logger.
	Logger logger.Logger

	// Metrics defaults to a private registry.
	Metrics *metric.Registry

	// Now defaults to time.Now.
	Now func() time.Time

	// Journal is optional.
	Journal Journal

	// LobbyEcho, when set, answers lobby packets from roster peers so
	// peers still in the lobby see the local peer as ready.
	LobbyEcho *protocol.LobbyState
}

func (d *Deps) setDefaults() error {
	if d.Channel == nil {
		return domain.ErrInvalidConfig.WithDetails("channel is required")
	}
	if d.Simulation == nil {
		return domain.ErrInvalidConfig.WithDetails("simulation is required")
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metric.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

func (c Config) syncConfig(local domain.PeerID) inputsync.Config {
	return inputsync.Config{
		Local:     local,
		InputSize: c.InputSize,
		Window:    c.PredictionWindow,
	}
}
