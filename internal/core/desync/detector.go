// Package desync compares state digests between peers to catch divergence
// that input agreement alone cannot reveal.
package desync

import (
	"encoding/binary"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

const (
	// DefaultInterval is the default checksum spacing in frames.
	DefaultInterval = 10

	// DefaultHistory is the default number of local digests retained.
	DefaultHistory = 32
)

// Config configures a Detector.
type Config struct {
	Local domain.PeerID

	// Interval K: frames f with f%K == 0 and f > 0 are checksummed.
	Interval int

	// History is how many local digests are kept for comparison.
	History int

	// MaxPending bounds remote records buffered ahead of local
	// confirmation. Zero means 4*History.
	MaxPending int
}

type pairKey struct {
	peer  domain.PeerID
	frame domain.Frame
}

// Detector keeps local digests of confirmed frames and compares remote ones
// against them. It is not safe for concurrent use.
type Detector struct {
	cfg Config

	local       map[domain.Frame]domain.Digest
	lastChecked domain.Frame

	// pending holds remote records whose frame is not confirmed locally yet.
	pending map[domain.Frame]map[domain.PeerID]domain.Digest
	npending int

	// compared remembers every (peer, frame) already judged.
	compared map[pairKey]struct{}

	events []domain.Desync
}

// New creates a detector.
func New(cfg Config) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4 * cfg.History
	}
	return &Detector{
		cfg:      cfg,
		local:    make(map[domain.Frame]domain.Digest),
		pending:  make(map[domain.Frame]map[domain.PeerID]domain.Digest),
		compared: make(map[pairKey]struct{}),
	}
}

// Digest fingerprints serialized state with 128-bit MurmurHash3.
func Digest(state []byte) domain.Digest {
	h1, h2 := murmur3.Sum128(state)
	var d domain.Digest
	binary.BigEndian.PutUint64(d[:8], h1)
	binary.BigEndian.PutUint64(d[8:], h2)
	return d
}

// Interval returns the checksum spacing.
func (d *Detector) Interval() int {
	return d.cfg.Interval
}

// Due returns the frames that became eligible for a checksum now that
// frontier is confirmed, in increasing order. Each frame is returned once.
func (d *Detector) Due(frontier domain.Frame) []domain.Frame {
	if frontier <= d.lastChecked {
		return nil
	}
	k := domain.Frame(d.cfg.Interval)
	var due []domain.Frame
	first := (d.lastChecked/k + 1) * k
	for f := first; f <= frontier; f += k {
		due = append(due, f)
	}
	d.lastChecked = frontier
	return due
}

// Record digests the confirmed state of frame, compares it against any
// buffered remote records and returns the local record for broadcasting.
func (d *Detector) Record(frame domain.Frame, state []byte) domain.ChecksumRecord {
	digest := Digest(state)
	d.local[frame] = digest
	d.trimHistory()

	if remotes, ok := d.pending[frame]; ok {
		peers := make([]domain.PeerID, 0, len(remotes))
		for p := range remotes {
			peers = append(peers, p)
		}
		domain.SortPeerIDs(peers)
		for _, p := range peers {
			d.compare(p, frame, digest, remotes[p])
		}
		d.npending -= len(remotes)
		delete(d.pending, frame)
	}

	return domain.ChecksumRecord{Frame: frame, Digest: digest, Peer: d.cfg.Local}
}

// AddRemote handles a peer's checksum record. Records for frames whose
// local digest was already dropped are skipped.
func (d *Detector) AddRemote(rec domain.ChecksumRecord) {
	if rec.Frame <= 0 || int(rec.Frame)%d.cfg.Interval != 0 || rec.Peer == d.cfg.Local {
		return
	}
	key := pairKey{peer: rec.Peer, frame: rec.Frame}
	if _, done := d.compared[key]; done {
		return
	}

	if local, ok := d.local[rec.Frame]; ok {
		d.compare(rec.Peer, rec.Frame, local, rec.Digest)
		return
	}
	if rec.Frame <= d.lastChecked {
		// Confirmed locally but already out of history.
		return
	}

	remotes, ok := d.pending[rec.Frame]
	if !ok {
		if d.npending >= d.cfg.MaxPending {
			return
		}
		remotes = make(map[domain.PeerID]domain.Digest)
		d.pending[rec.Frame] = remotes
	}
	if _, dup := remotes[rec.Peer]; dup {
		return
	}
	remotes[rec.Peer] = rec.Digest
	d.npending++
}

// Events drains the desyncs detected since the last call.
func (d *Detector) Events() []domain.Desync {
	out := d.events
	d.events = nil
	return out
}

// LocalDigest returns the retained local digest for frame.
func (d *Detector) LocalDigest(frame domain.Frame) (domain.Digest, bool) {
	digest, ok := d.local[frame]
	return digest, ok
}

// Forget drops buffered records from a peer that left the session.
func (d *Detector) Forget(peer domain.PeerID) {
	for f, remotes := range d.pending {
		if _, ok := remotes[peer]; ok {
			delete(remotes, peer)
			d.npending--
		}
		if len(remotes) == 0 {
			delete(d.pending, f)
		}
	}
}

func (d *Detector) compare(peer domain.PeerID, frame domain.Frame, local, remote domain.Digest) {
	key := pairKey{peer: peer, frame: frame}
	if _, done := d.compared[key]; done {
		return
	}
	d.compared[key] = struct{}{}
	if local != remote {
		d.events = append(d.events, domain.Desync{
			Frame:  frame,
			Peer:   peer,
			Local:  local,
			Remote: remote,
		})
	}
}

func (d *Detector) trimHistory() {
	if len(d.local) <= d.cfg.History {
		return
	}
	frames := make([]domain.Frame, 0, len(d.local))
	for f := range d.local {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })

	cut := frames[len(frames)-d.cfg.History]
	for _, f := range frames[:len(frames)-d.cfg.History] {
		delete(d.local, f)
	}
	for key := range d.compared {
		if key.frame < cut {
			delete(d.compared, key)
		}
	}
}
