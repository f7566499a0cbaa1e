// Package journal records the confirmed history of matches in Badger so a
// match can be replayed offline.
//
// Key layout:
//
//	match/<id>/frame/<be32 frame>     confirmed input set
//	match/<id>/checksum/<be32 frame>  local state digest
//	match/<id>/initial                serialized state before frame 1
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
)

const (
	matchPrefix    = "match/"
	frameSegment   = "/frame/"
	digestSegment  = "/checksum/"
	initialSegment = "/initial"
	frameKeyLength = 4

	DefaultGCInterval  = 10 * time.Minute
	DefaultGCThreshold = 0.5
)

// Config configures the journal store.
type Config struct {
	// Dir is the Badger directory. Ignored when InMemory is set.
	Dir string

	InMemory   bool
	SyncWrites bool

	GCInterval  time.Duration
	GCThreshold float64

	Logger logger.Logger
}

// Entry is one journaled frame.
type Entry struct {
	Inputs domain.InputSet

	// Checksum is set when a local digest was recorded for the frame.
	Checksum *domain.Digest
}

// Range summarizes the frames journaled for a match.
type Range struct {
	First domain.Frame
	Last  domain.Frame
	Count int
}

// Journal is a Badger-backed history store shared by every match.
type Journal struct {
	db  *badger.DB
	cfg Config
	log logger.Logger

	mu     sync.RWMutex
	closed bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens or creates a journal.
func Open(cfg Config) (*Journal, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, domain.ErrInvalidConfig.WithDetails("journal: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = DefaultGCThreshold
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{log: cfg.Logger}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	j := &Journal{
		db:     db,
		cfg:    cfg,
		log:    cfg.Logger.With("component", "journal"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.InMemory {
		close(j.doneCh)
	} else {
		go j.gcLoop()
	}

	j.log.Info("journal opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return j, nil
}

// Match returns a recorder bound to one match.
func (j *Journal) Match(id domain.MatchID) *Recorder {
	return &Recorder{j: j, match: id}
}

func frameKey(match domain.MatchID, segment string, f domain.Frame) []byte {
	key := make([]byte, 0, len(matchPrefix)+len(match)+len(segment)+frameKeyLength)
	key = append(key, matchPrefix...)
	key = append(key, match...)
	key = append(key, segment...)
	return binary.BigEndian.AppendUint32(key, uint32(f))
}

func segmentPrefix(match domain.MatchID, segment string) []byte {
	return []byte(matchPrefix + string(match) + segment)
}

func frameFromKey(key []byte) domain.Frame {
	return domain.Frame(binary.BigEndian.Uint32(key[len(key)-frameKeyLength:]))
}

func (j *Journal) update(fn func(txn *badger.Txn) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return domain.ErrJournalClosed
	}
	return j.db.Update(fn)
}

func (j *Journal) view(fn func(txn *badger.Txn) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return domain.ErrJournalClosed
	}
	return j.db.View(fn)
}

// Inputs returns the input set journaled for one frame.
func (j *Journal) Inputs(match domain.MatchID, f domain.Frame) (domain.InputSet, error) {
	var set domain.InputSet
	err := j.view(func(txn *badger.Txn) error {
		item, err := txn.Get(frameKey(match, frameSegment, f))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrJournalFrameNotFound.WithDetails(fmt.Sprintf("%s frame %d", match, f))
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			set, err = decodeInputSet(f, val)
			return err
		})
	})
	return set, err
}

// Initial returns the state the match started from.
func (j *Journal) Initial(match domain.MatchID) ([]byte, error) {
	var state []byte
	err := j.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(matchPrefix + string(match) + initialSegment))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrJournalFrameNotFound.WithDetails(fmt.Sprintf("%s initial state", match))
			}
			return err
		}
		state, err = item.ValueCopy(nil)
		return err
	})
	return state, err
}

// Checksum returns the digest journaled for one frame.
func (j *Journal) Checksum(match domain.MatchID, f domain.Frame) (domain.Digest, error) {
	var d domain.Digest
	err := j.view(func(txn *badger.Txn) error {
		item, err := txn.Get(frameKey(match, digestSegment, f))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrJournalFrameNotFound.WithDetails(fmt.Sprintf("%s checksum %d", match, f))
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != domain.DigestSize {
				return fmt.Errorf("journal: digest of %d bytes", len(val))
			}
			copy(d[:], val)
			return nil
		})
	})
	return d, err
}

// Frames reports the journaled frame range of a match.
func (j *Journal) Frames(match domain.MatchID) (Range, error) {
	r := Range{First: domain.NullFrame, Last: domain.NullFrame}
	err := j.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = segmentPrefix(match, frameSegment)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			f := frameFromKey(it.Item().Key())
			if r.Count == 0 {
				r.First = f
			}
			r.Last = f
			r.Count++
		}
		return nil
	})
	return r, err
}

// Replay calls fn for every journaled frame of a match in frame order.
// Iteration stops at the first error returned by fn or at ctx cancellation.
func (j *Journal) Replay(ctx context.Context, match domain.MatchID, fn func(Entry) error) error {
	digests := make(map[domain.Frame]domain.Digest)
	return j.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = segmentPrefix(match, digestSegment)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var d domain.Digest
			if err := item.Value(func(val []byte) error {
				copy(d[:], val)
				return nil
			}); err != nil {
				it.Close()
				return err
			}
			digests[frameFromKey(item.Key())] = d
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = segmentPrefix(match, frameSegment)
		it = txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			f := frameFromKey(item.Key())

			var entry Entry
			if err := item.Value(func(val []byte) error {
				var err error
				entry.Inputs, err = decodeInputSet(f, val)
				return err
			}); err != nil {
				return err
			}
			if d, ok := digests[f]; ok {
				entry.Checksum = &d
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Matches lists journaled match IDs in sorted order.
func (j *Journal) Matches() ([]domain.MatchID, error) {
	seen := make(map[domain.MatchID]struct{})
	err := j.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(matchPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), matchPrefix)
			if i := strings.IndexByte(rest, '/'); i > 0 {
				seen[domain.MatchID(rest[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]domain.MatchID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// Delete removes every record of a match.
func (j *Journal) Delete(match domain.MatchID) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, domain.ErrJournalClosed
	}

	var keys [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(matchPrefix + string(match) + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}

	j.log.Info("match deleted", "match_id", match, "keys", len(keys))
	return len(keys), nil
}

// GC reclaims value log space. It reports how many rewrite passes ran.
func (j *Journal) GC(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, domain.ErrJournalClosed
	}
	if j.cfg.InMemory {
		return 0, nil
	}

	passes := 0
	for ctx.Err() == nil {
		err := j.db.RunValueLogGC(j.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return passes, fmt.Errorf("journal: gc: %w", err)
		}
		passes++
	}
	return passes, nil
}

// Close stops background GC and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	if !j.cfg.InMemory {
		close(j.stopCh)
	}
	<-j.doneCh

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: close db: %w", err)
	}
	j.log.Info("journal closed")
	return nil
}

func (j *Journal) gcLoop() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := j.GC(ctx); err != nil && !errors.Is(err, domain.ErrJournalClosed) {
				j.log.Error("journal gc failed", "error", err)
			}
			cancel()
		case <-j.stopCh:
			return
		}
	}
}

// Recorder writes one match's history. It satisfies the session's journal
// contract.
type Recorder struct {
	j     *Journal
	match domain.MatchID
}

// MatchID returns the match this recorder writes.
func (r *Recorder) MatchID() domain.MatchID {
	return r.match
}

// RecordInitial stores the state the match starts from.
func (r *Recorder) RecordInitial(state []byte) error {
	return r.j.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(matchPrefix+string(r.match)+initialSegment), bytes.Clone(state))
	})
}

// RecordInputs stores the input set of a confirmed frame. Every entry is
// read back as confirmed.
func (r *Recorder) RecordInputs(set domain.InputSet) error {
	val := encodeInputSet(set)
	return r.j.update(func(txn *badger.Txn) error {
		return txn.Set(frameKey(r.match, frameSegment, set.Frame), val)
	})
}

// RecordChecksum stores the local digest of a frame.
func (r *Recorder) RecordChecksum(rec domain.ChecksumRecord) error {
	return r.j.update(func(txn *badger.Txn) error {
		return txn.Set(frameKey(r.match, digestSegment, rec.Frame), bytes.Clone(rec.Digest[:]))
	})
}

// badgerLogger adapts the application logger to Badger's Logger interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
