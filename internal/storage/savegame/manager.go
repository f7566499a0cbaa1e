// Package savegame stores the last confirmed game state of a match so it
// can be offered for resumption in a later lobby.
//
// File layout:
//
//	magic "RMSHSAVE" | u32 header length | JSON header | u32 state length |
//	state block (optionally sealed) | SHA-256 of everything before it
package savegame

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/protocol"
)

var magicBytes = []byte("RMSHSAVE")

const (
	filePrefix    = "save-"
	fileExtension = ".rmsave"
	checksumSize  = 32
	headerVersion = 1

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 30
)

type saveHeader struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	MatchID   string `json:"match_id"`
	PeerID    string `json:"peer_id,omitempty"`
	Frame     int32  `json:"frame"`
	StateLen  int    `json:"state_len"`
	Encrypted bool   `json:"encrypted"`
	Algorithm string `json:"algorithm,omitempty"`
	Salt      []byte `json:"salt,omitempty"`
}

var (
	ErrInvalidMagic     = domain.ErrSaveCorrupted.WithDetails("invalid magic bytes")
	ErrChecksumMismatch = domain.ErrSaveCorrupted.WithDetails("checksum mismatch")
	ErrNoSaves          = domain.ErrSaveNotFound.WithDetails("no saves available")
)

// Config configures the save manager.
type Config struct {
	Dir string

	RetentionCount int
	RetentionDays  int

	// PeerID is recorded in every save this manager writes.
	PeerID domain.PeerID

	Encryption EncryptionConfig
}

// DefaultConfig returns a configuration storing saves in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Save is a game state at a confirmed frame.
type Save struct {
	MatchID   domain.MatchID
	PeerID    domain.PeerID
	Frame     domain.Frame
	CreatedAt time.Time

	// State is nil when the save is encrypted and no key was configured.
	State []byte
}

// Offer converts the save into a lobby offer.
func (s *Save) Offer() *protocol.SaveOffer {
	if s == nil || s.State == nil {
		return nil
	}
	return &protocol.SaveOffer{
		MatchID:   string(s.MatchID),
		Frame:     s.Frame,
		CreatedAt: s.CreatedAt.UnixMilli(),
		State:     s.State,
	}
}

// Info contains metadata about a save file.
type Info struct {
	ID        string `json:"id"`
	MatchID   string `json:"match_id,omitempty"`
	PeerID    string `json:"peer_id,omitempty"`
	Frame     int32  `json:"frame"`
	CreatedAt int64  `json:"created_at,omitempty"`
	StateLen  int    `json:"state_len,omitempty"`
	Encrypted bool   `json:"encrypted"`
	Size      int64  `json:"size"`
	Path      string `json:"path"`
	Checksum  string `json:"checksum,omitempty"`
}

// Manager writes, reads and prunes save files in one directory.
type Manager struct {
	cfg Config
}

// NewManager creates the directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("savegame: dir is required")
	}
	if err := ValidateConfig(cfg.Encryption); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("savegame: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Manager{cfg: cfg}, nil
}

// Create writes a new save file.
func (m *Manager) Create(save Save) (*Info, error) {
	if save.CreatedAt.IsZero() {
		save.CreatedAt = time.Now()
	}
	if save.PeerID == "" {
		save.PeerID = m.cfg.PeerID
	}
	id := m.generateID(save.CreatedAt)

	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("savegame: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	hash := sha256.New()
	writer := io.MultiWriter(file, hash)

	hdr := saveHeader{
		Version:   headerVersion,
		CreatedAt: save.CreatedAt.UnixMilli(),
		MatchID:   string(save.MatchID),
		PeerID:    string(save.PeerID),
		Frame:     int32(save.Frame),
		StateLen:  len(save.State),
	}

	data := save.State
	cipher, salt, err := NewCipherFromConfig(m.cfg.Encryption)
	if err != nil {
		file.Close()
		return nil, err
	}
	if cipher != nil {
		hdr.Encrypted = true
		hdr.Algorithm = string(cipher.Type())
		hdr.Salt = salt
		data, err = cipher.Encrypt(data, magicBytes)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("savegame: encrypt: %w", err)
		}
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("savegame: marshal header: %w", err)
	}

	if err := writeBlocks(writer, magicBytes, hdrJSON, data); err != nil {
		file.Close()
		return nil, err
	}

	// Checksum trailer is not part of the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, fmt.Errorf("savegame: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("savegame: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("savegame: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}

	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("savegame: rename: %w", err)
	}

	return &Info{
		ID:        id,
		MatchID:   hdr.MatchID,
		PeerID:    hdr.PeerID,
		Frame:     hdr.Frame,
		CreatedAt: hdr.CreatedAt,
		StateLen:  hdr.StateLen,
		Encrypted: hdr.Encrypted,
		Size:      stat.Size(),
		Path:      finalPath,
		Checksum:  hex.EncodeToString(sum),
	}, nil
}

func writeBlocks(w io.Writer, magic, hdr, data []byte) error {
	if _, err := w.Write(magic); err != nil {
		return fmt.Errorf("savegame: write magic: %w", err)
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(hdr)))
	if _, err := w.Write(n[:]); err != nil {
		return fmt.Errorf("savegame: write header length: %w", err)
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("savegame: write header: %w", err)
	}
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return fmt.Errorf("savegame: write state length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("savegame: write state: %w", err)
	}
	return nil
}

// Load returns the newest valid save. Corrupted files are skipped.
func (m *Manager) Load() (*Save, *Info, error) {
	saves, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	if len(saves) == 0 {
		return nil, nil, ErrNoSaves
	}

	for i := len(saves) - 1; i >= 0; i-- {
		save, info, err := m.LoadFile(saves[i].Path)
		if err == nil {
			return save, info, nil
		}
		if errors.Is(err, domain.ErrSaveCorrupted) {
			continue
		}
		return nil, nil, err
	}

	return nil, nil, ErrNoSaves
}

// LoadFile reads and verifies one save file. An encrypted save read
// without a configured key yields metadata and a nil State.
func (m *Manager) LoadFile(path string) (*Save, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, domain.ErrSaveNotFound.WithDetails(path)
		}
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, nil, ErrChecksumMismatch
	}

	dataLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, dataLen, checksumSize), expected); err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, dataLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, ErrInvalidMagic
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	hdrJSON, err := readBlock(br, "header")
	if err != nil {
		return nil, nil, err
	}
	var hdr saveHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, domain.ErrSaveCorrupted.WithCause(fmt.Errorf("unmarshal header: %w", err))
	}
	if hdr.Version != headerVersion {
		return nil, nil, domain.ErrSaveCorrupted.WithDetails(fmt.Sprintf("unsupported version %d", hdr.Version))
	}

	data, err := readBlock(br, "state")
	if err != nil {
		return nil, nil, err
	}

	switch {
	case hdr.Encrypted && !m.cfg.Encryption.Enabled():
		// Metadata only.
		data = nil
	case hdr.Encrypted:
		enc := m.cfg.Encryption
		enc.Salt = hdr.Salt
		enc.Algorithm = hdr.Algorithm
		cipher, _, err := NewCipherFromConfig(enc)
		if err != nil {
			return nil, nil, err
		}
		plain, err := cipher.Decrypt(data, magicBytes)
		if err != nil {
			return nil, nil, ErrDecryptionFailed
		}
		data = plain
	case m.cfg.Encryption.Enabled():
		return nil, nil, fmt.Errorf("savegame: expected encrypted save")
	}
	if data != nil && len(data) != hdr.StateLen {
		return nil, nil, domain.ErrSaveCorrupted.WithDetails("state length mismatch")
	}

	info := &Info{
		ID:        strings.TrimSuffix(filepath.Base(path), fileExtension),
		MatchID:   hdr.MatchID,
		PeerID:    hdr.PeerID,
		Frame:     hdr.Frame,
		CreatedAt: hdr.CreatedAt,
		StateLen:  hdr.StateLen,
		Encrypted: hdr.Encrypted,
		Size:      stat.Size(),
		Path:      path,
		Checksum:  hex.EncodeToString(expected),
	}
	save := &Save{
		MatchID:   domain.MatchID(hdr.MatchID),
		PeerID:    domain.PeerID(hdr.PeerID),
		Frame:     domain.Frame(hdr.Frame),
		CreatedAt: time.UnixMilli(hdr.CreatedAt),
		State:     data,
	}
	return save, info, nil
}

func readBlock(r io.Reader, what string) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, domain.ErrSaveCorrupted.WithDetails("truncated " + what)
	}
	size := binary.BigEndian.Uint32(n[:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, domain.ErrSaveCorrupted.WithDetails("truncated " + what)
	}
	return buf, nil
}

// List lists save files oldest first (metadata from the file name only).
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			paths = append(paths, filepath.Join(m.cfg.Dir, name))
		}
	}
	sort.Strings(paths)

	var infos []*Info
	for _, p := range paths {
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:   strings.TrimSuffix(filepath.Base(p), fileExtension),
			Path: p,
			Size: stat.Size(),
		})
	}
	return infos, nil
}

// Prune applies the retention policy. The newest save is always kept.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	if len(infos) <= 1 {
		return nil
	}

	keep := make(map[string]struct{}, len(infos))

	if m.cfg.RetentionCount > 0 {
		start := len(infos) - m.cfg.RetentionCount
		if start < 0 {
			start = 0
		}
		for _, info := range infos[start:] {
			keep[info.Path] = struct{}{}
		}
	}

	if m.cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, info := range infos {
			st, err := os.Stat(info.Path)
			if err != nil {
				continue
			}
			if st.ModTime().After(cutoff) {
				keep[info.Path] = struct{}{}
			}
		}
	}

	keep[infos[len(infos)-1].Path] = struct{}{}

	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		_ = os.Remove(info.Path)
	}
	return nil
}

func (m *Manager) generateID(t time.Time) string {
	ts := t.UTC().Format("20060102150405")
	seq := 1

	entries, _ := os.ReadDir(m.cfg.Dir)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix+ts+"-") || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		seq++
	}

	return fmt.Sprintf("%s%s-%04d", filePrefix, ts, seq)
}

// FromOffer converts a lobby offer back into a save.
func FromOffer(owner domain.PeerID, offer *protocol.SaveOffer) *Save {
	if offer == nil {
		return nil
	}
	return &Save{
		MatchID:   domain.MatchID(offer.MatchID),
		PeerID:    owner,
		Frame:     offer.Frame,
		CreatedAt: time.UnixMilli(offer.CreatedAt),
		State:     offer.State,
	}
}
