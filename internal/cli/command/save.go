package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/config"
	"github.com/yndnr/rollmesh-go/internal/core/desync"
	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/sim/arena"
	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
)

// SaveCommand returns the save subcommand group.
func SaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Inspect and prune saved games",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List saves, oldest first",
				Action: saveList,
			},
			{
				Name:      "inspect",
				Usage:     "Show one save and the players it holds",
				ArgsUsage: "SAVE_ID",
				Action:    saveInspect,
			},
			{
				Name:   "prune",
				Usage:  "Apply the retention policy",
				Action: savePrune,
			},
		},
	}
}

// Save status values.
const (
	saveOK        = "ok"
	saveLocked    = "locked"
	saveCorrupted = "corrupted"
)

type saveRow struct {
	ID        string    `json:"id" yaml:"id"`
	MatchID   string    `json:"match_id" yaml:"match_id"`
	PeerID    string    `json:"peer_id" yaml:"peer_id"`
	Frame     int32     `json:"frame" yaml:"frame"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Encrypted bool      `json:"encrypted" yaml:"encrypted"`
	Status    string    `json:"status" yaml:"status"`
	Size      int64     `json:"size" yaml:"size" table:"wide"`
	Checksum  string    `json:"checksum" yaml:"checksum" table:"wide"`
	Path      string    `json:"path" yaml:"path" table:"wide"`
}

type saveDetail struct {
	ID          string         `json:"id" yaml:"id"`
	MatchID     string         `json:"match_id" yaml:"match_id"`
	PeerID      string         `json:"peer_id" yaml:"peer_id"`
	Frame       int32          `json:"frame" yaml:"frame"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	Encrypted   bool           `json:"encrypted" yaml:"encrypted"`
	Status      string         `json:"status" yaml:"status"`
	Path        string         `json:"path" yaml:"path"`
	StateLen    int            `json:"state_len" yaml:"state_len"`
	StateDigest string         `json:"state_digest" yaml:"state_digest"`
	Players     []arena.Player `json:"players" yaml:"players" table:"-"`
}

func openSaves(c *cli.Context) (*savegame.Manager, error) {
	cfg, err := LoadPeerConfig(c)
	if err != nil {
		return nil, err
	}
	saveCfg, err := config.ToSaveConfig(cfg, config.SaveDir(cfg.Storage.DataDir))
	if err != nil {
		return nil, err
	}
	return savegame.NewManager(saveCfg)
}

// describe loads a save and reports its status instead of failing.
func describe(mgr *savegame.Manager, info *savegame.Info) (saveRow, *savegame.Save) {
	row := saveRow{ID: info.ID, Path: info.Path, Size: info.Size}
	save, full, err := mgr.LoadFile(info.Path)
	switch {
	case err == nil:
		row.MatchID = full.MatchID
		row.PeerID = full.PeerID
		row.Frame = full.Frame
		row.CreatedAt = time.UnixMilli(full.CreatedAt).UTC()
		row.Encrypted = full.Encrypted
		row.Checksum = full.Checksum
		row.Status = saveOK
		if save.State == nil {
			row.Status = saveLocked
		}
	case errors.Is(err, savegame.ErrDecryptionFailed):
		row.Encrypted = true
		row.Status = saveLocked
	default:
		row.Status = saveCorrupted
	}
	return row, save
}

func saveList(c *cli.Context) error {
	mgr, err := openSaves(c)
	if err != nil {
		return err
	}
	infos, err := mgr.List()
	if err != nil {
		return err
	}

	rows := make([]saveRow, 0, len(infos))
	for _, info := range infos {
		row, _ := describe(mgr, info)
		rows = append(rows, row)
	}
	return Render(c, rows)
}

func saveInspect(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("save inspect: SAVE_ID is required", 1)
	}
	mgr, err := openSaves(c)
	if err != nil {
		return err
	}
	infos, err := mgr.List()
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.ID != id {
			continue
		}
		row, save := describe(mgr, info)
		detail := saveDetail{
			ID:        row.ID,
			MatchID:   row.MatchID,
			PeerID:    row.PeerID,
			Frame:     row.Frame,
			CreatedAt: row.CreatedAt,
			Encrypted: row.Encrypted,
			Status:    row.Status,
			Path:      row.Path,
		}
		if save != nil && save.State != nil {
			detail.StateLen = len(save.State)
			detail.StateDigest = desync.Digest(save.State).String()
			world := arena.New(nil)
			if err := world.DeserializeState(save.State); err == nil {
				detail.Players = world.Players()
			}
		}
		if err := Render(c, detail); err != nil {
			return err
		}
		if ParseGlobalFlags(c).Output == "table" && len(detail.Players) > 0 {
			fmt.Fprintln(c.App.Writer)
			return Render(c, playerRows(detail.Players))
		}
		return nil
	}
	return domain.ErrSaveNotFound.WithDetails(id)
}

type playerRow struct {
	Player string `json:"player"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Alive  bool   `json:"alive"`
	Frags  uint16 `json:"frags"`
	Deaths uint16 `json:"deaths"`
}

func playerRows(players []arena.Player) []playerRow {
	rows := make([]playerRow, len(players))
	for i, p := range players {
		rows[i] = playerRow{
			Player: string(p.ID),
			X:      p.Pos.X / arena.Scale,
			Y:      p.Pos.Y / arena.Scale,
			Alive:  p.Alive,
			Frags:  p.Frags,
			Deaths: p.Deaths,
		}
	}
	return rows
}

func savePrune(c *cli.Context) error {
	mgr, err := openSaves(c)
	if err != nil {
		return err
	}
	before, err := mgr.List()
	if err != nil {
		return err
	}
	if err := mgr.Prune(); err != nil {
		return err
	}
	after, err := mgr.List()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Removed %d of %d saves\n", len(before)-len(after), len(before))
	return nil
}
