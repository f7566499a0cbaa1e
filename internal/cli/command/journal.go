package command

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/cli/output"
	"github.com/yndnr/rollmesh-go/internal/config"
	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/replay"
	"github.com/yndnr/rollmesh-go/internal/sim/arena"
	"github.com/yndnr/rollmesh-go/internal/storage/journal"
)

// ExitDesync is the exit status of a replay that found diverging frames.
const ExitDesync = 2

// JournalCommand returns the journal subcommand group.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:    "journal",
		Aliases: []string{"j"},
		Usage:   "Inspect and replay recorded matches",
		Subcommands: []*cli.Command{
			{
				Name:   "matches",
				Usage:  "List recorded matches",
				Action: journalMatches,
			},
			{
				Name:      "frames",
				Usage:     "Show the confirmed inputs of a match",
				ArgsUsage: "MATCH_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "from", Usage: "First frame to show", Value: 1},
					&cli.IntFlag{Name: "limit", Usage: "Maximum frames to show", Value: 100},
				},
				Action: journalFrames,
			},
			{
				Name:      "replay",
				Usage:     "Re-run a match and verify the recorded checksums",
				ArgsUsage: "MATCH_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "stop-on-mismatch", Usage: "Stop at the first diverging frame"},
					&cli.BoolFlag{Name: "progress", Usage: "Show a progress bar on stderr"},
				},
				Action: journalReplay,
			},
			{
				Name:      "delete",
				Usage:     "Delete a recorded match",
				ArgsUsage: "MATCH_ID",
				Action:    journalDelete,
			},
		},
	}
}

func openJournal(c *cli.Context) (*journal.Journal, error) {
	cfg, err := LoadPeerConfig(c)
	if err != nil {
		return nil, err
	}
	dir := config.JournalDir(cfg.Storage.DataDir)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("no journal at %s: %w", dir, err)
	}
	return journal.Open(journal.Config{Dir: dir})
}

func matchArg(c *cli.Context) (domain.MatchID, error) {
	id := domain.MatchID(c.Args().First())
	if id == "" {
		return "", cli.Exit(c.Command.FullName()+": MATCH_ID is required", 1)
	}
	return id, nil
}

type matchRow struct {
	MatchID string    `json:"match_id" yaml:"match_id"`
	Started time.Time `json:"started" yaml:"started"`
	First   int32     `json:"first_frame" yaml:"first_frame"`
	Last    int32     `json:"last_frame" yaml:"last_frame"`
	Frames  int       `json:"frames" yaml:"frames"`
}

func journalMatches(c *cli.Context) error {
	j, err := openJournal(c)
	if err != nil {
		return err
	}
	defer j.Close()

	ids, err := j.Matches()
	if err != nil {
		return err
	}
	rows := make([]matchRow, 0, len(ids))
	for _, id := range ids {
		r, err := j.Frames(id)
		if err != nil {
			return err
		}
		row := matchRow{MatchID: string(id), First: int32(r.First), Last: int32(r.Last), Frames: r.Count}
		if t, ok := id.Time(); ok {
			row.Started = t.UTC()
		}
		rows = append(rows, row)
	}
	return Render(c, rows)
}

type frameRow struct {
	Frame    int32  `json:"frame" yaml:"frame"`
	Inputs   string `json:"inputs" yaml:"inputs"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// formatInputs renders "peer=hex" pairs in handle order.
func formatInputs(set domain.InputSet) string {
	parts := make([]string, len(set.Inputs))
	for i, in := range set.Inputs {
		parts[i] = string(in.Peer) + "=" + hex.EncodeToString(in.Bits)
	}
	return strings.Join(parts, " ")
}

func journalFrames(c *cli.Context) error {
	id, err := matchArg(c)
	if err != nil {
		return err
	}
	j, err := openJournal(c)
	if err != nil {
		return err
	}
	defer j.Close()

	from := domain.Frame(c.Int("from"))
	limit := c.Int("limit")
	rows := []frameRow{}
	err = j.Replay(c.Context, id, func(e journal.Entry) error {
		if e.Inputs.Frame < from {
			return nil
		}
		if limit > 0 && len(rows) >= limit {
			return errLimit
		}
		row := frameRow{Frame: int32(e.Inputs.Frame), Inputs: formatInputs(e.Inputs)}
		if e.Checksum != nil {
			row.Checksum = e.Checksum.String()
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return err
	}
	return Render(c, rows)
}

var errLimit = errors.New("limit reached")

func journalReplay(c *cli.Context) error {
	id, err := matchArg(c)
	if err != nil {
		return err
	}
	j, err := openJournal(c)
	if err != nil {
		return err
	}
	defer j.Close()

	opts := replay.Options{StopOnMismatch: c.Bool("stop-on-mismatch")}
	var bar *output.ProgressBar
	if c.Bool("progress") {
		r, err := j.Frames(id)
		if err != nil {
			return err
		}
		bar = output.NewProgressBar(c.App.ErrWriter, "replay", "frames", int64(r.Count))
		opts.OnFrame = func(domain.Frame) { bar.Increment(1) }
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := replay.Verify(ctx, j, id, func(roster []domain.PeerID) domain.Simulation {
		return arena.New(roster)
	}, opts)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	if err := Render(c, report); err != nil {
		return err
	}
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("replay diverged at %d of %d checked frames", len(report.Mismatches), report.Checked), ExitDesync)
	}
	return nil
}

func journalDelete(c *cli.Context) error {
	id, err := matchArg(c)
	if err != nil {
		return err
	}
	j, err := openJournal(c)
	if err != nil {
		return err
	}
	defer j.Close()

	n, err := j.Delete(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted match %s (%d records)\n", id, n)
	return nil
}
