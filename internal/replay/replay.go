// Package replay re-runs journaled matches and checks the recorded state
// digests against a fresh simulation.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/yndnr/rollmesh-go/internal/core/desync"
	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/storage/journal"
)

// Source is the read side of a journal.
type Source interface {
	Initial(match domain.MatchID) ([]byte, error)
	Replay(ctx context.Context, match domain.MatchID, fn func(journal.Entry) error) error
}

// Factory builds a simulation for a roster in handle order.
type Factory func(roster []domain.PeerID) domain.Simulation

// Mismatch is a frame whose replayed state differs from the recording.
type Mismatch struct {
	Frame    domain.Frame  `json:"frame" yaml:"frame"`
	Recorded domain.Digest `json:"recorded" yaml:"recorded"`
	Replayed domain.Digest `json:"replayed" yaml:"replayed"`
}

// Report summarizes a verification run.
type Report struct {
	Match      domain.MatchID `json:"match_id" yaml:"match_id"`
	Frames     int            `json:"frames" yaml:"frames"`
	Last       domain.Frame   `json:"last_frame" yaml:"last_frame"`
	Checked    int            `json:"checked" yaml:"checked"`
	FromState  bool           `json:"from_state" yaml:"from_state"`
	Mismatches []Mismatch     `json:"mismatches" yaml:"mismatches"`
}

// OK reports whether every recorded digest matched.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Options tune Verify.
type Options struct {
	// OnFrame is called after each replayed frame.
	OnFrame func(domain.Frame)

	// StopOnMismatch ends the run at the first differing digest.
	StopOnMismatch bool
}

var errStop = errors.New("replay: stop")

// Verify replays a match from its initial state and compares the digest of
// every checksummed frame. The roster is taken from the first journaled
// frame.
func Verify(ctx context.Context, src Source, match domain.MatchID, newSim Factory, opts Options) (*Report, error) {
	report := &Report{Match: match, Last: domain.NullFrame, Mismatches: []Mismatch{}}

	initial, err := src.Initial(match)
	if err != nil && !errors.Is(err, domain.ErrJournalFrameNotFound) {
		return nil, err
	}

	var sim domain.Simulation
	next := domain.Frame(1)
	err = src.Replay(ctx, match, func(e journal.Entry) error {
		if e.Inputs.Frame != next {
			return domain.ErrJournalGap.WithDetails(fmt.Sprintf("expected frame %d, found %d", next, e.Inputs.Frame))
		}
		if sim == nil {
			roster := make([]domain.PeerID, len(e.Inputs.Inputs))
			for i, in := range e.Inputs.Inputs {
				roster[i] = in.Peer
			}
			sim = newSim(roster)
			if initial != nil {
				if err := sim.DeserializeState(initial); err != nil {
					return domain.ErrSimulation.WithDetails("restore initial state").WithCause(err)
				}
				report.FromState = true
			}
		}

		if err := sim.Step(domain.StepContext{Frame: e.Inputs.Frame, Resimulating: true}, e.Inputs); err != nil {
			return domain.ErrSimulation.WithDetails(fmt.Sprintf("step frame %d", e.Inputs.Frame)).WithCause(err)
		}
		report.Frames++
		report.Last = e.Inputs.Frame
		next++

		if e.Checksum != nil {
			state, err := sim.SerializeState()
			if err != nil {
				return domain.ErrSimulation.WithDetails(fmt.Sprintf("serialize frame %d", e.Inputs.Frame)).WithCause(err)
			}
			report.Checked++
			if got := desync.Digest(state); got != *e.Checksum {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Frame:    e.Inputs.Frame,
					Recorded: *e.Checksum,
					Replayed: got,
				})
				if opts.StopOnMismatch {
					return errStop
				}
			}
		}
		if opts.OnFrame != nil {
			opts.OnFrame(e.Inputs.Frame)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return report, err
	}
	return report, nil
}
