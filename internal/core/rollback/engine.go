// Package rollback restores saved simulation state and replays frames when
// confirmed input contradicts what was predicted.
package rollback

import (
	"fmt"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// InputSource supplies the best known input set for a frame.
type InputSource interface {
	InputSet(frame domain.Frame) domain.InputSet
}

// Checkpoints is the checkpoint storage used by the engine.
type Checkpoints interface {
	Save(frame domain.Frame, state []byte, inputs domain.InputSet) error
	Load(frame domain.Frame) ([]byte, domain.InputSet, error)
}

// Engine steps the simulation and keeps a checkpoint for every frame it
// produces.
type Engine struct {
	sim         domain.Simulation
	inputs      InputSource
	checkpoints Checkpoints
	window      int
}

// New creates an engine. Rollbacks deeper than window frames are refused.
func New(sim domain.Simulation, inputs InputSource, checkpoints Checkpoints, window int) *Engine {
	return &Engine{
		sim:         sim,
		inputs:      inputs,
		checkpoints: checkpoints,
		window:      window,
	}
}

// SaveInitial checkpoints the simulation's current state as frame 0.
func (e *Engine) SaveInitial() error {
	state, err := e.sim.SerializeState()
	if err != nil {
		return domain.ErrSimulation.WithDetails("serialize frame 0").WithCause(err)
	}
	return e.checkpoints.Save(0, state, domain.InputSet{Frame: 0})
}

// Advance steps the simulation into frame with the given inputs and saves
// the result.
func (e *Engine) Advance(frame domain.Frame, inputs domain.InputSet) error {
	state, err := e.step(frame, inputs, false)
	if err != nil {
		return err
	}
	return e.checkpoints.Save(frame, state, inputs)
}

// Rollback restores the checkpoint for from-1 and replays frames from..to
// with freshly built input sets. It returns the number of frames replayed.
//
// Replayed steps run with StepContext.Resimulating set. Checkpoints are only
// overwritten once every step has succeeded.
func (e *Engine) Rollback(from, to domain.Frame) (int, error) {
	if from > to {
		return 0, nil
	}
	if from < 1 {
		return 0, domain.ErrInvalidInput.WithDetails(fmt.Sprintf("rollback from frame %d", from))
	}
	if depth := int(to - from + 1); depth > e.window {
		return 0, domain.ErrRollbackDepth.WithDetails(
			fmt.Sprintf("frames %d..%d (%d) exceed window %d", from, to, depth, e.window))
	}

	state, _, err := e.checkpoints.Load(from - 1)
	if err != nil {
		return 0, err
	}
	if err := e.sim.DeserializeState(state); err != nil {
		return 0, domain.ErrSimulation.WithDetails(fmt.Sprintf("restore frame %d", from-1)).WithCause(err)
	}

	replayed := make([]domain.Checkpoint, 0, to-from+1)
	for f := from; f <= to; f++ {
		inputs := e.inputs.InputSet(f)
		st, err := e.step(f, inputs, true)
		if err != nil {
			return 0, err
		}
		replayed = append(replayed, domain.Checkpoint{Frame: f, State: st, Inputs: inputs})
	}

	for _, cp := range replayed {
		if err := e.checkpoints.Save(cp.Frame, cp.State, cp.Inputs); err != nil {
			return 0, err
		}
	}
	return len(replayed), nil
}

func (e *Engine) step(frame domain.Frame, inputs domain.InputSet, resim bool) ([]byte, error) {
	if err := e.sim.Step(domain.StepContext{Frame: frame, Resimulating: resim}, inputs); err != nil {
		return nil, domain.ErrSimulation.WithDetails(fmt.Sprintf("step frame %d", frame)).WithCause(err)
	}
	state, err := e.sim.SerializeState()
	if err != nil {
		return nil, domain.ErrSimulation.WithDetails(fmt.Sprintf("serialize frame %d", frame)).WithCause(err)
	}
	return state, nil
}
