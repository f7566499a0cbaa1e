package domain

// FrameStatus is the outcome of one AdvanceFrame call.
type FrameStatus uint8

const (
	FrameAdvanced FrameStatus = iota + 1
	FrameStalled
)

// StallReason explains why the local frame did not advance.
type StallReason uint8

const (
	StallNone StallReason = iota
	// StallPredictionWindow means the local frame is too far ahead of the
	// confirmed frontier.
	StallPredictionWindow
	// StallSynchronizing means a peer has not finished the handshake.
	StallSynchronizing
)

// String implements fmt.Stringer.
func (r StallReason) String() string {
	switch r {
	case StallNone:
		return "none"
	case StallPredictionWindow:
		return "prediction_window"
	case StallSynchronizing:
		return "synchronizing"
	default:
		return "unknown"
	}
}

// FrameResult is returned to the host once per tick.
type FrameResult struct {
	Status FrameStatus

	// Frame is the current frame after the call.
	Frame Frame

	// ConfirmedThrough is the confirmed frontier after the call.
	ConfirmedThrough Frame

	// Reason is set when Status is FrameStalled.
	Reason StallReason

	// Resimulated counts frames replayed by rollback during the call.
	Resimulated int
}

// Advanced reports whether the local frame moved forward.
func (r FrameResult) Advanced() bool {
	return r.Status == FrameAdvanced
}

// Simulation is the deterministic game the session keeps in agreement.
//
// Step must be a pure function of the current state and inputs: no wall
// clock, no unseeded randomness, no unsynchronized external state.
type Simulation interface {
	SerializeState() ([]byte, error)
	DeserializeState(state []byte) error
	Step(ctx StepContext, inputs InputSet) error
}

// StepContext describes the step being executed.
type StepContext struct {
	Frame Frame

	// Resimulating is true while rollback replays frames. Simulations must
	// not emit sound, visuals or other effects for these steps.
	Resimulating bool
}
