package inputsync

import (
	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// queue is the input history of one peer.
type queue struct {
	peer      domain.PeerID
	local     bool
	joinFrame domain.Frame
	frozen    bool

	// confirmed holds authoritative inputs by frame.
	confirmed map[domain.Frame]domain.Input

	// lastConfirmed is the newest frame through which every input is known.
	lastConfirmed domain.Frame

	// predictions records the value handed out for frames still unconfirmed.
	predictions map[domain.Frame]domain.Input

	// firstIncorrect is the earliest frame whose recorded prediction was
	// contradicted by a confirmation.
	firstIncorrect domain.Frame

	// acked is the newest local frame this peer has confirmed receiving.
	acked domain.Frame

	// prior is the frozen history a re-joined peer had before joinFrame.
	prior *queue
}

func newQueue(peer domain.PeerID, local bool, joinFrame domain.Frame) *queue {
	return &queue{
		peer:           peer,
		local:          local,
		joinFrame:      joinFrame,
		confirmed:      make(map[domain.Frame]domain.Input),
		lastConfirmed:  joinFrame - 1,
		predictions:    make(map[domain.Frame]domain.Input),
		firstIncorrect: domain.NullFrame,
		acked:          joinFrame - 1,
	}
}

// confirm stores an input and reports whether it was new.
func (q *queue) confirm(frame domain.Frame, in domain.Input) bool {
	if frame <= q.lastConfirmed {
		return false
	}
	if _, ok := q.confirmed[frame]; ok {
		return false
	}
	q.confirmed[frame] = in.Clone()

	for {
		if _, ok := q.confirmed[q.lastConfirmed+1]; !ok {
			break
		}
		q.lastConfirmed++
	}

	if predicted, ok := q.predictions[frame]; ok {
		if !predicted.Equal(in) {
			if q.firstIncorrect.IsNull() || frame < q.firstIncorrect {
				q.firstIncorrect = frame
			}
		} else {
			delete(q.predictions, frame)
		}
	}
	return true
}

// get returns the input for frame, predicting it when unknown.
func (q *queue) get(frame domain.Frame, size int) (domain.Input, domain.InputStatus) {
	if frame < q.joinFrame {
		if q.prior != nil {
			return q.prior.get(frame, size)
		}
		return domain.NeutralInput(size), domain.InputConfirmed
	}
	if in, ok := q.confirmed[frame]; ok {
		return in.Clone(), domain.InputConfirmed
	}

	predicted := q.predict(frame, size)
	if !q.frozen {
		q.predictions[frame] = predicted.Clone()
	}
	return predicted, domain.InputPredicted
}

// predict repeats the newest confirmed input older than frame, or neutral
// input when the peer has none.
func (q *queue) predict(frame domain.Frame, size int) domain.Input {
	best := domain.NullFrame
	for f := range q.confirmed {
		if f < frame && f > best {
			best = f
		}
	}
	if best.IsNull() {
		return domain.NeutralInput(size)
	}
	return q.confirmed[best].Clone()
}

// correction returns the confirmed input for frame when it contradicts the
// recorded prediction.
func (q *queue) correction(frame domain.Frame) (domain.Input, bool) {
	predicted, ok := q.predictions[frame]
	if !ok {
		return nil, false
	}
	actual, ok := q.confirmed[frame]
	if !ok || actual.Equal(predicted) {
		return nil, false
	}
	return actual.Clone(), true
}

// resetPredictions drops prediction records at or after from.
func (q *queue) resetPredictions(from domain.Frame) {
	for f := range q.predictions {
		if f >= from {
			delete(q.predictions, f)
		}
	}
	q.firstIncorrect = domain.NullFrame
	for f, predicted := range q.predictions {
		if actual, ok := q.confirmed[f]; ok && !actual.Equal(predicted) {
			if q.firstIncorrect.IsNull() || f < q.firstIncorrect {
				q.firstIncorrect = f
			}
		}
	}
}

// discard drops history below before, keeping the input at lastConfirmed so
// predictions stay available.
func (q *queue) discard(before domain.Frame) {
	for f := range q.confirmed {
		if f < before && f != q.lastConfirmed {
			delete(q.confirmed, f)
		}
	}
	for f := range q.predictions {
		if f < before {
			delete(q.predictions, f)
		}
	}
	if q.prior != nil {
		if before >= q.joinFrame {
			q.prior = nil
		} else {
			q.prior.discard(before)
		}
	}
}
