package benchmark

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/sim/arena"
)

// PlayerCounts are the roster sizes benchmarked.
var PlayerCounts = []int{2, 4, 8}

// RollbackDepths are the replay lengths benchmarked.
var RollbackDepths = []int{1, 4, 8}

func newRoster(n int) []domain.PeerID {
	roster := make([]domain.PeerID, n)
	for i := range roster {
		roster[i] = domain.PeerID(fmt.Sprintf("peer-%02d", i))
	}
	return roster
}

// botInputs builds the confirmed input set every peer would agree on.
func botInputs(roster []domain.PeerID, f domain.Frame) domain.InputSet {
	set := domain.InputSet{Frame: f, Inputs: make([]domain.PlayerInput, len(roster))}
	for h, id := range roster {
		set.Inputs[h] = domain.PlayerInput{Peer: id, Status: domain.InputConfirmed, Bits: arena.BotInput(h, f)}
	}
	return set
}

// botSource serves bot inputs to the rollback engine.
type botSource struct {
	roster []domain.PeerID
}

func (s botSource) InputSet(f domain.Frame) domain.InputSet {
	return botInputs(s.roster, f)
}

// reportMemory reports heap usage after a collection.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

func runWithPlayerCounts(b *testing.B, benchFn func(b *testing.B, players int)) {
	for _, n := range PlayerCounts {
		b.Run(fmt.Sprintf("players_%d", n), func(b *testing.B) {
			benchFn(b, n)
		})
	}
}
