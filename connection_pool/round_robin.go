package connection_pool

import (
	"math"
	"runtime"

	"go.uber.org/atomic"
)

const maxSpinShift = 6

// RoundRobinCursor picks the first host of each load-balanced acquisition.
//
// The counter is incremented without a lock. When it overflows, the
// goroutine that observes math.MinInt32 resets it to zero while the others
// spin until the reset is visible. If the resetting goroutine is preempted
// for long the others keep spinning; this only happens at wraparound.
type RoundRobinCursor struct {
	current atomic.Int32
	resets  atomic.Int32
}

// NewRoundRobinCursor creates a cursor starting at start.
func NewRoundRobinCursor(start int32) *RoundRobinCursor {
	r := &RoundRobinCursor{}
	r.current.Store(start)
	return r
}

// NextIndex returns the next start index in [0, size).
func (r *RoundRobinCursor) NextIndex(size int) int {
	for {
		index := r.current.Inc()
		if index >= 0 {
			return int(index) % size
		}
		if index == math.MinInt32 {
			r.current.Store(0)
			r.resets.Inc()
			return 0
		}
		r.waitForReset()
	}
}

func (r *RoundRobinCursor) waitForReset() {
	for spins := 0; r.current.Load() < 0; spins++ {
		shift := spins
		if shift > maxSpinShift {
			shift = maxSpinShift
		}
		for i := 0; i < 1<<shift; i++ {
			if r.current.Load() >= 0 {
				return
			}
		}
		runtime.Gosched()
	}
}

// Resets returns how many times the counter wrapped around.
func (r *RoundRobinCursor) Resets() int {
	return int(r.resets.Load())
}
