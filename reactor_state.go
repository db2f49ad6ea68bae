package reactor

import "sync/atomic"

// LoopState is the Reactor's own lifecycle state, independent of any
// single Connection's ConnState. Grounded on the teacher's state.go
// FastState/LoopState: a lock-free CAS state machine avoids a mutex on
// the hot Start/tick/Stop path.
//
//	Awake (0) --Start()--> Running (3)
//	Running (3) --poll()--> Sleeping (2) --wake--> Running (3)
//	Running/Sleeping --Stop()--> Terminating (4) --shutdown done--> Awake (0)
//
// Shutdown re-arms the reactor to Awake so it can be started again;
// Reactor never enters Terminated (1).
//
// Value assignment mirrors the teacher's for the same reason it does
// there: Terminated/Sleeping are the states external callers most
// often branch on, so they get the lowest non-zero values.
type LoopState uint64

const (
	StateAwake       LoopState = 0
	StateTerminated  LoopState = 1
	StateSleeping    LoopState = 2
	StateRunning     LoopState = 3
	StateTerminating LoopState = 4
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state word; transitions use CAS.
type FastState struct {
	v atomic.Uint64
}

func (s *FastState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *FastState) Store(state LoopState) { s.v.Store(uint64(state)) }

func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *FastState) TransitionAny(validFrom []LoopState, to LoopState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *FastState) IsRunning() bool {
	st := s.Load()
	return st == StateRunning || st == StateSleeping
}
