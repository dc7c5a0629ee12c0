package coro

import "sync/atomic"

// routineStatus is the lifecycle state of a [Routine].
//
// Transitions:
//
//	new            -> running     first resume
//	running        -> yielding    voluntary Yield/Sleep(0); re-enqueued
//	running        -> waitEvents  commitRound suspended the routine
//	waitEvents     -> semaCandidate an event of its round (timer, FD, or a
//	                                Semaphore.Post dispatch) won the
//	                                eventHappened claim; the routine is
//	                                queued but not yet resumed
//	semaCandidate  -> running     the worker resumes it
//	running        -> finished    the routine function returned
type routineStatus uint32

const (
	routineNew routineStatus = iota
	routineRunning
	routineYielding
	routineWaitEvents
	routineSemaCandidate
	routineFinished
)

func (s routineStatus) String() string {
	switch s {
	case routineNew:
		return "new"
	case routineRunning:
		return "running"
	case routineYielding:
		return "yielding"
	case routineWaitEvents:
		return "wait_events"
	case routineSemaCandidate:
		return "sema_candidate"
	case routineFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// workerStatus is the lifecycle state of a [Worker].
type workerStatus uint32

const (
	workerAwake workerStatus = iota
	workerRunning
	workerFinishing
	workerFinished
)

func (s workerStatus) String() string {
	switch s {
	case workerAwake:
		return "awake"
	case workerRunning:
		return "running"
	case workerFinishing:
		return "finishing"
	case workerFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding, used for
// worker status. Reads and writes are pure atomics; there is no mutex and
// no transition validation on the hot path, so callers must only use
// TryTransition where a race against another thread is possible and Store
// where the transition is known to be uncontended (e.g. a worker updating
// its own status from its loop).
type fastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte
	v atomic.Uint32
	_ [sizeOfCacheLine - 4]byte
}

func newFastState(initial uint32) *fastState {
	s := &fastState{}
	s.v.Store(initial)
	return s
}

func (s *fastState) Load() uint32 {
	return s.v.Load()
}

func (s *fastState) Store(v uint32) {
	s.v.Store(v)
}

// TryTransition attempts an atomic CAS from `from` to `to`. Returns true on
// success.
func (s *fastState) TryTransition(from, to uint32) bool {
	return s.v.CompareAndSwap(from, to)
}
