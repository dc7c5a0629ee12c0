package coro

import "time"

// eventKind discriminates the candidate events a routine can bundle into
// one event round.
type eventKind uint8

const (
	eventTimer eventKind = iota
	eventIORead
	eventIOWrite
	eventSemaWait
)

// eventEntry is one candidate subscription within a routine's event round.
type eventEntry struct {
	kind     eventKind
	deadline time.Time
	fd       int
	sema     *Semaphore
	// slotIndex is the suspended-slot table index this subscription was
	// installed under once commitRound runs; -1 until then.
	slotIndex int
}

// eventRound is the state of one atomic multi-event subscribe/commit
// round for a [Routine]. At most one subscription ever wins; every other
// subscription becomes an inert drop the moment the winner invalidates the
// shared ptr.
type eventRound struct {
	events []eventEntry
	ptr    localPtr

	winner       int
	winnerStatus Status
	winnerFD     int // never assigned; FD adapters report through their callbacks
}

// startRound clears any previous round and begins accumulating a fresh one.
func (r *Routine) startRound() {
	r.round = eventRound{ptr: newLocalPtr(r), winner: -1}
}

func (r *Routine) addTimer(deadline time.Time) int {
	r.round.events = append(r.round.events, eventEntry{kind: eventTimer, deadline: deadline, slotIndex: -1})
	return len(r.round.events) - 1
}

func (r *Routine) addRead(fd int) int {
	r.round.events = append(r.round.events, eventEntry{kind: eventIORead, fd: fd, slotIndex: -1})
	return len(r.round.events) - 1
}

func (r *Routine) addWrite(fd int) int {
	r.round.events = append(r.round.events, eventEntry{kind: eventIOWrite, fd: fd, slotIndex: -1})
	return len(r.round.events) - 1
}

func (r *Routine) addSemaWait(sema *Semaphore) int {
	r.round.events = append(r.round.events, eventEntry{kind: eventSemaWait, sema: sema, slotIndex: -1})
	return len(r.round.events) - 1
}

// commitRound installs every accumulated subscription into the owning
// worker's structures (timer heap, poller, semaphore waiter queues, all
// via the suspended-slot table) and suspends the routine. It returns once
// some event has won and resumed the routine; the winner is then available
// via r.round.winner/winnerStatus.
func (r *Routine) commitRound() {
	w := r.worker
	r.prevStatus = r.status
	r.status = routineWaitEvents
	for i := range r.round.events {
		ev := &r.round.events[i]
		idx := w.slots.allocate()
		ev.slotIndex = idx
		w.slots.set(idx, r.round.ptr.Clone(), i)
		switch ev.kind {
		case eventTimer:
			w.installTimer(ev.deadline, idx)
		case eventIORead:
			w.installRead(ev.fd, idx)
		case eventIOWrite:
			w.installWrite(ev.fd, idx)
		case eventSemaWait:
			w.installSemaWait(ev.sema, r, idx)
		}
	}
	r.jumpOut(nil)
	r.status = routineRunning
}

// cancelRound is used when a candidate event's synchronous subscribe
// already succeeded (e.g. a non-blocking read returned data immediately),
// so no suspension and no installation into worker structures is needed.
func (r *Routine) cancelRound() {
	r.round = eventRound{winner: -1}
}

// eventHappened is called by the owning worker when one of a routine's
// candidate events fires. It atomically claims the win: if another event
// already fired first it returns false and does nothing further. On a
// successful claim it invalidates the round's shared ptr (so every other
// pending subscription becomes inert when it eventually fires), records
// the winner, and re-enqueues the routine on the worker's run queue.
func (w *Worker) eventHappened(idx int, status Status) bool {
	slot, ok := w.slots.get(idx)
	if !ok {
		return false
	}
	r := slot.ptr.Get()
	if r == nil {
		// Already claimed by another event in the same round, or the
		// round was cancelled/invalidated; inert drop.
		w.slots.free(idx)
		return false
	}
	if r.round.winner != -1 {
		w.slots.free(idx)
		return false
	}
	r.round.ptr.InvalidateAll()
	r.round.winner = slot.eventIndex
	r.round.winnerStatus = status
	w.slots.free(idx)
	// The routine is now a candidate to run again: it stays logically
	// suspended until the worker actually pops it off the run queue and
	// resumes it, at which point status becomes routineRunning.
	r.status = routineSemaCandidate
	w.runQ.pushBack(r)
	return true
}
