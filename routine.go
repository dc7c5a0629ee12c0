package coro

import "time"

// Routine is a cooperatively-scheduled unit of execution: the coroutine the
// rest of this package multiplexes over workers. A routine is created by
// [Engine.Start] or [Engine.StartExplicit] and is passed to its own
// function body, which uses it as the handle for every suspending
// operation (Yield, Sleep, the syscall wrappers, and as the first argument
// to Channel/Semaphore/Select operations).
//
// A Routine is owned by exactly one of: its worker's run queue (ready), a
// semaphore's waiter queue (blocked on Wait), its worker's suspended-slot
// table (blocked on an event round), or its own goroutine (running). These
// ownership transfers are single-producer/single-consumer at every
// handoff.
type Routine struct {
	id     uint64
	worker *Worker
	ctx    *context

	status     routineStatus
	prevStatus routineStatus

	round eventRound

	panicValue any

	// yieldFn is bound once the routine's goroutine starts; it is the
	// routine-side half of the jump back to the worker.
	yieldFn func(any) any
}

// yieldMsg is what flows from a routine's goroutine back to its worker
// across context.yield/resume: either a plain suspension (the routine will
// be re-enqueued or parked depending on why it yielded) or a finishedSignal
// (the routine's function returned or panicked).
type yieldMsg struct {
	finished *finishedSignal
}

func newRoutine(id uint64, w *Worker, fn func(r *Routine)) *Routine {
	r := &Routine{
		id:     id,
		worker: w,
		ctx:    newContext(),
		status: routineNew,
	}
	r.ctx.start(func(initial any, yield func(any) any) {
		r.status = routineRunning
		defer func() {
			var pv any
			if rec := recover(); rec != nil {
				pv = rec
			}
			r.status = routineFinished
			yield(yieldMsg{finished: &finishedSignal{panicValue: pv}})
		}()
		r.yieldFn = yield
		fn(r)
	})
	return r
}

// jumpOut is the routine-goroutine-side half of the jump, calling the
// yieldFn bound once the context starts. It is only ever called from within the routine's own
// goroutine, never from the worker.
func (r *Routine) jumpOut(arg any) any {
	return r.yieldFn(arg)
}

// resume runs the routine until its next suspension point or completion.
// Called only from the owning worker's loop goroutine. Returns true if the
// routine finished (and should be destroyed by the caller).
func (r *Routine) resume(arg any) (finished bool, panicValue any) {
	out := r.ctx.resume(arg)
	if msg, ok := out.(yieldMsg); ok && msg.finished != nil {
		return true, msg.finished.panicValue
	}
	return false, nil
}

// ID returns the routine's identifier, unique across its engine.
func (r *Routine) ID() uint64 { return r.id }

// Worker returns the worker this routine is bound to. Routines never
// migrate between workers implicitly; only an explicit StartExplicit
// dispatch places a routine on a given worker.
func (r *Routine) Worker() *Worker { return r.worker }

// Engine returns the engine this routine's worker belongs to, for
// spawning further routines or issuing an FDPanic from within a running
// routine.
func (r *Routine) Engine() *Engine { return r.worker.engine }

// Yield voluntarily suspends the routine, which is immediately re-enqueued
// at the tail of its worker's run queue.
func (r *Routine) Yield() {
	r.status = routineYielding
	r.jumpOut(nil)
	r.status = routineRunning
}

// Sleep suspends the routine for at least d. Sleep(0) is equivalent to
// Yield.
func (r *Routine) Sleep(d time.Duration) {
	if d <= 0 {
		r.Yield()
		return
	}
	r.startRound()
	r.addTimer(time.Now().Add(d))
	r.commitRound()
}
