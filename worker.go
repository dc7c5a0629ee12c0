package coro

import (
	"time"

	"golang.org/x/sys/unix"
)

// Worker owns exactly one OS thread's worth of scheduling state: a run
// queue of ready routines, a timer table, a suspended-slot table, and one
// I/O poller. Everything it owns is thread-local and only ever touched
// from the worker's own loop goroutine; the only cross-thread entry point
// is its commandQueue.
type Worker struct {
	id     int
	engine *Engine
	log    Logger

	status *fastState

	runQ   runQueue
	timers *timerTable
	slots  *slotTable
	poller ioPoller

	cmds *commandQueue

	// wakeFD/wakeWriteFD back the interrupt() mechanism: any thread can
	// write a byte to wakeWriteFD to force poll() to return even though no
	// registered FD became ready.
	wakeFD      int
	wakeWriteFD int

	// fdReadSlot/fdWriteSlot implement an at-most-one-waiter-per-direction
	// policy per FD: a second subscription overwrites the previous entry;
	// the overwritten slot is no longer reachable from the FD and is never
	// fired by it.
	fdReadSlot  map[int]int
	fdWriteSlot map[int]int

	liveRoutines int
}

func newWorker(id int, e *Engine) (*Worker, error) {
	w := &Worker{
		id:          id,
		engine:      e,
		log:         e.log,
		status:      newFastState(uint32(workerAwake)),
		timers:      newTimerTable(),
		slots:       &slotTable{},
		cmds:        newCommandQueue(),
		fdReadSlot:  make(map[int]int),
		fdWriteSlot: make(map[int]int),
	}
	w.poller = newPoller()
	if err := w.poller.init(); err != nil {
		return nil, &FatalError{Message: "poller init", Cause: err}
	}
	rfd, wfd, err := createWakeFD()
	if err != nil {
		return nil, &FatalError{Message: "wake fd create", Cause: err}
	}
	w.wakeFD, w.wakeWriteFD = rfd, wfd
	if err := w.poller.registerFD(w.wakeFD, w.onWake); err != nil {
		return nil, &FatalError{Message: "wake fd register", Cause: err}
	}
	return w, nil
}

// onWake is the poller callback bound to the wake FD; it only needs to
// drain the byte(s) written by interrupt(), the wake itself just needs
// poll() to return so the worker re-checks its queues.
func (w *Worker) onWake(ioEvents) {
	var buf [8]byte
	for {
		n, err := unix.Read(w.wakeFD, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
}

// interrupt forces a blocked poll() to return. Safe from any goroutine.
func (w *Worker) interrupt() {
	var b [1]byte
	b[0] = 1
	_, _ = unix.Write(w.wakeWriteFD, b[:])
}

// pushCommand enqueues cmd for this worker and interrupts its poll loop.
// Safe from any goroutine.
func (w *Worker) pushCommand(cmd command) {
	w.cmds.push(cmd)
	w.interrupt()
}

// loop is the body of the worker's OS thread: drain commands, run every
// ready routine once, compute the next timer deadline, poll, wake whatever
// fired, repeat until finishing with nothing left to do.
func (w *Worker) loop() {
	defer func() {
		_ = w.poller.unregisterFD(w.wakeFD)
		_ = w.poller.closePoller()
		w.status.Store(uint32(workerFinished))
		w.engine.notifyWorkerDone()
	}()

	for {
		w.drainCommands()
		w.runReady()

		if w.shouldFinish() {
			return
		}

		timeout := w.nextTimeout()
		n, err := w.poller.poll(timeout)
		if err != nil && w.log != nil {
			w.log.Errorf("worker %d: poll: %v", w.id, err)
		}
		_ = n
		w.fireExpiredTimers()
	}
}

func (w *Worker) shouldFinish() bool {
	return workerStatus(w.status.Load()) == workerFinishing &&
		w.runQ.len() == 0 &&
		w.timers.isEmpty() &&
		w.liveRoutines == 0
}

// nextTimeout computes the poll() timeout in milliseconds: 0 if there is
// already ready work (so poll just drains readiness without blocking), the
// earliest timer deadline if one is set, or -1 (block indefinitely)
// otherwise.
func (w *Worker) nextTimeout() int {
	if w.runQ.len() > 0 {
		return 0
	}
	deadline, ok := w.timers.nextDeadline()
	if !ok {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(1<<31-1) {
		ms = int64(1<<31 - 1)
	}
	return int(ms)
}

// drainCommands services every command queued since the last pass, in
// FIFO order.
func (w *Worker) drainCommands() {
	for {
		cmd, ok := w.cmds.pop()
		if !ok {
			return
		}
		switch cmd.typ {
		case cmdAddRoutine:
			w.liveRoutines++
			w.runQ.pushBack(cmd.routine)
		case cmdScheduleWaitingRoutine:
			w.handleScheduleWaitingRoutine(cmd.sema, cmd.slotIndex)
		case cmdFinish:
			w.status.Store(uint32(workerFinishing))
		case cmdFDPanic:
			w.handleFDPanic(cmd.fd)
		}
	}
}

// handleScheduleWaitingRoutine promotes the routine a cross-thread
// Semaphore.post selected for wake: it attempts the eventHappened claim
// (the routine may already have been claimed locally by, e.g., a timer in
// the same select round). If the claim fails because the slot is stale,
// the ticket this dispatch represents would otherwise be lost with a
// still-waiting routine left behind it in the FIFO, so it is handed to
// the next waiter instead. wakeOneWaiter only pops and dispatches (it
// never resolves a slot inline), so this never recurses: a run of stale
// entries costs one drainCommands pass each, bounded by the FIFO's length.
func (w *Worker) handleScheduleWaitingRoutine(sema *Semaphore, slotIdx int) {
	if sema == nil {
		return
	}
	status := StatusOK
	if sema.isDisabled() {
		status = StatusClosed
	}
	if !w.eventHappened(slotIdx, status) {
		sema.wakeOneWaiter()
	}
}

// handleFDPanic synthesizes read+write readiness with a panic status for
// fd, waking any routine suspended on it. Used for orderly shutdown of
// I/O-blocked routines.
func (w *Worker) handleFDPanic(fd int) {
	if idx, ok := w.fdReadSlot[fd]; ok {
		delete(w.fdReadSlot, fd)
		w.eventHappened(idx, StatusPanic)
	}
	if idx, ok := w.fdWriteSlot[fd]; ok {
		delete(w.fdWriteSlot, fd)
		w.eventHappened(idx, StatusPanic)
	}
}

// runReady resumes every routine currently on the run queue exactly once.
// A routine re-enqueued by its own resume (e.g. a second Yield) runs again
// only on the worker's next pass, never within this one, bounding a single
// pass's work.
func (w *Worker) runReady() {
	n := w.runQ.len()
	for i := 0; i < n; i++ {
		r, ok := w.runQ.popFront()
		if !ok {
			return
		}
		w.runOne(r)
	}
}

func (w *Worker) runOne(r *Routine) {
	var arg any
	if r.round.winner != -1 {
		arg = r.round.winnerStatus
	}
	finished, panicValue := r.resume(arg)
	if finished {
		w.liveRoutines--
		if panicValue != nil && w.log != nil {
			w.log.Errorf("worker %d: routine %d panicked: %v", w.id, r.id, panicValue)
		}
		return
	}
	switch r.status {
	case routineYielding:
		w.runQ.pushBack(r)
	case routineWaitEvents:
		// ownership already transferred to slots/timers/poller/semaphore
		// waiters by commitRound; nothing further to do here.
	}
}

// installTimer registers slotIdx to fire at deadline.
func (w *Worker) installTimer(deadline time.Time, slotIdx int) {
	w.timers.add(deadline, slotIdx)
}

// installRead/installWrite register interest in FD readiness for the
// calling routine's event round, lazily registering the FD with the
// poller the first time any routine waits on it. A second subscription on
// the same FD/direction on this worker overwrites the first: only the
// most recent subscriber on a given FD/direction pair is woken.
func (w *Worker) installRead(fd int, slotIdx int) {
	w.ensureFDRegistered(fd)
	w.fdReadSlot[fd] = slotIdx
}

func (w *Worker) installWrite(fd int, slotIdx int) {
	w.ensureFDRegistered(fd)
	w.fdWriteSlot[fd] = slotIdx
}

func (w *Worker) ensureFDRegistered(fd int) {
	if _, read := w.fdReadSlot[fd]; read {
		return
	}
	if _, write := w.fdWriteSlot[fd]; write {
		return
	}
	// Registration failure on a non-pollable fd (e.g. a regular file) is
	// benign: such fds are only ever read/written synchronously by the
	// syscall wrappers, so no callback is needed.
	_ = w.poller.registerFD(fd, func(ev ioEvents) { w.dispatchIO(fd, ev) })
}

// dispatchIO is the poller callback bound to a registered FD: it looks up
// the suspended routine(s) waiting on read and/or write readiness and
// claims their event-round win.
func (w *Worker) dispatchIO(fd int, ev ioEvents) {
	status := StatusOK
	if ev&(ioEventError|ioEventHangup) != 0 {
		status = StatusSyscall
	}
	if ev&ioEventRead != 0 || status == StatusSyscall {
		if idx, ok := w.fdReadSlot[fd]; ok {
			delete(w.fdReadSlot, fd)
			w.eventHappened(idx, status)
		}
	}
	if ev&ioEventWrite != 0 || status == StatusSyscall {
		if idx, ok := w.fdWriteSlot[fd]; ok {
			delete(w.fdWriteSlot, fd)
			w.eventHappened(idx, status)
		}
	}
}

// unregisterFD drops any suspended waiter on fd with a closed status and
// unregisters it from the poller. Called when a routine closes an FD it
// owns.
func (w *Worker) unregisterFD(fd int) {
	if idx, ok := w.fdReadSlot[fd]; ok {
		delete(w.fdReadSlot, fd)
		w.eventHappened(idx, StatusClosed)
	}
	if idx, ok := w.fdWriteSlot[fd]; ok {
		delete(w.fdWriteSlot, fd)
		w.eventHappened(idx, StatusClosed)
	}
	_ = w.poller.unregisterFD(fd)
}

// installSemaWait enqueues r on sema's waiter queue from within the
// commitRound installation pass, then gives back the ticket the caller
// spuriously took in order to detect it needed to suspend, and rechecks
// whether a concurrent Post landed in the gap between that decrement and
// this enqueue. If so, it immediately dispatches a compensating pop to
// close that race window. Also compensates if sema was already disabled
// before this enqueue: Wait only rechecks disabled after suspending, so a
// routine that starts waiting on an already-closed semaphore would
// otherwise enqueue behind a Disable call that already finished draining
// the FIFO, with no future Post ever coming to wake it.
func (w *Worker) installSemaWait(sema *Semaphore, r *Routine, slotIdx int) {
	sema.enqueueWaiter(r, slotIdx)
	if sema.counter.Add(1) > 0 || sema.isDisabled() {
		sema.wakeOneWaiter()
	}
}

// fireExpiredTimers fires every timer entry whose deadline has passed,
// winning the event round for each still-active slot.
func (w *Worker) fireExpiredTimers() {
	now := time.Now()
	for _, set := range w.timers.popExpired(now) {
		for _, idx := range set.slots {
			w.eventHappened(idx, StatusTimeout)
		}
	}
}
