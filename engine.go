package coro

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Engine owns a fixed pool of [Worker]s and the cross-thread commands that
// coordinate them. It is built and driven by [Run]; user code reaches it
// only through the *Routine handle passed into every routine function and
// through Engine.FDPanic for orderly I/O teardown.
type Engine struct {
	log Logger

	workers []*Worker

	nextWorker    atomic.Uint64
	nextRoutineID atomic.Uint64

	// spawnLimiter bounds how often Start/StartExplicit logs are emitted as
	// informational rather than dropping or delaying spawns: a runaway
	// spawn loop (e.g. a bug accepting connections faster than routines can
	// drain them) is a diagnostics problem, not a reason to make spawning
	// itself fallible.
	spawnLimiter *catrate.Limiter

	doneMu   sync.Mutex
	doneCond *sync.Cond
	active   int
}

// Run builds an engine of n workers, submits init as the first routine on
// worker 0, requests shutdown of every worker once init returns, and
// blocks until all of them have drained every routine init spawned
// (transitively) and exited. Requesting shutdown does not truncate that
// work: a worker only actually stops once its run queue and timers are
// empty and none of its routines is still alive, so a routine is always
// free to Start further routines before returning. n must be at least 1.
func Run(n int, init func(r *Routine)) error {
	return RunWithLogger(n, nil, init)
}

// RunWithLogger is [Run] with an explicit [Logger]; a nil logger installs
// the package default (logiface over zerolog, see logging.go).
func RunWithLogger(n int, log Logger, init func(r *Routine)) error {
	if n < 1 {
		return badState("Run: n must be >= 1, got %d", n)
	}
	if log == nil {
		log = defaultLogger()
	}

	e := &Engine{log: log}
	e.doneCond = sync.NewCond(&e.doneMu)

	for i := 0; i < n; i++ {
		w, err := newWorker(i, e)
		if err != nil {
			return err
		}
		e.workers = append(e.workers, w)
	}

	e.active = n
	for _, w := range e.workers {
		w := w
		go func() {
			w.status.Store(uint32(workerRunning))
			w.loop()
		}()
	}

	e.StartExplicit(0, func(r *Routine) {
		// Every routine init started is already queued ahead of the finish
		// command on its worker.
		defer e.Shutdown()
		init(r)
	})

	e.doneMu.Lock()
	for e.active > 0 {
		e.doneCond.Wait()
	}
	e.doneMu.Unlock()
	return nil
}

func (e *Engine) notifyWorkerDone() {
	e.doneMu.Lock()
	e.active--
	if e.active == 0 {
		e.doneCond.Broadcast()
	}
	e.doneMu.Unlock()
}

// Start schedules a new routine on a worker chosen round-robin.
func (e *Engine) Start(fn func(r *Routine)) {
	idx := int(e.nextWorker.Add(1)-1) % len(e.workers)
	e.StartExplicit(idx, fn)
}

// StartExplicit schedules a new routine on the given worker id.
func (e *Engine) StartExplicit(workerID int, fn func(r *Routine)) {
	w := e.workers[workerID]
	r := newRoutine(e.nextRoutineID.Add(1), w, fn)
	if limiter := e.spawnLimiter; limiter != nil {
		if _, ok := limiter.Allow("spawn"); !ok && e.log != nil {
			e.log.Debugf("engine: spawn rate exceeded configured limit (worker %d)", workerID)
		}
	}
	w.pushCommand(command{typ: cmdAddRoutine, routine: r})
}

// SetSpawnRateLimit installs a sliding-window limiter (see
// github.com/joeycumines/go-catrate) over Start/StartExplicit: exceeding it
// never blocks or drops a spawn, it only surfaces a diagnostic through the
// engine's Logger, so runaway spawn loops are observable without changing
// scheduling semantics. A nil or empty rates map disables the limiter.
func (e *Engine) SetSpawnRateLimit(rates map[time.Duration]int) {
	if len(rates) == 0 {
		e.spawnLimiter = nil
		return
	}
	e.spawnLimiter = catrate.NewLimiter(rates)
}

// FDPanic wakes every routine blocked on fd, across every worker, with
// [StatusPanic]. Used for orderly shutdown of I/O-blocked routines when
// the caller cannot, or does not want to, route the close through the
// owning routine.
func (e *Engine) FDPanic(fd int) {
	for _, w := range e.workers {
		w.pushCommand(command{typ: cmdFDPanic, fd: fd})
	}
}

// Shutdown asks every worker to finish once its local state drains. It
// does not wait; callers observe completion through Run's return. [Run]
// already calls this once init returns, so user code only needs it to
// request an earlier shutdown than init's own return would trigger.
func (e *Engine) Shutdown() {
	for _, w := range e.workers {
		w.pushCommand(command{typ: cmdFinish})
	}
}

// NumWorkers reports how many workers the engine owns.
func (e *Engine) NumWorkers() int { return len(e.workers) }
