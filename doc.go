// Package coro provides an M:N cooperative coroutine runtime: many
// lightweight "routines" are multiplexed over a fixed pool of OS threads
// ("workers"), with non-blocking I/O integrated through a per-worker
// readiness poller, CSP-style bounded channels, counting semaphores, and a
// select combinator that suspends a routine on a heterogeneous set of
// candidate events until exactly one of them fires.
//
// # Architecture
//
// [Run] builds an [Engine] owning N [Worker] instances and blocks until
// every worker has drained its routines and shut down. Each worker owns a
// run queue, a timer heap, a sparse table of suspended routines, and one
// I/O poller; it drives those structures through a single-threaded loop
// (see Worker.loop): drain cross-thread commands, run every ready routine
// once, compute the next timer deadline, poll for I/O with that timeout,
// wake whatever fired, repeat.
//
// Routines are modeled as goroutines bound by a strict hand-off protocol
// (see context.go) rather than raw stack switching, so that at any instant
// at most one routine's goroutine is unblocked per worker — giving the
// same run-to-completion-between-suspension-points guarantee a stackful
// coroutine would, without requiring assembly.
//
// # Synchronization
//
// [Semaphore] is the primitive underneath [Channel] and [Mutex].
// [SelectAny] lets a routine atomically register interest in a set of
// timers, FD readiness events, and semaphore acquisitions, then suspends
// until precisely one of them commits; all other subscriptions become
// inert.
//
// # Platform support
//
// I/O polling is implemented per-platform:
//   - Linux: epoll (poller_linux.go)
//   - Darwin: kqueue (poller_darwin.go)
//
// # Thread safety
//
// [Engine.Start] and [Engine.FDPanic] are safe to call from any goroutine.
// A [Semaphore] and a [Channel] are reference-counted handles safe to pass
// between routines running on different workers. A run queue, timer heap,
// and suspended-slot table are thread-local to their owning worker and are
// never touched directly from another thread; cross-worker interaction
// always goes through a worker's command queue.
package coro
