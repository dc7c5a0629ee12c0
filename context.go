package coro

// context is coro's stand-in for the register-save/restore primitive a
// stackful coroutine implementation would normally use (abstracted by the
// specification as `make_context`/`jump`). Go gives every goroutine its own
// growable stack already, so instead of switching stacks by hand, a
// routine's body runs on its own goroutine and the two sides of the
// "jump" rendezvous on a pair of unbuffered channels: the worker sends a
// resume value and blocks for the next yield value, the routine's
// goroutine does the mirror image. Because both channels are unbuffered,
// at most one side is ever runnable at a time — the same mutual-exclusion
// guarantee a real context switch gives for free.
//
// A context is built once per routine and reused across every
// suspend/resume pair for that routine's lifetime.
type context struct {
	toRoutine chan any
	toWorker  chan any
	started   bool
}

func newContext() *context {
	return &context{
		toRoutine: make(chan any),
		toWorker:  make(chan any),
	}
}

// start launches entry on its own goroutine. entry receives the initial
// resume argument and a yield function it must call at every suspension
// point; yield blocks until the worker resumes the routine again and
// returns the resume argument from that call.
func (c *context) start(entry func(initial any, yield func(any) any)) {
	c.started = true
	go func() {
		initial := <-c.toRoutine
		entry(initial, c.yield)
	}()
}

// yield is passed to entry as the routine-side half of the jump: it hands
// a value back to the worker and blocks until the worker jumps in again.
func (c *context) yield(arg any) any {
	c.toWorker <- arg
	return <-c.toRoutine
}

// resume is the worker-side half of the jump: it hands arg to the routine
// (starting it on first call) and blocks until the routine yields or
// returns.
func (c *context) resume(arg any) any {
	c.toRoutine <- arg
	return <-c.toWorker
}

// finishedSignal is sent by entry's deferred cleanup once the user function
// returns, so resume's caller can distinguish "yielded" from "done".
type finishedSignal struct {
	panicValue any
}
