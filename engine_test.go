package coro

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_RequiresAtLeastOneWorker(t *testing.T) {
	err := Run(0, func(r *Routine) {})
	require.Error(t, err)
	var bad *BadStateError
	require.ErrorAs(t, err, &bad)
}

func TestRun_NumWorkers(t *testing.T) {
	var n int
	err := Run(3, func(r *Routine) {
		n = r.Engine().NumWorkers()
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestEngine_StartSpawnsAndRunTerminatesOnceDrained(t *testing.T) {
	var ran int
	var mu sync.Mutex
	record := func() {
		mu.Lock()
		ran++
		mu.Unlock()
	}

	err := Run(2, func(r *Routine) {
		for i := 0; i < 20; i++ {
			r.Engine().Start(func(worker *Routine) {
				record()
			})
		}
		// Run only returns once every worker has drained, spawned routines
		// included, regardless of whether this routine waits on them.
	})
	require.NoError(t, err)
	require.Equal(t, 20, ran)
}

func TestEngine_ShutdownDoesNotTruncatePendingWork(t *testing.T) {
	var done bool

	err := Run(1, func(r *Routine) {
		r.Engine().Start(func(worker *Routine) {
			worker.Sleep(5 * time.Millisecond)
			done = true
		})
		r.Engine().Shutdown() // explicit early shutdown request, redundant with Run's own
	})
	require.NoError(t, err)
	require.True(t, done, "Shutdown must not cut off a routine already spawned")
}

// TestEngine_FDPanicUnblocksReader verifies that a routine blocked reading
// an empty pipe observes StatusPanic once the engine issues an FDPanic
// for that fd.
func TestEngine_FDPanicUnblocksReader(t *testing.T) {
	var readErr error

	err := Run(1, func(r *Routine) {
		fds, perr := Pipe()
		require.NoError(t, perr)
		readFD, writeFD := fds[0], fds[1]

		done := make(chan struct{})
		r.Engine().Start(func(reader *Routine) {
			buf := make([]byte, 16)
			_, readErr = Read(reader, readFD, buf)
			close(done)
		})

		r.Yield()
		r.Engine().FDPanic(readFD)

		for {
			select {
			case <-done:
				_ = Close(r, readFD)
				_ = Close(r, writeFD)
				return
			default:
				r.Yield()
			}
		}
	})
	require.NoError(t, err)
	require.ErrorIs(t, readErr, ErrPanic)
}

func TestEngine_SetSpawnRateLimitDisablesWithEmptyMap(t *testing.T) {
	err := Run(1, func(r *Routine) {
		r.Engine().SetSpawnRateLimit(map[time.Duration]int{time.Second: 1})
		r.Engine().SetSpawnRateLimit(nil)
		// must not panic and spawning must still work normally afterwards
		done := make(chan struct{})
		r.Engine().Start(func(worker *Routine) {
			close(done)
		})
		for {
			select {
			case <-done:
				return
			default:
				r.Yield()
			}
		}
	})
	require.NoError(t, err)
}
