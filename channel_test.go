package coro

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannel_BufferedFIFO(t *testing.T) {
	var got []int
	err := Run(1, func(r *Routine) {
		c := NewChannel[int](3)
		require.Equal(t, 3, c.Cap())

		for i := 0; i < 3; i++ {
			require.NoError(t, c.Send(r, i))
		}
		for i := 0; i < 3; i++ {
			v, err := c.Recv(r)
			require.NoError(t, err)
			got = append(got, v)
		}
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestChannel_SendBlocksUntilRecvFreesSlot(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := Run(1, func(r *Routine) {
		c := NewChannel[int](1)
		require.NoError(t, c.Send(r, 1))

		done := make(chan struct{})
		r.Engine().Start(func(sender *Routine) {
			// the single slot is full until the recv below frees it
			require.NoError(t, c.Send(sender, 2))
			record("sent-second")
			close(done)
		})

		// The Start command is drained behind this routine, so the sender
		// reaches its Send only during the second yield.
		r.Yield()
		r.Yield()
		v, err := c.Recv(r)
		require.NoError(t, err)
		require.Equal(t, 1, v)
		record("recv-first")

		for {
			select {
			case <-done:
				v, err := c.Recv(r)
				require.NoError(t, err)
				require.Equal(t, 2, v)
				return
			default:
				r.Yield()
			}
		}
	})
	require.NoError(t, err)
	require.Equal(t, []string{"recv-first", "sent-second"}, order)
}

func TestChannel_Rendezvous(t *testing.T) {
	var received int
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := Run(1, func(r *Routine) {
		c := NewChannel[int](0)
		require.Equal(t, 0, c.Cap())

		done := make(chan struct{})
		r.Engine().Start(func(sender *Routine) {
			require.NoError(t, c.Send(sender, 42))
			record("sent")
			close(done)
		})

		r.Yield()
		v, err := c.Recv(r)
		require.NoError(t, err)
		received = v
		record("received")

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
	require.Equal(t, 42, received)
	require.Equal(t, []string{"sent", "received"}, order)
}

// TestChannel_CloseUnblocksWaiters verifies that a routine blocked on Recv
// on an empty channel observes closed once another routine closes it, and
// a subsequent Send also sees closed rather than blocking forever.
func TestChannel_CloseUnblocksWaiters(t *testing.T) {
	var recvErr, sendErr error
	done := make(chan struct{})

	err := Run(1, func(r *Routine) {
		c := NewChannel[int](1)

		r.Engine().Start(func(waiter *Routine) {
			_, recvErr = c.Recv(waiter)
			close(done)
		})

		// Two yields: the waiter reaches its Recv only during the second.
		r.Yield()
		r.Yield()
		c.Close()

		for {
			select {
			case <-done:
				sendErr = c.Send(r, 1)
				return
			default:
				r.Yield()
			}
		}
	})
	require.NoError(t, err)
	require.ErrorIs(t, recvErr, ErrClosed)
	require.ErrorIs(t, sendErr, ErrClosed)
}

func TestChannel_CloseDeliversBufferedValuesFirst(t *testing.T) {
	var got []int
	var lastErr error

	err := Run(1, func(r *Routine) {
		c := NewChannel[int](2)
		require.NoError(t, c.Send(r, 10))
		require.NoError(t, c.Send(r, 20))
		c.Close()

		for i := 0; i < 3; i++ {
			v, err := c.Recv(r)
			if err != nil {
				lastErr = err
				break
			}
			got = append(got, v)
		}
	})
	require.NoError(t, err)
	require.Equal(t, []int{10, 20}, got, "buffered values sent before Close must still be delivered")
	require.ErrorIs(t, lastErr, ErrClosed)
}
