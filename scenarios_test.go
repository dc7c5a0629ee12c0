package coro

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestScenario_PipePingPong exercises three routines A (this test's init
// routine), B, and C communicating over four capacity-5 channels. A sends
// 0..9 through a2b and reads acks on b2a; B forwards a2b onto b2c and
// forwards c2b back as an ack on b2a; C echoes b2c onto c2b.
func TestScenario_PipePingPong(t *testing.T) {
	const n = 10
	var (
		mu        sync.Mutex
		acksOnA   []int
		valuesOnC []int
	)

	err := Run(1, func(r *Routine) {
		a2b := NewChannel[int](5)
		b2a := NewChannel[int](5)
		b2c := NewChannel[int](5)
		c2b := NewChannel[int](5)

		r.Engine().Start(func(b *Routine) {
			for i := 0; i < n; i++ {
				v, err := a2b.Recv(b)
				require.NoError(t, err)
				require.NoError(t, b2c.Send(b, v))
				echoed, err := c2b.Recv(b)
				require.NoError(t, err)
				require.NoError(t, b2a.Send(b, echoed))
			}
		})

		r.Engine().Start(func(c *Routine) {
			for i := 0; i < n; i++ {
				v, err := b2c.Recv(c)
				require.NoError(t, err)
				mu.Lock()
				valuesOnC = append(valuesOnC, v)
				mu.Unlock()
				require.NoError(t, c2b.Send(c, v))
			}
		})

		for i := 0; i < n; i++ {
			require.NoError(t, a2b.Send(r, i))
			ack, err := b2a.Recv(r)
			require.NoError(t, err)
			mu.Lock()
			acksOnA = append(acksOnA, ack)
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i
	}
	require.Equal(t, expected, acksOnA, "A must observe 0..9 on b2a in order")
	require.Equal(t, expected, valuesOnC, "C must observe 0..9 on b2c in order")
}

// TestSelectAny_AcceptConnectOrdering verifies that a select bundling
// EventAccept and EventConnect resolves via whichever candidate's
// subscribe already succeeded synchronously, in subscription order. The
// complementary connect (the "peer" routine) completes first here so
// that by the time the select runs, a connection is already pending in
// the listen backlog and EventAccept's subscribe resolves synchronously,
// ahead of EventConnect ever being attempted.
func TestSelectAny_AcceptConnectOrdering(t *testing.T) {
	var (
		acceptStatus Status
		acceptErr    error
		connectErr   error
		acceptedFD   int
	)
	loopback := func(port int) *unix.SockaddrInet4 {
		return &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
	}

	err := Run(1, func(r *Routine) {
		ls, serr := Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		require.NoError(t, serr)
		require.NoError(t, unix.Bind(ls, loopback(0)))
		require.NoError(t, unix.Listen(ls, 2))

		sa, gerr := unix.Getsockname(ls)
		require.NoError(t, gerr)
		addr := sa.(*unix.SockaddrInet4)

		peerDone := make(chan struct{})
		r.Engine().Start(func(peer *Routine) {
			fd, serr := Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			require.NoError(t, serr)
			connectErr = Connect(peer, fd, loopback(addr.Port))
			close(peerDone)
		})

		for waiting := true; waiting; {
			select {
			case <-peerDone:
				waiting = false
			default:
				r.Yield()
			}
		}

		client, serr := Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		require.NoError(t, serr)

		result := SelectAny(r,
			EventAccept(ls, func(connFD int, status Status, err error) any {
				acceptedFD = connFD
				return ioResult{connFD, status, err}
			}),
			EventConnect(client, loopback(addr.Port), func(status Status, err error) any {
				return ioResult{-1, status, err}
			}),
		).(ioResult)
		acceptStatus = result.status
		acceptErr = result.err

		_ = Close(r, ls)
		_ = Close(r, client)
		if acceptedFD > 0 {
			_ = Close(r, acceptedFD)
		}
	})
	require.NoError(t, err)
	require.NoError(t, connectErr, "the complementary side must complete its connect")
	require.NoError(t, acceptErr)
	require.Equal(t, StatusOK, acceptStatus)
	require.Greater(t, acceptedFD, 0, "accept must win since a connection was already pending when the select ran")
}
