//go:build darwin

package coro

import "golang.org/x/sys/unix"

// createWakeFD returns the two ends of a pipe: kqueue has no eventfd
// equivalent, so the wake mechanism is a non-blocking self-pipe instead.
func createWakeFD() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
