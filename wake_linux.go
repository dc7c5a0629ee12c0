//go:build linux

package coro

import "golang.org/x/sys/unix"

// createWakeFD returns the same fd for both the read and write end: on
// Linux the wake mechanism backing Worker.interrupt is a single eventfd,
// writable from any thread and readable (to drain the counter) only from
// the owning poller.
func createWakeFD() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}
