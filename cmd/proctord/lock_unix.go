//go:build unix
// +build unix

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock takes an exclusive flock on path so a second proctord
// pointed at the same data dir fails fast instead of corrupting state.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		os.Remove(path)
	}, nil
}
