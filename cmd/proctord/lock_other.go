//go:build !unix
// +build !unix

package main

import "os"

// acquireLock uses O_EXCL on platforms without flock. Stale lock files
// need manual removal after a crash.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}
