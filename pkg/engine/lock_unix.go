//go:build !windows

// pkg/engine/lock_unix.go
package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires an exclusive, non-blocking advisory lock on f so a
// second process cannot open the same engine directory as a writer
// concurrently. Returns ErrLocked if another process already holds it.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLocked
		}
		return err
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
