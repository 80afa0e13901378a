//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package store

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking advisory lock on f so a second writer
// fails fast instead of interleaving appends.
func lockExclusive(f *os.File) (func() error, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, f.Name())
		}
		return nil, fmt.Errorf("%w: lock %s: %w", ErrIO, f.Name(), err)
	}
	return func() error {
		return unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
