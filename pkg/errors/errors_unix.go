//go:build !windows

package errors

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isExhausted matches the errno values the kernel returns when no more
// descriptors or inotify watches can be allocated.
func isExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOSPC)
}

func isRace(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) || errors.Is(err, unix.EACCES)
}
