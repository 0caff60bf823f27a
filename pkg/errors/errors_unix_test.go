//go:build !windows

package errors

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsTooManyOpenFilesErrno(t *testing.T) {
	for _, errno := range []unix.Errno{unix.EMFILE, unix.ENFILE, unix.ENOSPC} {
		err := &os.PathError{Op: "inotify_add_watch", Path: "/tmp", Err: errno}
		assert.True(t, IsTooManyOpenFiles(err), errno.Error())
	}
	assert.False(t, IsTooManyOpenFiles(unix.EINVAL))
}
