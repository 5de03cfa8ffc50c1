//go:build !windows

package launch

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var terminateSignal os.Signal = syscall.SIGTERM

var defaultExecve = unix.Exec
