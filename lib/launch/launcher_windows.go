//go:build windows

package launch

import "os"

// Windows cannot deliver a terminate signal; a cancelled child is killed.
var terminateSignal os.Signal

// Windows has no exec; in-process modes fall back to a child process.
var defaultExecve func(path string, argv, env []string) error
