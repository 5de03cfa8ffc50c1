// Package launch decides which runtime variant to start and starts it.
package launch

import (
	"errors"
	"fmt"
)

// Worker runtime family identifiers, compared case-sensitively.
const (
	WorkerRuntimeDotnet         = "dotnet"
	WorkerRuntimeDotnetIsolated = "dotnet-isolated"
)

var (
	// ErrWorkerRuntimeMissing means the worker runtime family is not configured.
	// Callers treat it as "nothing to launch", not as a crash.
	ErrWorkerRuntimeMissing = errors.New("worker runtime is not set")

	ErrUnknownWorkerRuntime = errors.New("unknown worker runtime")
)

// Mode is the launch mode derived from configuration. It never changes for
// the lifetime of the process.
type Mode int

const (
	ModeNone Mode = iota
	// ModeInProc6 is the older in-process runtime.
	ModeInProc6
	// ModeInProc8 is the newer in-process runtime.
	ModeInProc8
	// ModeIsolated runs the worker out of process.
	ModeIsolated
)

func (m Mode) String() string {
	switch m {
	case ModeInProc6:
		return "in-proc6"
	case ModeInProc8:
		return "in-proc8"
	case ModeIsolated:
		return "isolated"
	default:
		return "none"
	}
}

// InProcess reports whether m loads the runtime into the current process.
func (m Mode) InProcess() bool {
	return m == ModeInProc6 || m == ModeInProc8
}

// SelectMode maps the two configuration inputs to a Mode. It is a pure function.
func SelectMode(workerRuntime string, inProc8Enabled bool) (Mode, error) {
	switch workerRuntime {
	case "":
		return ModeNone, ErrWorkerRuntimeMissing
	case WorkerRuntimeDotnet:
		if inProc8Enabled {
			return ModeInProc8, nil
		}
		return ModeInProc6, nil
	case WorkerRuntimeDotnetIsolated:
		return ModeIsolated, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrUnknownWorkerRuntime, workerRuntime)
	}
}
