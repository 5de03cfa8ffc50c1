package launch

import (
	"fmt"
	"path/filepath"
)

// Layout of the installed toolchain.
const (
	CoreToolsDirName  = "Azure.Functions.Cli"
	InProc6DirName    = "in-proc6"
	InProc8DirName    = "in-proc8"
	WindowsExecutable = "func.exe"
	DefaultExecutable = "func"
)

// Target is a resolved runtime entry point.
type Target struct {
	Mode Mode
	Root string
	Path string
}

// ExecutableName returns the toolchain executable name for goos.
func ExecutableName(goos string) string {
	if goos == "windows" {
		return WindowsExecutable
	}
	return DefaultExecutable
}

// Resolve joins the toolchain root with the entry point of mode.
func Resolve(mode Mode, root, goos string) (Target, error) {
	coreTools := filepath.Join(root, CoreToolsDirName)
	exe := ExecutableName(goos)

	var path string
	switch mode {
	case ModeInProc6:
		path = filepath.Join(coreTools, InProc6DirName, exe)
	case ModeInProc8:
		path = filepath.Join(coreTools, InProc8DirName, exe)
	case ModeIsolated:
		path = filepath.Join(coreTools, exe)
	default:
		return Target{}, fmt.Errorf("no entry point for mode %s", mode)
	}

	return Target{Mode: mode, Root: root, Path: path}, nil
}
