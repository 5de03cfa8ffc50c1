//go:build !linux

package preload

import "os"

func adviseSequential(*os.File) {}
