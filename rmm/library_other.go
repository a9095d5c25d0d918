//go:build !(darwin || freebsd || linux || netbsd)

package rmm

import (
	"fmt"
	"runtime"
)

func openLibrary(name string) (uintptr, error) {
	return 0, fmt.Errorf("loading %s is not supported on %s", name, runtime.GOOS)
}

func closeLibrary(uintptr) error {
	return nil
}
