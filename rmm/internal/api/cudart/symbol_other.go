//go:build !(darwin || freebsd || linux || netbsd)

package cudart

import (
	"fmt"
	"runtime"
)

func lookupSymbol(_ uintptr, name string) (uintptr, error) {
	return 0, fmt.Errorf("symbol lookup for %s is not supported on %s", name, runtime.GOOS)
}
