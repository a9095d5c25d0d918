//go:build darwin || freebsd || linux || netbsd

package cudart

import "github.com/ebitengine/purego"

func lookupSymbol(libraryHandle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(libraryHandle, name)
}
