//go:build (linux || darwin || freebsd) && (amd64 || arm64)

// Package platform provides shared library naming for the platforms nnbridge
// can load libnanomsg on.
package platform

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Is64Bit indicates whether the platform is 64-bit.
// purego, and so the nanomsg transport, is only used on 64-bit platforms.
const Is64Bit = unsafe.Sizeof(uintptr(0)) == 8

// LibraryExtension is the file extension for shared libraries on this platform.
var LibraryExtension = ".so"

// LibraryPrefix is the prefix for shared library names on this platform.
const LibraryPrefix = "lib"

func init() {
	if runtime.GOOS == "darwin" {
		LibraryExtension = ".dylib"
	}
}

// FormatLibraryName returns the platform-specific library filename.
// If version is 0, returns the unversioned library name.
//
// Examples:
//   - Linux: FormatLibraryName("nanomsg", 5) -> "libnanomsg.so.5"
//   - macOS: FormatLibraryName("nanomsg", 5) -> "libnanomsg.5.dylib"
func FormatLibraryName(name string, version int) string {
	if version <= 0 {
		return LibraryPrefix + name + LibraryExtension
	}
	if runtime.GOOS == "darwin" {
		return fmt.Sprintf("%s%s.%d%s", LibraryPrefix, name, version, LibraryExtension)
	}
	return fmt.Sprintf("%s%s%s.%d", LibraryPrefix, name, LibraryExtension, version)
}

// CandidateNames returns the filenames to try for a library: each versioned
// name in the given order, then the unversioned one.
func CandidateNames(name string, versions []int) []string {
	names := make([]string, 0, len(versions)+1)
	for _, v := range versions {
		if v > 0 {
			names = append(names, FormatLibraryName(name, v))
		}
	}
	return append(names, FormatLibraryName(name, 0))
}
