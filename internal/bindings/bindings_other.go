//go:build !((linux || darwin || freebsd) && (amd64 || arm64))

package bindings

// Load always fails on unsupported platforms.
func Load(path string) error {
	return ErrLibraryNotFound
}

// Strerror returns "".
func Strerror(e Errno) string {
	return ""
}
