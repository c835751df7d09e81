//go:build !((linux || darwin || freebsd) && (amd64 || arm64))

package nanomsg

import (
	"time"

	"github.com/obinnaokechukwu/nnbridge/internal/bindings"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

// DefaultInterval is the poll slice used when Open is given none.
const DefaultInterval = 50 * time.Millisecond

// Open always fails: libnanomsg is not supported on this platform.
func Open(path string, interval time.Duration) (transport.Transport, error) {
	return nil, bindings.ErrLibraryNotFound
}
