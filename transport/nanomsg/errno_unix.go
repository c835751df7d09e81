//go:build (linux || darwin || freebsd) && (amd64 || arm64)

package nanomsg

import (
	"errors"
	"fmt"

	"github.com/obinnaokechukwu/nnbridge/internal/bindings"
	"github.com/obinnaokechukwu/nnbridge/transport"
	"golang.org/x/sys/unix"
)

const eintr = unix.EINTR

// nanomsg reports platform errno values, plus its own above
// bindings.Hausnumero for the few the platform lacks.
var errnoMap = map[bindings.Errno]transport.Errno{
	bindings.Errno(unix.ENOTSUP):         transport.ENOTSUP,
	bindings.Errno(unix.EPROTONOSUPPORT): transport.EPROTONOSUPPORT,
	bindings.Errno(unix.ENOBUFS):         transport.ENOBUFS,
	bindings.Errno(unix.ENETDOWN):        transport.ENETDOWN,
	bindings.Errno(unix.EADDRINUSE):      transport.EADDRINUSE,
	bindings.Errno(unix.EADDRNOTAVAIL):   transport.EADDRNOTAVAIL,
	bindings.Errno(unix.ECONNREFUSED):    transport.ECONNREFUSED,
	bindings.Errno(unix.EINPROGRESS):     transport.EINPROGRESS,
	bindings.Errno(unix.ENOTSOCK):        transport.ENOTSOCK,
	bindings.Errno(unix.EAFNOSUPPORT):    transport.EAFNOSUPPORT,
	bindings.Errno(unix.EPROTO):          transport.EPROTO,
	bindings.Errno(unix.EAGAIN):          transport.EAGAIN,
	bindings.Errno(unix.EBADF):           transport.EBADF,
	bindings.Errno(unix.EINVAL):          transport.EINVAL,
	bindings.Errno(unix.EMFILE):          transport.EMFILE,
	bindings.Errno(unix.EFAULT):          transport.EFAULT,
	bindings.Errno(unix.EACCES):          transport.EACCES,
	bindings.Errno(unix.ENETRESET):       transport.ENETRESET,
	bindings.Errno(unix.ENETUNREACH):     transport.ENETUNREACH,
	bindings.Errno(unix.EHOSTUNREACH):    transport.EHOSTUNREACH,
	bindings.Errno(unix.ENOTCONN):        transport.ENOTCONN,
	bindings.Errno(unix.EMSGSIZE):        transport.EMSGSIZE,
	bindings.Errno(unix.ETIMEDOUT):       transport.ETIMEDOUT,
	bindings.Errno(unix.ECONNABORTED):    transport.ECONNABORTED,
	bindings.Errno(unix.ECONNRESET):      transport.ECONNRESET,
	bindings.Errno(unix.ENOPROTOOPT):     transport.ENOPROTOOPT,
	bindings.Errno(unix.EISCONN):         transport.EISCONN,
	bindings.Errno(unix.ESOCKTNOSUPPORT): transport.ESOCKTNOSUPPORT,
	bindings.Errno(unix.EBUSY):           transport.EBUSY,
	bindings.Errno(unix.ENODEV):          transport.ENODEV,
	bindings.Errno(unix.EINTR):           transport.EINTR,
	bindings.Errno(unix.ENOENT):          transport.ENOENT,
	bindings.Errno(unix.ENOMEM):          transport.ENOMEM,
	bindings.ETERM:                       transport.ETERM,
	bindings.EFSM:                        transport.EFSM,
}

// mapErr translates a bindings error into a transport.Errno. EFAULT means
// nanomsg was handed memory it could not use and is reported as fatal.
// Unknown numbers pass through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var raw bindings.Errno
	if !errors.As(err, &raw) {
		return err
	}
	e, ok := errnoMap[raw]
	if !ok {
		return err
	}
	if e == transport.EFAULT {
		return fmt.Errorf("%w: %w", transport.ErrFatal, e)
	}
	return e
}
