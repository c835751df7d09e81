package transport

import "fmt"

// Errno is a portable transport error number. The numeric value is the offset
// of the error in the host error code table (see nnbridge.ErrorCode), not a
// platform errno.
type Errno int

const (
	ENOTSUP         Errno = 1
	EPROTONOSUPPORT Errno = 2
	ENOBUFS         Errno = 3
	ENETDOWN        Errno = 4
	EADDRINUSE      Errno = 5
	EADDRNOTAVAIL   Errno = 6
	ECONNREFUSED    Errno = 7
	EINPROGRESS     Errno = 8
	ENOTSOCK        Errno = 9
	EAFNOSUPPORT    Errno = 10
	EPROTO          Errno = 11
	EAGAIN          Errno = 12
	EBADF           Errno = 13
	EINVAL          Errno = 14
	EMFILE          Errno = 15
	EFAULT          Errno = 16
	EACCES          Errno = 17
	ENETRESET       Errno = 18
	ENETUNREACH     Errno = 19
	EHOSTUNREACH    Errno = 20
	ENOTCONN        Errno = 21
	EMSGSIZE        Errno = 22
	ETIMEDOUT       Errno = 23
	ECONNABORTED    Errno = 24
	ECONNRESET      Errno = 25
	ENOPROTOOPT     Errno = 26
	EISCONN         Errno = 27
	ESOCKTNOSUPPORT Errno = 28

	EBUSY  Errno = 40
	ENODEV Errno = 41
	EINTR  Errno = 42
	ENOENT Errno = 43
	ENOMEM Errno = 44

	// ETERM reports that the socket's context was terminated.
	ETERM Errno = 53
	// EFSM reports an operation not valid in the socket's protocol state.
	EFSM Errno = 54
)

var errnoText = map[Errno]string{
	ENOTSUP:         "operation not supported",
	EPROTONOSUPPORT: "protocol not supported",
	ENOBUFS:         "no buffer space available",
	ENETDOWN:        "network is down",
	EADDRINUSE:      "address in use",
	EADDRNOTAVAIL:   "address not available",
	ECONNREFUSED:    "connection refused",
	EINPROGRESS:     "operation already in progress",
	ENOTSOCK:        "not a socket",
	EAFNOSUPPORT:    "address family not supported",
	EPROTO:          "protocol error",
	EAGAIN:          "resource temporarily unavailable",
	EBADF:           "bad file descriptor",
	EINVAL:          "invalid argument",
	EMFILE:          "too many open sockets",
	EFAULT:          "bad address",
	EACCES:          "permission denied",
	ENETRESET:       "connection aborted by network",
	ENETUNREACH:     "network unreachable",
	EHOSTUNREACH:    "host unreachable",
	ENOTCONN:        "socket not connected",
	EMSGSIZE:        "message too long",
	ETIMEDOUT:       "operation timed out",
	ECONNABORTED:    "connection aborted",
	ECONNRESET:      "connection reset",
	ENOPROTOOPT:     "protocol option not available",
	EISCONN:         "socket already connected",
	ESOCKTNOSUPPORT: "socket type not supported",
	EBUSY:           "device or resource busy",
	ENODEV:          "no such device",
	EINTR:           "interrupted call",
	ENOENT:          "no such file or directory",
	ENOMEM:          "out of memory",
	ETERM:           "context was terminated",
	EFSM:            "operation cannot be performed in this state",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("transport errno %d", int(e))
}

// Known reports whether e is one of the defined error numbers.
func (e Errno) Known() bool {
	_, ok := errnoText[e]
	return ok
}
