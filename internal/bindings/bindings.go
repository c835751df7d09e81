//go:build (linux || darwin || freebsd) && (amd64 || arm64)

// Package bindings loads libnanomsg and registers its functions using purego.
package bindings

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/nnbridge/internal/platform"
)

// Sonames tried, most specific first.
var libraryVersions = []int{6, 5}

// msgSize is NN_MSG: let nanomsg allocate the receive buffer.
const msgSize = ^uintptr(0)

// Socket domains.
const (
	AFSP    = 1
	AFSPRaw = 2
)

// Flags and poll events, nanomsg numbering.
const (
	DontWait = 1
	PollIn   = 1
	PollOut  = 2
)

var (
	libNanomsg uintptr
	loadedPath string

	loaded   bool
	loadOnce sync.Once
	loadErr  error
)

var (
	nnSocket       func(domain, protocol int32) int32
	nnClose        func(s int32) int32
	nnBind         func(s int32, addr string) int32
	nnConnect      func(s int32, addr string) int32
	nnShutdown     func(s, how int32) int32
	nnSend         func(s int32, buf unsafe.Pointer, n uintptr, flags int32) int32
	nnRecv         func(s int32, buf unsafe.Pointer, n uintptr, flags int32) int32
	nnFreemsg      func(msg uintptr) int32
	nnPoll         func(fds unsafe.Pointer, nfds, timeout int32) int32
	nnSetsockopt   func(s, level, option int32, val unsafe.Pointer, n uintptr) int32
	nnGetsockopt   func(s, level, option int32, val unsafe.Pointer, n unsafe.Pointer) int32
	nnErrno        func() int32
	nnStrerror     func(errnum int32) string
	nnGetStatistic func(s, stat int32) uint64
)

// Path returns the path or soname libnanomsg was loaded from.
func Path() string {
	return loadedPath
}

// Load loads libnanomsg and registers all function bindings. A non-empty path
// is opened as given; otherwise the platform search paths are tried.
// Only the first call does any work; later calls return its result.
func Load(path string) error {
	loadOnce.Do(func() {
		loadErr = doLoad(path)
		if loadErr == nil {
			loaded = true
		}
	})
	return loadErr
}

func doLoad(path string) error {
	var err error
	if path != "" {
		libNanomsg, err = tryOpen(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLibraryNotFound, path, err)
		}
		loadedPath = path
	} else {
		libNanomsg, loadedPath, err = loadLibrary("nanomsg", libraryVersions)
		if err != nil {
			return err
		}
	}

	purego.RegisterLibFunc(&nnSocket, libNanomsg, "nn_socket")
	purego.RegisterLibFunc(&nnClose, libNanomsg, "nn_close")
	purego.RegisterLibFunc(&nnBind, libNanomsg, "nn_bind")
	purego.RegisterLibFunc(&nnConnect, libNanomsg, "nn_connect")
	purego.RegisterLibFunc(&nnShutdown, libNanomsg, "nn_shutdown")
	purego.RegisterLibFunc(&nnSend, libNanomsg, "nn_send")
	purego.RegisterLibFunc(&nnRecv, libNanomsg, "nn_recv")
	purego.RegisterLibFunc(&nnFreemsg, libNanomsg, "nn_freemsg")
	purego.RegisterLibFunc(&nnPoll, libNanomsg, "nn_poll")
	purego.RegisterLibFunc(&nnSetsockopt, libNanomsg, "nn_setsockopt")
	purego.RegisterLibFunc(&nnGetsockopt, libNanomsg, "nn_getsockopt")
	purego.RegisterLibFunc(&nnErrno, libNanomsg, "nn_errno")
	purego.RegisterLibFunc(&nnStrerror, libNanomsg, "nn_strerror")
	purego.RegisterLibFunc(&nnGetStatistic, libNanomsg, "nn_get_statistic")
	return nil
}

// loadLibrary attempts to load a library by trying versioned names.
func loadLibrary(name string, versions []int) (uintptr, string, error) {
	names := platform.CandidateNames(name, versions)
	for _, searchPath := range LibrarySearchPaths() {
		for _, libName := range names {
			fullPath := filepath.Join(searchPath, libName)
			if lib, err := tryOpen(fullPath); err == nil {
				return lib, fullPath, nil
			}
		}
	}

	// Let the dynamic loader search.
	for _, libName := range names {
		if lib, err := tryOpen(libName); err == nil {
			return lib, libName, nil
		}
	}

	return 0, "", fmt.Errorf("%w: %s", ErrLibraryNotFound, name)
}

func tryOpen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

// LibrarySearchPaths returns platform-specific library search paths.
func LibrarySearchPaths() []string {
	var paths []string

	switch runtime.GOOS {
	case "linux":
		if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
			paths = append(paths, filepath.SplitList(ldPath)...)
		}
		paths = append(paths,
			"/usr/lib/x86_64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/usr/local/lib",
			"/usr/local/lib64",
			"/usr/lib",
			"/lib/x86_64-linux-gnu",
			"/lib",
		)

	case "darwin":
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			paths = append(paths, filepath.SplitList(dyldPath)...)
		}
		paths = append(paths,
			"/opt/homebrew/lib",
			"/usr/local/lib",
			"/opt/homebrew/opt/nanomsg/lib",
			"/usr/local/opt/nanomsg/lib",
		)

	case "freebsd":
		if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
			paths = append(paths, filepath.SplitList(ldPath)...)
		}
		paths = append(paths,
			"/usr/local/lib",
			"/usr/lib",
		)
	}

	return paths
}

func lastErrno() Errno {
	return Errno(nnErrno())
}

// Socket wraps nn_socket.
func Socket(domain, protocol int) (int, error) {
	if !loaded {
		return -1, ErrNotLoaded
	}
	s := nnSocket(int32(domain), int32(protocol))
	if s < 0 {
		return -1, lastErrno()
	}
	return int(s), nil
}

// Close wraps nn_close.
func Close(s int) error {
	if !loaded {
		return ErrNotLoaded
	}
	if nnClose(int32(s)) < 0 {
		return lastErrno()
	}
	return nil
}

// Bind wraps nn_bind and returns the endpoint id.
func Bind(s int, addr string) (int, error) {
	if !loaded {
		return -1, ErrNotLoaded
	}
	eid := nnBind(int32(s), addr)
	if eid < 0 {
		return -1, lastErrno()
	}
	return int(eid), nil
}

// Connect wraps nn_connect and returns the endpoint id.
func Connect(s int, addr string) (int, error) {
	if !loaded {
		return -1, ErrNotLoaded
	}
	eid := nnConnect(int32(s), addr)
	if eid < 0 {
		return -1, lastErrno()
	}
	return int(eid), nil
}

// Shutdown wraps nn_shutdown.
func Shutdown(s, eid int) error {
	if !loaded {
		return ErrNotLoaded
	}
	if nnShutdown(int32(s), int32(eid)) < 0 {
		return lastErrno()
	}
	return nil
}

// Send wraps nn_send.
func Send(s int, msg []byte, flags int) (int, error) {
	if !loaded {
		return -1, ErrNotLoaded
	}
	var zero byte
	p := unsafe.Pointer(&zero)
	if len(msg) > 0 {
		p = unsafe.Pointer(&msg[0])
	}
	n := nnSend(int32(s), p, uintptr(len(msg)), int32(flags))
	runtime.KeepAlive(msg)
	if n < 0 {
		return -1, lastErrno()
	}
	return int(n), nil
}

// Recv wraps nn_recv with a library-allocated buffer. The message is copied
// into Go memory and the nanomsg buffer freed.
func Recv(s int, flags int) ([]byte, error) {
	if !loaded {
		return nil, ErrNotLoaded
	}
	var buf uintptr
	n := nnRecv(int32(s), unsafe.Pointer(&buf), msgSize, int32(flags))
	if n < 0 {
		return nil, lastErrno()
	}
	out := make([]byte, n)
	if n > 0 {
		copy(out, unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(n)))
	}
	nnFreemsg(buf)
	return out, nil
}

// PollFD mirrors struct nn_pollfd.
type PollFD struct {
	FD      int32
	Events  int16
	Revents int16
}

// Poll wraps nn_poll. timeout is in milliseconds, -1 waits forever.
func Poll(fds []PollFD, timeout int) (int, error) {
	if !loaded {
		return -1, ErrNotLoaded
	}
	if len(fds) == 0 {
		return 0, nil
	}
	n := nnPoll(unsafe.Pointer(&fds[0]), int32(len(fds)), int32(timeout))
	runtime.KeepAlive(fds)
	if n < 0 {
		return -1, lastErrno()
	}
	return int(n), nil
}

// SetSockopt wraps nn_setsockopt.
func SetSockopt(s, level, option int, value []byte) error {
	if !loaded {
		return ErrNotLoaded
	}
	var zero byte
	p := unsafe.Pointer(&zero)
	if len(value) > 0 {
		p = unsafe.Pointer(&value[0])
	}
	rc := nnSetsockopt(int32(s), int32(level), int32(option), p, uintptr(len(value)))
	runtime.KeepAlive(value)
	if rc < 0 {
		return lastErrno()
	}
	return nil
}

// GetSockopt wraps nn_getsockopt. size bounds the value read.
func GetSockopt(s, level, option, size int) ([]byte, error) {
	if !loaded {
		return nil, ErrNotLoaded
	}
	buf := make([]byte, size)
	n := uintptr(size)
	rc := nnGetsockopt(int32(s), int32(level), int32(option), unsafe.Pointer(&buf[0]), unsafe.Pointer(&n))
	runtime.KeepAlive(buf)
	if rc < 0 {
		return nil, lastErrno()
	}
	if n < uintptr(size) {
		buf = buf[:n]
	}
	return buf, nil
}

// Statistic wraps nn_get_statistic.
func Statistic(s, stat int) (uint64, error) {
	if !loaded {
		return 0, ErrNotLoaded
	}
	v := nnGetStatistic(int32(s), int32(stat))
	if v == ^uint64(0) {
		return 0, lastErrno()
	}
	return v, nil
}

// Strerror wraps nn_strerror. It returns "" before Load.
func Strerror(e Errno) string {
	if !loaded {
		return ""
	}
	return nnStrerror(int32(e))
}
