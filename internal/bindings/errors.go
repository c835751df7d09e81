package bindings

import (
	"errors"
	"fmt"
)

// ErrNotLoaded is returned when nanomsg functions are called before Load().
var ErrNotLoaded = errors.New("nnbridge: nanomsg library not loaded")

// ErrLibraryNotFound is returned when libnanomsg cannot be found or is not
// supported on this platform.
var ErrLibraryNotFound = errors.New("nnbridge: nanomsg library not found")

// Hausnumero is the base nanomsg adds to error numbers the platform lacks.
const Hausnumero = 156384712

// Errno is a raw error number as reported by nn_errno.
type Errno int32

// Nanomsg-specific error numbers.
const (
	ETERM Errno = Hausnumero + 53
	EFSM  Errno = Hausnumero + 54
)

func (e Errno) Error() string {
	if msg := Strerror(e); msg != "" {
		return msg
	}
	return fmt.Sprintf("nanomsg errno %d", int32(e))
}
