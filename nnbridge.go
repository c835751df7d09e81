// Package nnbridge manages the lifetimes of messaging contexts and sockets on
// behalf of a host program, and lets one goroutine cancel calls another
// goroutine is blocked in.
//
// Objects form a tree: a Library owns Instances, an Instance owns Contexts,
// a Context owns Sockets. Every Context and Socket is checked against the
// Library's table of live objects before any work is done on it, so a stale
// or foreign reference fails with ErrInvalidHandle instead of reaching the
// transport.
//
// Blocking calls (Recv, Send, Poll, Device, Context.Destroy) take a
// context.Context. Cancelling it aborts the call: the owning Context is
// interrupted and terminated, the blocked call returns ErrTerminated, and the
// Socket it was blocked on is closed by the goroutine that was using it.
package nnbridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/obinnaokechukwu/nnbridge/internal/handles"
	"github.com/obinnaokechukwu/nnbridge/internal/registry"
	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/rs/zerolog"
)

// version is the binding version reported by Version.
var version = semver.MustParse("1.0.0")

// Version returns the nnbridge version.
func Version() *semver.Version {
	return version
}

// Re-export common types for convenience
type (
	// Handle identifies a live Context or Socket. Handles are never reused
	// for a different object.
	Handle = handles.Handle

	// Protocol selects a socket's messaging pattern.
	Protocol = transport.Protocol

	// Flags modify a send or receive.
	Flags = transport.Flags

	// PollEvents is a bit set of readiness conditions.
	PollEvents = transport.PollEvents
)

// Re-export common constants
const (
	Pair       = transport.Pair
	Pub        = transport.Pub
	Sub        = transport.Sub
	Req        = transport.Req
	Rep        = transport.Rep
	Push       = transport.Push
	Pull       = transport.Pull
	Surveyor   = transport.Surveyor
	Respondent = transport.Respondent
	Bus        = transport.Bus

	DontWait = transport.DontWait

	PollIn  = transport.PollIn
	PollOut = transport.PollOut
)

// Library is the root of the object tree. It holds the table of live objects
// and the fault flag; several independent Libraries may coexist.
type Library struct {
	cfg Config
	tr  transport.Transport
	log zerolog.Logger

	// mu guards everything below, every Instance and Context registry, and
	// the interrupt and in-flight state of Contexts and Sockets.
	mu        sync.Mutex
	valid     *handles.Table
	instances *registry.Registry[*Instance]
	nextInst  int
	closed    bool

	faulted atomic.Bool
}

// Option configures a Library.
type Option func(*options)

type options struct {
	cfg    *Config
	tr     transport.Transport
	logger *zerolog.Logger
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = &cfg
	}
}

// WithTransport uses tr instead of opening the transport named in the Config.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) {
		o.tr = tr
	}
}

// WithLogger sets the logger for lifecycle events and faults.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// New creates a Library.
func New(opts ...Option) (*Library, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkVersion(cfg.RequireVersion); err != nil {
		return nil, err
	}

	tr := o.tr
	if tr == nil {
		var err error
		if tr, err = OpenTransport(cfg); err != nil {
			return nil, err
		}
	}

	l := &Library{
		cfg:   cfg,
		tr:    tr,
		log:   zerolog.Nop(),
		valid: handles.New(),
	}
	if o.logger != nil {
		l.log = *o.logger
	}
	l.instances = registry.New[*Instance](l)
	ev := l.log.Debug().Str("transport", tr.Name()).Str("version", version.String())
	if lp, ok := tr.(interface{ Path() string }); ok {
		ev = ev.Str("path", lp.Path())
	}
	ev.Msg("library ready")
	return l, nil
}

func checkVersion(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("nnbridge: parse require_version: %w", err)
	}
	if ok, errs := c.Validate(version); !ok {
		return fmt.Errorf("nnbridge: version %s does not satisfy %q: %w", version, constraint, errors.Join(errs...))
	}
	return nil
}

// Config returns the configuration the Library was created with.
func (l *Library) Config() Config {
	return l.cfg
}

// Transport returns the underlying transport.
func (l *Library) Transport() transport.Transport {
	return l.tr
}

// Faulted reports whether the Library has been disabled by a transport fault.
func (l *Library) Faulted() bool {
	return l.faulted.Load()
}

// Objects returns the number of live Contexts and Sockets.
func (l *Library) Objects() int {
	return l.valid.Count()
}

// Instances returns the number of Instances not yet released.
func (l *Library) Instances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instances.Len()
}

// Close releases every Instance. The Library cannot be used afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	insts := l.instances.Snapshot()
	l.mu.Unlock()

	var errs []error
	for _, inst := range insts {
		if err := inst.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	l.log.Debug().Int("instances", len(insts)).Msg("library closed")
	return errors.Join(errs...)
}

// Socket resolves a handle to a live Socket of this Library.
func (l *Library) Socket(h Handle) (*Socket, error) {
	const op = "library.socket"
	if err := l.enter(op); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.valid.Lookup(h).(*Socket)
	if !ok {
		return nil, &Error{Op: op, Err: errInvalidSocket}
	}
	return s, nil
}

// Context resolves a handle to a live Context of this Library.
func (l *Library) Context(h Handle) (*Context, error) {
	const op = "library.context"
	if err := l.enter(op); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.valid.Lookup(h).(*Context)
	if !ok {
		return nil, &Error{Op: op, Err: errInvalidContext}
	}
	return c, nil
}

// enter fails once the Library has faulted.
func (l *Library) enter(op string) error {
	if l.faulted.Load() {
		return &Error{Op: op, Err: ErrCritical}
	}
	return nil
}

// guard runs fn, a call into the transport, behind the fault boundary. A panic
// or an error wrapping transport.ErrFatal disables the Library for good.
func (l *Library) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.fault(op, fmt.Errorf("panic: %v", r))
			err = &Error{Op: op, Err: ErrCritical}
		}
	}()
	err = fn()
	if errors.Is(err, transport.ErrFatal) {
		l.fault(op, err)
		return &Error{Op: op, Err: ErrCritical}
	}
	return err
}

func (l *Library) fault(op string, err error) {
	if l.faulted.CompareAndSwap(false, true) {
		l.log.Error().Err(err).Str("op", op).Msg("transport fault, library disabled")
	}
}
