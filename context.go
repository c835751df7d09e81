package nnbridge

import (
	"context"

	"github.com/obinnaokechukwu/nnbridge/internal/registry"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

// Context is a termination domain: destroying it terminates every Socket
// created from it.
type Context struct {
	lib    *Library
	inst   *Instance
	tctx   transport.Context
	handle Handle

	// guarded by lib.mu
	socks       *registry.Registry[*Socket]
	interrupted bool
	destroying  bool
	destroyed   bool
}

func (c *Context) checkLocked() error {
	if c.tctx == nil || c.destroyed {
		return errInvalidContext
	}
	if c.lib.valid.Lookup(c.handle) != c {
		return errInvalidContext
	}
	return nil
}

// lock validates c and returns with lib.mu held, or returns an error with it
// released.
func (c *Context) lock(op string) error {
	if c == nil || c.lib == nil {
		return &Error{Op: op, Err: errInvalidContext}
	}
	l := c.lib
	if err := l.enter(op); err != nil {
		return err
	}
	l.mu.Lock()
	if err := c.checkLocked(); err != nil {
		l.mu.Unlock()
		l.log.Debug().Str("op", op).Uint64("context", uint64(c.handle)).Msg("invalid context")
		return &Error{Op: op, Err: err}
	}
	return nil
}

// Check reports whether c is a live Context.
func (c *Context) Check() error {
	const op = "context.check"
	if c == nil || c.lib == nil {
		return &Error{Op: op, Err: errInvalidContext}
	}
	if err := c.lib.enter(op); err != nil {
		return err
	}
	c.lib.mu.Lock()
	defer c.lib.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// Handle returns the Context's handle.
func (c *Context) Handle() Handle {
	return c.handle
}

// Instance returns the owning Instance.
func (c *Context) Instance() *Instance {
	return c.inst
}

// Interrupted reports whether the Context has been interrupted by a cascade
// destroy or an abort.
func (c *Context) Interrupted() bool {
	c.lib.mu.Lock()
	defer c.lib.mu.Unlock()
	return c.interrupted
}

// Sockets returns the number of live Sockets of the Context.
func (c *Context) Sockets() int {
	c.lib.mu.Lock()
	defer c.lib.mu.Unlock()
	return c.socks.Len()
}

// NewSocket creates a Socket speaking proto.
func (c *Context) NewSocket(proto Protocol) (*Socket, error) {
	const op = "socket.create"
	if err := c.lock(op); err != nil {
		return nil, err
	}
	l := c.lib
	defer l.mu.Unlock()

	if c.destroying || c.tctx.Terminated() {
		return nil, &Error{Op: op, Err: ErrTerminated}
	}
	if c.socks.Len() >= l.cfg.MaxSocketsPerContext {
		return nil, &Error{Op: op, Err: ErrTooManySockets}
	}

	var ts transport.Socket
	err := l.guard(op, func() (err error) {
		ts, err = c.tctx.Open(proto)
		return err
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	linger := transport.IntValue(transport.Millis(l.cfg.Linger))
	err = l.guard(op, func() error {
		return ts.SetOption(transport.SolSocket, transport.OptLinger, linger)
	})
	if err != nil {
		if l.faulted.Load() {
			return nil, err
		}
		l.log.Debug().Err(err).Int("fd", ts.FD()).Msg("linger not applied")
	}

	s := &Socket{lib: l, ctx: c, ts: ts, proto: proto, eid: -1}
	if c.socks.Cap() > 2*c.socks.Len()+16 {
		c.socks.Compact()
	}
	c.socks.Append(s)
	s.handle = l.valid.Register(s)
	l.log.Debug().
		Uint64("context", uint64(c.handle)).
		Uint64("socket", uint64(s.handle)).
		Int("fd", ts.FD()).
		Stringer("protocol", proto).
		Msg("socket created")
	return s, nil
}

// interruptLocked marks the Context interrupted and claims every Socket not in
// a blocking call. Sockets in a blocking call are left to the goroutine using
// them. The caller releases the claimed Sockets after dropping lib.mu.
func (c *Context) interruptLocked() []*Socket {
	c.interrupted = true
	var claimed []*Socket
	c.socks.Each(func(_ int, s *Socket) bool {
		if s.inflight == 0 {
			c.lib.claimLocked(s)
			claimed = append(claimed, s)
		}
		return true
	})
	return claimed
}

// Destroy terminates the Context and forgets it. With cascade set, the
// Context is first interrupted and its idle Sockets closed; Sockets in a
// blocking call are closed by their own goroutine once the call returns
// ErrTerminated.
//
// Destroy waits until every Socket of the Context is closed. Cancelling ctx
// while it waits aborts the wait: the Context is interrupted and its idle
// Sockets closed, which lets the termination complete.
//
// Calling Destroy with cascade set on a Context another goroutine is already
// destroying only performs the interrupt and returns.
func (c *Context) Destroy(ctx context.Context, cascade bool) error {
	const op = "context.destroy"
	if err := c.lock(op); err != nil {
		return err
	}
	l := c.lib

	if c.destroying {
		var claimed []*Socket
		if cascade {
			claimed = c.interruptLocked()
		}
		l.mu.Unlock()
		l.log.Debug().Uint64("context", uint64(c.handle)).Int("closed", len(claimed)).Msg("context interrupted")
		l.releaseAll(op, claimed)
		return nil
	}

	c.destroying = true
	var claimed []*Socket
	if cascade {
		claimed = c.interruptLocked()
	}
	call := l.newCall(c)
	l.mu.Unlock()
	l.log.Debug().Uint64("context", uint64(c.handle)).Bool("cascade", cascade).Int("closed", len(claimed)).Msg("destroying context")
	l.releaseAll(op, claimed)

	stop := call.watch(ctx)
	err := l.guard(op, c.tctx.Term)
	stop()

	l.mu.Lock()
	call.finished = true
	c.destroyed = true
	c.socks.Destroy()
	c.inst.ctxs.Remove(c)
	if !c.inst.releasing {
		c.inst.ctxs.Compact()
	}
	l.valid.Unregister(c.handle)
	l.mu.Unlock()
	l.log.Debug().Uint64("context", uint64(c.handle)).Msg("context destroyed")
	return wrapErr(op, err)
}
