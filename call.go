package nnbridge

import (
	"context"

	"github.com/obinnaokechukwu/nnbridge/internal/registry"
)

// Call tracks one blocking operation so it can be aborted from another
// goroutine. A Call is either a wait on Sockets (receive, send, poll, device)
// or a wait for a Context to terminate.
type Call struct {
	lib *Library

	// guarded by lib.mu
	socks    *registry.Registry[*Socket]
	term     *Context
	finished bool
}

// newCall creates a Call. A non-nil term makes it a termination wait.
// The caller holds lib.mu.
func (l *Library) newCall(term *Context) *Call {
	c := &Call{lib: l, term: term}
	if term == nil {
		c.socks = registry.New[*Socket](c)
	}
	return c
}

type callHookKey struct{}

// WithCallHook returns a context that hands every Call started with it to fn
// before the call blocks. Hosts that deliver aborts through their own
// callbacks keep the Call and invoke Abort on it.
func WithCallHook(ctx context.Context, fn func(*Call)) context.Context {
	return context.WithValue(ctx, callHookKey{}, fn)
}

// watch aborts the call when ctx is cancelled. The returned function stops
// watching.
func (c *Call) watch(ctx context.Context) func() bool {
	if ctx == nil {
		return func() bool { return true }
	}
	if fn, ok := ctx.Value(callHookKey{}).(func(*Call)); ok && fn != nil {
		fn(c)
	}
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, c.Abort)
}

// Abort cancels the call. For a termination wait it interrupts the Context
// being destroyed and closes its idle Sockets. For a Socket wait it destroys,
// with cascade, the Context of every participating Socket that is still in a
// blocking call, skipping Contexts already interrupted; the blocked call then
// returns ErrTerminated. Aborting a finished call, or one whose Sockets are no
// longer blocking, does nothing.
//
// Abort returns once the Contexts it destroys are gone, which requires the
// blocked goroutine to come out of its call.
func (c *Call) Abort() {
	l := c.lib
	l.mu.Lock()
	if c.finished {
		l.mu.Unlock()
		return
	}
	if term := c.term; term != nil {
		l.mu.Unlock()
		l.log.Debug().Uint64("context", uint64(term.handle)).Msg("abort destroy")
		_ = term.Destroy(context.Background(), true)
		return
	}

	var targets []*Context
	c.socks.Each(func(_ int, s *Socket) bool {
		if s.inflight == 0 || s.claimed || s.ctx.interrupted {
			return true
		}
		for _, t := range targets {
			if t == s.ctx {
				return true
			}
		}
		targets = append(targets, s.ctx)
		return true
	})
	l.mu.Unlock()

	for _, t := range targets {
		l.log.Debug().Uint64("context", uint64(t.handle)).Msg("abort call")
		_ = t.Destroy(context.Background(), true)
	}
}

// Finished reports whether the call has returned.
func (c *Call) Finished() bool {
	c.lib.mu.Lock()
	defer c.lib.mu.Unlock()
	return c.finished
}

// begin validates socks and registers them in a new Call. With recv set, a
// Socket that is already in a blocking call fails with ErrInProgress.
func (l *Library) begin(op string, recv bool, socks ...*Socket) (*Call, error) {
	if err := l.enter(op); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkSocketsLocked(op, socks); err != nil {
		return nil, err
	}
	if recv {
		for _, s := range socks {
			if s.inflight > 0 {
				return nil, &Error{Op: op, Err: ErrInProgress}
			}
		}
	}
	call := l.newCall(nil)
	for _, s := range socks {
		s.inflight++
		call.socks.Append(s)
	}
	return call, nil
}

// end finishes a Call started by begin. If the call failed with
// ErrTerminated, every Socket whose Context was interrupted and that has no
// other blocking call left is closed here: nobody else may close a Socket a
// goroutine was blocked on.
func (l *Library) end(op string, call *Call, err error) {
	terminated := IsTerminated(err)

	l.mu.Lock()
	call.finished = true
	var claimed []*Socket
	call.socks.Each(func(_ int, s *Socket) bool {
		s.inflight--
		if terminated && s.inflight == 0 && !s.claimed && s.ctx.interrupted {
			l.claimLocked(s)
			claimed = append(claimed, s)
		}
		return true
	})
	call.socks.Destroy()
	l.mu.Unlock()

	for _, s := range claimed {
		l.log.Debug().Uint64("socket", uint64(s.handle)).Str("op", op).Msg("closing terminated socket")
	}
	l.releaseAll(op, claimed)
}

func (l *Library) checkSocketsLocked(op string, socks []*Socket) error {
	for _, s := range socks {
		if s == nil || s.lib != l {
			return &Error{Op: op, Err: errInvalidSocket}
		}
		if err := s.checkLocked(); err != nil {
			l.log.Debug().Str("op", op).Uint64("socket", uint64(s.handle)).Msg("invalid socket")
			return &Error{Op: op, Err: err}
		}
	}
	return nil
}
