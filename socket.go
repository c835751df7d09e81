package nnbridge

import (
	"context"
	"sync"
	"time"

	"github.com/obinnaokechukwu/nnbridge/transport"
)

// Socket is one messaging endpoint owned by a Context.
//
// Calls on a Socket may come from any goroutine. Transport calls on one
// Socket are serialised; a Recv while another blocking call is running on the
// same Socket fails with ErrInProgress instead of queueing.
type Socket struct {
	lib    *Library
	ctx    *Context
	ts     transport.Socket
	proto  Protocol
	handle Handle

	// guarded by lib.mu
	inflight int
	claimed  bool

	// mu serialises transport calls and guards closed and eid. It is never
	// acquired while holding lib.mu.
	mu     sync.Mutex
	closed bool
	eid    int
}

func (s *Socket) checkLocked() error {
	if s.ts == nil || s.ts.FD() < 0 || s.claimed {
		return errInvalidSocket
	}
	if s.lib.valid.Lookup(s.handle) != s {
		return errInvalidSocket
	}
	return nil
}

// lock validates s and returns with lib.mu held, or returns an error with it
// released.
func (s *Socket) lock(op string) error {
	if s == nil || s.lib == nil {
		return &Error{Op: op, Err: errInvalidSocket}
	}
	l := s.lib
	if err := l.enter(op); err != nil {
		return err
	}
	l.mu.Lock()
	if err := s.checkLocked(); err != nil {
		l.mu.Unlock()
		l.log.Debug().Str("op", op).Uint64("socket", uint64(s.handle)).Msg("invalid socket")
		return &Error{Op: op, Err: err}
	}
	return nil
}

// withLock validates s, then runs fn under the per-socket mutex.
func (s *Socket) withLock(op string, fn func(ts transport.Socket) error) error {
	if err := s.lock(op); err != nil {
		return err
	}
	l := s.lib
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// closed between the check and here
	if s.closed {
		return &Error{Op: op, Err: errInvalidSocket}
	}
	return wrapErr(op, l.guard(op, func() error { return fn(s.ts) }))
}

// claimLocked makes s invalid so no new call can start on it and detaches it
// from its Context. The caller then closes it with releaseSocket.
func (l *Library) claimLocked(s *Socket) {
	s.claimed = true
	l.valid.Unregister(s.handle)
	s.ctx.socks.Remove(s)
}

// releaseSocket closes the transport socket of a claimed Socket.
func (l *Library) releaseSocket(op string, s *Socket, lingerZero bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return l.guard(op, func() error {
		if lingerZero {
			// fails with ETERM once the context is terminated; nothing is
			// left to linger then
			_ = s.ts.SetOption(transport.SolSocket, transport.OptLinger, transport.IntValue(0))
		}
		return s.ts.Close()
	})
}

func (l *Library) releaseAll(op string, socks []*Socket) {
	for _, s := range socks {
		if err := l.releaseSocket(op, s, true); err != nil {
			l.log.Debug().Err(err).Uint64("socket", uint64(s.handle)).Msg("close failed")
		}
	}
}

// Check reports whether s is a live Socket.
func (s *Socket) Check() error {
	const op = "socket.check"
	if s == nil || s.lib == nil {
		return &Error{Op: op, Err: errInvalidSocket}
	}
	if err := s.lib.enter(op); err != nil {
		return err
	}
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// Handle returns the Socket's handle.
func (s *Socket) Handle() Handle {
	return s.handle
}

// FD returns the transport descriptor.
func (s *Socket) FD() int {
	return s.ts.FD()
}

// Protocol returns the Socket's messaging pattern.
func (s *Socket) Protocol() Protocol {
	return s.proto
}

// Context returns the owning Context.
func (s *Socket) Context() *Context {
	return s.ctx
}

// Blocking reports whether a blocking call is running on the Socket.
func (s *Socket) Blocking() bool {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	return s.inflight > 0
}

// Close closes the Socket. With lingerZero set, pending outbound messages are
// dropped. Closing a Socket with a blocking call in progress fails with
// ErrInProgress; abort the call instead.
func (s *Socket) Close(lingerZero bool) error {
	const op = "socket.close"
	if err := s.lock(op); err != nil {
		return err
	}
	l := s.lib
	if s.inflight > 0 {
		l.mu.Unlock()
		return &Error{Op: op, Err: ErrInProgress}
	}
	l.claimLocked(s)
	l.mu.Unlock()

	l.log.Debug().Uint64("socket", uint64(s.handle)).Bool("linger_zero", lingerZero).Msg("closing socket")
	return wrapErr(op, l.releaseSocket(op, s, lingerZero))
}

// Bind adds a local endpoint and returns its id.
func (s *Socket) Bind(addr string) (int, error) {
	return s.endpoint("socket.bind", addr, true)
}

// Connect adds a remote endpoint and returns its id.
func (s *Socket) Connect(addr string) (int, error) {
	return s.endpoint("socket.connect", addr, false)
}

func (s *Socket) endpoint(op, addr string, bind bool) (int, error) {
	eid := -1
	err := s.withLock(op, func(ts transport.Socket) error {
		var err error
		if bind {
			eid, err = ts.Bind(addr)
		} else {
			eid, err = ts.Connect(addr)
		}
		if err == nil {
			s.eid = eid
		}
		return err
	})
	if err != nil {
		return -1, err
	}
	return eid, nil
}

// Endpoint returns the id of the last endpoint added, or -1.
func (s *Socket) Endpoint() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eid
}

// Shutdown removes the last endpoint added by Bind or Connect.
func (s *Socket) Shutdown() error {
	return s.withLock("socket.shutdown", func(ts transport.Socket) error {
		if s.eid < 0 {
			return transport.EINVAL
		}
		if err := ts.Shutdown(s.eid); err != nil {
			return err
		}
		s.eid = -1
		return nil
	})
}

// SetOption sets a raw socket option.
func (s *Socket) SetOption(level, option int, value []byte) error {
	return s.withLock("socket.setopt", func(ts transport.Socket) error {
		return ts.SetOption(level, option, value)
	})
}

// Option reads a raw socket option.
func (s *Socket) Option(level, option int) ([]byte, error) {
	var v []byte
	err := s.withLock("socket.getopt", func(ts transport.Socket) error {
		var err error
		v, err = ts.Option(level, option)
		return err
	})
	return v, err
}

// SetIntOption sets an integer socket option.
func (s *Socket) SetIntOption(level, option, value int) error {
	return s.SetOption(level, option, transport.IntValue(value))
}

// IntOption reads an integer socket option.
func (s *Socket) IntOption(level, option int) (int, error) {
	v, err := s.Option(level, option)
	if err != nil {
		return 0, err
	}
	n, err := transport.ParseInt(v)
	if err != nil {
		return 0, &Error{Op: "socket.getopt", Err: err}
	}
	return n, nil
}

// SetTimeouts sets the send and receive timeouts. Negative means infinite.
func (s *Socket) SetTimeouts(send, recv time.Duration) error {
	if err := s.SetIntOption(transport.SolSocket, transport.OptSndTimeo, transport.Millis(send)); err != nil {
		return err
	}
	return s.SetIntOption(transport.SolSocket, transport.OptRcvTimeo, transport.Millis(recv))
}

// Subscribe adds a topic prefix on a Sub socket.
func (s *Socket) Subscribe(prefix []byte) error {
	return s.SetOption(int(transport.Sub), transport.SubSubscribe, prefix)
}

// Unsubscribe removes a topic prefix on a Sub socket.
func (s *Socket) Unsubscribe(prefix []byte) error {
	return s.SetOption(int(transport.Sub), transport.SubUnsubscribe, prefix)
}

// Statistic reads a transport counter (transport.Stat*).
func (s *Socket) Statistic(stat int) (uint64, error) {
	var v uint64
	err := s.withLock("socket.statistic", func(ts transport.Socket) error {
		var err error
		v, err = ts.Statistic(stat)
		return err
	})
	return v, err
}

// blocking runs fn as a blocking call on s: s counts as in flight, the call
// can be aborted through ctx, and fn runs under the per-socket mutex.
func (s *Socket) blocking(ctx context.Context, op string, recv bool, fn func(ts transport.Socket) error) error {
	if s == nil || s.lib == nil {
		return &Error{Op: op, Err: errInvalidSocket}
	}
	l := s.lib
	call, err := l.begin(op, recv, s)
	if err != nil {
		return err
	}
	stop := call.watch(ctx)
	err = l.guard(op, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(s.ts)
	})
	stop()
	l.end(op, call, err)
	return wrapErr(op, err)
}

// Send sends one message. flags may include DontWait.
func (s *Socket) Send(ctx context.Context, msg []byte, flags Flags) (int, error) {
	n := -1
	err := s.blocking(ctx, "socket.send", false, func(ts transport.Socket) error {
		var err error
		n, err = ts.Send(msg, flags&^transport.SendMore)
		return err
	})
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Recv receives one message. flags may include DontWait.
func (s *Socket) Recv(ctx context.Context, flags Flags) ([]byte, error) {
	var m transport.Message
	err := s.blocking(ctx, "socket.recv", true, func(ts transport.Socket) error {
		var err error
		m, err = ts.Recv(flags)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.Body, nil
}

// SendMulti sends parts as one multi-part message.
func (s *Socket) SendMulti(ctx context.Context, parts [][]byte, flags Flags) error {
	if len(parts) == 0 {
		return &Error{Op: "socket.sendmulti", Err: transport.EINVAL}
	}
	return s.blocking(ctx, "socket.sendmulti", false, func(ts transport.Socket) error {
		for i, p := range parts {
			f := flags &^ transport.SendMore
			if i < len(parts)-1 {
				f |= transport.SendMore
			}
			if _, err := ts.Send(p, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecvMulti receives every part of one multi-part message.
func (s *Socket) RecvMulti(ctx context.Context, flags Flags) ([][]byte, error) {
	var parts [][]byte
	err := s.blocking(ctx, "socket.recvmulti", true, func(ts transport.Socket) error {
		return recvParts(ts, flags, &parts)
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func recvParts(ts transport.Socket, flags Flags, parts *[][]byte) error {
	for {
		m, err := ts.Recv(flags)
		if err != nil {
			return err
		}
		*parts = append(*parts, m.Body)
		if !m.More {
			return nil
		}
	}
}

// RecvTimeout waits up to timeout for a message and receives it. It fails
// with ErrWouldBlock if none arrived in time. A negative timeout waits
// forever.
func (s *Socket) RecvTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := s.waitReadable(ctx, "socket.recvtimeout", timeout); err != nil {
		return nil, err
	}
	return s.Recv(ctx, DontWait)
}

// RecvMultiTimeout is RecvTimeout for multi-part messages.
func (s *Socket) RecvMultiTimeout(ctx context.Context, timeout time.Duration) ([][]byte, error) {
	if err := s.waitReadable(ctx, "socket.recvmultitimeout", timeout); err != nil {
		return nil, err
	}
	return s.RecvMulti(ctx, DontWait)
}

func (s *Socket) waitReadable(ctx context.Context, op string, timeout time.Duration) error {
	if s == nil || s.lib == nil {
		return &Error{Op: op, Err: errInvalidSocket}
	}
	items := []PollItem{{Socket: s, Events: PollIn}}
	n, err := s.lib.poll(ctx, op, items, timeout)
	if err != nil {
		return err
	}
	if n == 0 {
		return &Error{Op: op, Err: ErrWouldBlock}
	}
	return nil
}
