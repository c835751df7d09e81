//go:build (linux || darwin || freebsd) && (amd64 || arm64)

// Package nanomsg implements the transport contract on top of libnanomsg,
// loaded at run time with purego.
//
// nanomsg has a single library-wide termination (nn_term) where the contract
// needs one per context, so a context here is a group of nanomsg sockets with
// its own termination flag. Blocking calls never block inside nanomsg: they
// try without waiting and sleep in nn_poll slices between attempts, checking
// the flag and the socket's own timeouts each time round.
package nanomsg

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obinnaokechukwu/nnbridge/internal/bindings"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

// DefaultInterval is the poll slice used when Open is given none.
const DefaultInterval = 50 * time.Millisecond

// maxNameLen bounds option values read as strings.
const maxNameLen = 256

// Transport drives libnanomsg.
type Transport struct {
	interval time.Duration
}

// Open loads libnanomsg from path (or the platform search paths when path is
// empty) and returns a transport whose blocking calls wake every interval.
func Open(path string, interval time.Duration) (transport.Transport, error) {
	if err := bindings.Load(path); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Transport{interval: interval}, nil
}

// Name implements transport.Transport.
func (t *Transport) Name() string {
	return "nanomsg"
}

// Path returns the file or soname libnanomsg was loaded from.
func (t *Transport) Path() string {
	return bindings.Path()
}

// NewContext implements transport.Transport.
func (t *Transport) NewContext() (transport.Context, error) {
	g := &group{t: t, socks: make(map[*socket]struct{})}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Poll implements transport.Transport.
func (t *Transport) Poll(items []transport.PollItem, timeout time.Duration) (int, error) {
	fds := make([]bindings.PollFD, len(items))
	socks := make([]*socket, len(items))
	for i, it := range items {
		s, ok := it.Socket.(*socket)
		if !ok || s.g.t != t {
			return 0, transport.ENOTSOCK
		}
		socks[i] = s
		fds[i] = bindings.PollFD{FD: int32(s.fd), Events: int16(it.Events)}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		for _, s := range socks {
			if err := s.usable(); err != nil {
				return 0, err
			}
		}
		slice := t.slice(deadline)
		if timeout == 0 {
			slice = 0
		}
		n, err := bindings.Poll(fds, transport.Millis(slice))
		if err != nil && !errors.Is(err, bindings.Errno(eintr)) {
			return 0, mapErr(err)
		}
		if n > 0 {
			for i := range items {
				items[i].Revents = transport.PollEvents(fds[i].Revents)
			}
			return n, nil
		}
		if timeout == 0 || (!deadline.IsZero() && !time.Now().Before(deadline)) {
			for i := range items {
				items[i].Revents = 0
			}
			return 0, nil
		}
	}
}

// slice returns how long one nn_poll may wait without overshooting deadline.
func (t *Transport) slice(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return t.interval
	}
	left := time.Until(deadline)
	if left < 0 {
		return 0
	}
	if left < t.interval {
		return left
	}
	return t.interval
}

// group is the transport context.
type group struct {
	t          *Transport
	terminated atomic.Bool

	mu    sync.Mutex
	cond  *sync.Cond
	socks map[*socket]struct{}
}

// Open implements transport.Context.
func (g *group) Open(proto transport.Protocol) (transport.Socket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.terminated.Load() {
		return nil, transport.ETERM
	}
	fd, err := bindings.Socket(bindings.AFSP, int(proto))
	if err != nil {
		return nil, mapErr(err)
	}
	s := &socket{g: g, fd: fd}
	g.socks[s] = struct{}{}
	return s, nil
}

// Term implements transport.Context.
func (g *group) Term() error {
	g.terminated.Store(true)

	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.socks) > 0 {
		g.cond.Wait()
	}
	return nil
}

// Terminated implements transport.Context.
func (g *group) Terminated() bool {
	return g.terminated.Load()
}

type socket struct {
	g      *group
	fd     int
	closed atomic.Bool
}

func (s *socket) usable() error {
	if s.closed.Load() {
		return transport.EBADF
	}
	if s.g.terminated.Load() {
		return transport.ETERM
	}
	return nil
}

// FD implements transport.Socket.
func (s *socket) FD() int {
	return s.fd
}

// Close implements transport.Socket.
func (s *socket) Close() error {
	if s.closed.Swap(true) {
		return transport.EBADF
	}
	var err error
	for {
		err = bindings.Close(s.fd)
		if !errors.Is(err, bindings.Errno(eintr)) {
			break
		}
	}

	g := s.g
	g.mu.Lock()
	delete(g.socks, s)
	g.cond.Broadcast()
	g.mu.Unlock()

	if err != nil {
		return mapErr(err)
	}
	return nil
}

// Bind implements transport.Socket.
func (s *socket) Bind(addr string) (int, error) {
	if err := s.usable(); err != nil {
		return -1, err
	}
	eid, err := bindings.Bind(s.fd, addr)
	if err != nil {
		return -1, mapErr(err)
	}
	return eid, nil
}

// Connect implements transport.Socket.
func (s *socket) Connect(addr string) (int, error) {
	if err := s.usable(); err != nil {
		return -1, err
	}
	eid, err := bindings.Connect(s.fd, addr)
	if err != nil {
		return -1, mapErr(err)
	}
	return eid, nil
}

// Shutdown implements transport.Socket.
func (s *socket) Shutdown(eid int) error {
	if err := s.usable(); err != nil {
		return err
	}
	return mapErr(bindings.Shutdown(s.fd, eid))
}

// deadline returns when a blocking call governed by the timeout option opt
// gives up; zero means never.
func (s *socket) deadline(opt int) (time.Time, error) {
	b, err := bindings.GetSockopt(s.fd, transport.SolSocket, opt, 4)
	if err != nil {
		return time.Time{}, mapErr(err)
	}
	ms, err := transport.ParseInt(b)
	if err != nil || ms < 0 {
		return time.Time{}, err
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond), nil
}

// retry runs attempt until it stops reporting EAGAIN, sleeping in nn_poll
// slices for events in between.
func (s *socket) retry(flags transport.Flags, opt int, events int16, attempt func() error) error {
	var deadline time.Time
	if flags&transport.DontWait == 0 {
		var err error
		if deadline, err = s.deadline(opt); err != nil {
			return err
		}
	}
	for {
		if err := s.usable(); err != nil {
			return err
		}
		err := mapErr(attempt())
		if !errors.Is(err, transport.EAGAIN) {
			return err
		}
		if flags&transport.DontWait != 0 {
			return err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return transport.ETIMEDOUT
		}
		fds := []bindings.PollFD{{FD: int32(s.fd), Events: events}}
		_, err = bindings.Poll(fds, transport.Millis(s.g.t.slice(deadline)))
		if err != nil && !errors.Is(err, bindings.Errno(eintr)) {
			return mapErr(err)
		}
	}
}

// Send implements transport.Socket. nanomsg messages are atomic, so SendMore
// is ignored and every part travels as its own message.
func (s *socket) Send(msg []byte, flags transport.Flags) (int, error) {
	n := -1
	err := s.retry(flags, transport.OptSndTimeo, bindings.PollOut, func() error {
		var err error
		n, err = bindings.Send(s.fd, msg, bindings.DontWait)
		return err
	})
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Recv implements transport.Socket.
func (s *socket) Recv(flags transport.Flags) (transport.Message, error) {
	var body []byte
	err := s.retry(flags, transport.OptRcvTimeo, bindings.PollIn, func() error {
		var err error
		body, err = bindings.Recv(s.fd, bindings.DontWait)
		return err
	})
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Message{Body: body}, nil
}

// SetOption implements transport.Socket.
func (s *socket) SetOption(level, option int, value []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	return mapErr(bindings.SetSockopt(s.fd, level, option, value))
}

// Option implements transport.Socket.
func (s *socket) Option(level, option int) ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	size := 4
	if level == transport.SolSocket && option == transport.OptSocketName {
		size = maxNameLen
	}
	b, err := bindings.GetSockopt(s.fd, level, option, size)
	if err != nil {
		return nil, mapErr(err)
	}
	if size == maxNameLen {
		for i, c := range b {
			if c == 0 {
				b = b[:i]
				break
			}
		}
	}
	return b, nil
}

// Statistic implements transport.Socket.
func (s *socket) Statistic(stat int) (uint64, error) {
	if s.closed.Load() {
		return 0, transport.EBADF
	}
	v, err := bindings.Statistic(s.fd, stat)
	if err != nil {
		return 0, mapErr(err)
	}
	return v, nil
}
