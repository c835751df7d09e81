package inproc

import (
	"bytes"
	"strconv"
	"time"

	"github.com/eapache/queue"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

type endpoint struct {
	id   int
	sock *socket
	addr string
	bind bool
}

// pipe is an established connection between a binder and a connector.
type pipe struct {
	binder    *endpoint
	connector *endpoint
}

func (p *pipe) peer(s *socket) *socket {
	if p.binder.sock == s {
		return p.connector.sock
	}
	return p.binder.sock
}

type socket struct {
	t     *Transport
	d     *domain
	fd    int
	proto transport.Protocol

	closed bool
	eps    []*endpoint
	pipes  []*pipe
	rr     int
	inbox  *queue.Queue
	subs   [][]byte

	// parts of an outbound message waiting for its final part
	partial []transport.Message

	linger   int
	sndBuf   int
	rcvBuf   int
	sndTimeo int
	rcvTimeo int
	name     string

	stats map[int]uint64
}

func newSocket(t *Transport, d *domain, fd int, proto transport.Protocol) *socket {
	return &socket{
		t:        t,
		d:        d,
		fd:       fd,
		proto:    proto,
		inbox:    queue.New(),
		linger:   1000,
		sndBuf:   128 * 1024,
		rcvBuf:   128 * 1024,
		sndTimeo: -1,
		rcvTimeo: -1,
		stats:    make(map[int]uint64),
	}
}

func compatible(a, b transport.Protocol) bool {
	switch a {
	case transport.Pair:
		return b == transport.Pair
	case transport.Bus:
		return b == transport.Bus
	case transport.Push:
		return b == transport.Pull
	case transport.Pull:
		return b == transport.Push
	case transport.Pub:
		return b == transport.Sub
	case transport.Sub:
		return b == transport.Pub
	}
	return false
}

// FD implements transport.Socket.
func (s *socket) FD() int {
	return s.fd
}

func (s *socket) usableLocked() error {
	if s.closed {
		return transport.EBADF
	}
	if s.d.terminated {
		return transport.ETERM
	}
	return nil
}

func (s *socket) canRecvLocked() bool {
	switch s.proto {
	case transport.Push, transport.Pub:
		return false
	}
	return s.inbox.Length() > 0
}

func (s *socket) canSendLocked() bool {
	switch s.proto {
	case transport.Pub, transport.Bus:
		return true
	case transport.Pair, transport.Push:
		return len(s.pipes) > 0
	}
	return false
}

// waitLocked blocks until ready reports true, honouring DontWait, the timeout
// in milliseconds (-1 waits forever), closure and termination.
func (s *socket) waitLocked(flags transport.Flags, timeoutMS int, ready func() bool) error {
	var timer <-chan time.Time
	if timeoutMS >= 0 && flags&transport.DontWait == 0 {
		tm := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
		defer tm.Stop()
		timer = tm.C
	}
	for {
		if err := s.usableLocked(); err != nil {
			return err
		}
		if ready() {
			return nil
		}
		if flags&transport.DontWait != 0 {
			return transport.EAGAIN
		}
		if s.t.sleepLocked(timer, s.d) {
			// one last look before giving up
			if err := s.usableLocked(); err != nil {
				return err
			}
			if ready() {
				return nil
			}
			return transport.ETIMEDOUT
		}
	}
}

// Bind implements transport.Socket.
func (s *socket) Bind(addr string) (int, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return -1, err
	}
	if addr == "" {
		return -1, transport.EINVAL
	}
	if _, ok := t.bound[addr]; ok {
		return -1, transport.EADDRINUSE
	}

	ep := &endpoint{id: t.nextEID, sock: s, addr: addr, bind: true}
	t.nextEID++
	t.bound[addr] = ep
	s.eps = append(s.eps, ep)

	var rest []*endpoint
	for _, c := range t.pending[addr] {
		if !t.linkLocked(ep, c) {
			rest = append(rest, c)
		}
	}
	t.setPendingLocked(addr, rest)
	t.broadcastLocked()
	return ep.id, nil
}

// Connect implements transport.Socket. Like nanomsg, connecting to an address
// nobody has bound yet succeeds; the connection is made once a binder appears.
func (s *socket) Connect(addr string) (int, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return -1, err
	}
	if addr == "" {
		return -1, transport.EINVAL
	}

	ep := &endpoint{id: t.nextEID, sock: s, addr: addr}
	t.nextEID++
	s.eps = append(s.eps, ep)
	if b, ok := t.bound[addr]; !ok || !t.linkLocked(b, ep) {
		t.pending[addr] = append(t.pending[addr], ep)
	}
	t.broadcastLocked()
	return ep.id, nil
}

func (t *Transport) setPendingLocked(addr string, eps []*endpoint) {
	if len(eps) == 0 {
		delete(t.pending, addr)
		return
	}
	t.pending[addr] = eps
}

func (t *Transport) linkLocked(b, c *endpoint) bool {
	bs, cs := b.sock, c.sock
	if bs == cs || !compatible(bs.proto, cs.proto) {
		return false
	}
	if (bs.proto == transport.Pair && len(bs.pipes) > 0) ||
		(cs.proto == transport.Pair && len(cs.pipes) > 0) {
		return false
	}
	p := &pipe{binder: b, connector: c}
	bs.pipes = append(bs.pipes, p)
	cs.pipes = append(cs.pipes, p)
	bs.stats[transport.StatEstablishedConnections]++
	cs.stats[transport.StatEstablishedConnections]++
	return true
}

func (t *Transport) unpipeLocked(p *pipe) {
	for _, s := range []*socket{p.binder.sock, p.connector.sock} {
		for i, q := range s.pipes {
			if q == p {
				s.pipes = append(s.pipes[:i], s.pipes[i+1:]...)
				break
			}
		}
		s.stats[transport.StatBrokenConnections]++
	}
}

// detachLocked tears down ep. Connectors that lose their binder go back to
// waiting for a new one, as a reconnecting nanomsg endpoint would.
func (t *Transport) detachLocked(ep *endpoint) {
	s := ep.sock
	if ep.bind {
		if t.bound[ep.addr] == ep {
			delete(t.bound, ep.addr)
		}
		for _, p := range append([]*pipe(nil), s.pipes...) {
			if p.binder != ep {
				continue
			}
			t.unpipeLocked(p)
			if !p.connector.sock.closed {
				t.pending[ep.addr] = append(t.pending[ep.addr], p.connector)
			}
		}
		return
	}

	var rest []*endpoint
	for _, c := range t.pending[ep.addr] {
		if c != ep {
			rest = append(rest, c)
		}
	}
	t.setPendingLocked(ep.addr, rest)
	for _, p := range append([]*pipe(nil), s.pipes...) {
		if p.connector == ep {
			t.unpipeLocked(p)
		}
	}
}

// Shutdown implements transport.Socket.
func (s *socket) Shutdown(eid int) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	for i, ep := range s.eps {
		if ep.id == eid {
			t.detachLocked(ep)
			s.eps = append(s.eps[:i], s.eps[i+1:]...)
			t.broadcastLocked()
			return nil
		}
	}
	return transport.EINVAL
}

// Close implements transport.Socket. It is the one call that still works
// after the context was terminated.
func (s *socket) Close() error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.closed {
		return transport.EBADF
	}
	for _, ep := range s.eps {
		t.detachLocked(ep)
	}
	s.eps = nil
	s.closed = true
	delete(s.d.socks, s)
	t.broadcastLocked()
	return nil
}

// Send implements transport.Socket. Parts sent with SendMore are held on the
// socket and delivered together with the final part, so a receiver never sees
// part of a message. A message whose final part never comes is dropped with
// the socket.
func (s *socket) Send(msg []byte, flags transport.Flags) (int, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s.proto {
	case transport.Pull, transport.Sub:
		return -1, transport.ENOTSUP
	}
	if err := s.usableLocked(); err != nil {
		s.partial = nil
		return -1, err
	}

	m := transport.Message{
		Body: append([]byte(nil), msg...),
		More: flags&transport.SendMore != 0,
	}
	s.stats[transport.StatBytesSent] += uint64(len(msg))
	if m.More {
		s.partial = append(s.partial, m)
		return len(msg), nil
	}
	parts := append(s.partial, m)
	s.partial = nil

	switch s.proto {
	case transport.Pub, transport.Bus:
		for _, p := range s.pipes {
			p.peer(s).deliverLocked(parts)
		}
	default:
		err := s.waitLocked(flags, s.sndTimeo, func() bool { return len(s.pipes) > 0 })
		if err != nil {
			return -1, err
		}
		var p *pipe
		if s.proto == transport.Pair {
			p = s.pipes[0]
		} else {
			p = s.pipes[s.rr%len(s.pipes)]
			s.rr++
		}
		p.peer(s).deliverLocked(parts)
	}

	s.stats[transport.StatMessagesSent]++
	t.broadcastLocked()
	return len(msg), nil
}

// deliverLocked queues every part of one message. Subscriptions match the
// first part.
func (s *socket) deliverLocked(parts []transport.Message) {
	if s.closed {
		return
	}
	if s.proto == transport.Sub && !s.subscribedLocked(parts[0].Body) {
		return
	}
	for _, m := range parts {
		s.inbox.Add(m)
	}
}

func (s *socket) subscribedLocked(body []byte) bool {
	for _, prefix := range s.subs {
		if bytes.HasPrefix(body, prefix) {
			return true
		}
	}
	return false
}

// Recv implements transport.Socket.
func (s *socket) Recv(flags transport.Flags) (transport.Message, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s.proto {
	case transport.Push, transport.Pub:
		return transport.Message{}, transport.ENOTSUP
	}
	err := s.waitLocked(flags, s.rcvTimeo, func() bool { return s.inbox.Length() > 0 })
	if err != nil {
		return transport.Message{}, err
	}
	m := s.inbox.Remove().(transport.Message)
	s.stats[transport.StatMessagesReceived]++
	s.stats[transport.StatBytesReceived] += uint64(len(m.Body))
	return m, nil
}

// SetOption implements transport.Socket.
func (s *socket) SetOption(level, option int, value []byte) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	if level == int(transport.Sub) {
		if s.proto != transport.Sub {
			return transport.ENOPROTOOPT
		}
		switch option {
		case transport.SubSubscribe:
			s.subs = append(s.subs, append([]byte(nil), value...))
			return nil
		case transport.SubUnsubscribe:
			for i, p := range s.subs {
				if bytes.Equal(p, value) {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					return nil
				}
			}
			return transport.EINVAL
		}
		return transport.ENOPROTOOPT
	}
	if level != transport.SolSocket {
		return transport.ENOPROTOOPT
	}

	var field *int
	switch option {
	case transport.OptSocketName:
		s.name = string(value)
		return nil
	case transport.OptLinger:
		field = &s.linger
	case transport.OptSndBuf:
		field = &s.sndBuf
	case transport.OptRcvBuf:
		field = &s.rcvBuf
	case transport.OptSndTimeo:
		field = &s.sndTimeo
	case transport.OptRcvTimeo:
		field = &s.rcvTimeo
	case transport.OptDomain, transport.OptProtocol, transport.OptSndFD, transport.OptRcvFD:
		return transport.EINVAL
	default:
		return transport.ENOPROTOOPT
	}
	v, err := transport.ParseInt(value)
	if err != nil {
		return err
	}
	*field = v
	return nil
}

// Option implements transport.Socket.
func (s *socket) Option(level, option int) ([]byte, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	if level != transport.SolSocket {
		return nil, transport.ENOPROTOOPT
	}
	switch option {
	case transport.OptLinger:
		return transport.IntValue(s.linger), nil
	case transport.OptSndBuf:
		return transport.IntValue(s.sndBuf), nil
	case transport.OptRcvBuf:
		return transport.IntValue(s.rcvBuf), nil
	case transport.OptSndTimeo:
		return transport.IntValue(s.sndTimeo), nil
	case transport.OptRcvTimeo:
		return transport.IntValue(s.rcvTimeo), nil
	case transport.OptDomain:
		return transport.IntValue(1), nil
	case transport.OptProtocol:
		return transport.IntValue(int(s.proto)), nil
	case transport.OptSocketName:
		if s.name == "" {
			return []byte(strconv.Itoa(s.fd)), nil
		}
		return []byte(s.name), nil
	}
	return nil, transport.ENOPROTOOPT
}

// Statistic implements transport.Socket.
func (s *socket) Statistic(stat int) (uint64, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.closed {
		return 0, transport.EBADF
	}
	switch stat {
	case transport.StatCurrentConnections:
		return uint64(len(s.pipes)), nil
	case transport.StatEstablishedConnections, transport.StatBrokenConnections,
		transport.StatMessagesSent, transport.StatMessagesReceived,
		transport.StatBytesSent, transport.StatBytesReceived:
		return s.stats[stat], nil
	}
	return 0, transport.EINVAL
}
