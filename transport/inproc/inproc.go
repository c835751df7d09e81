// Package inproc is a pure Go, in-process implementation of the transport
// contract.
//
// Addresses are arbitrary strings ("inproc://name" by convention) shared by all
// contexts of one Transport. Supported patterns are PAIR, PUSH/PULL, PUB/SUB
// and BUS. Queues are unbounded; a send only blocks while a PAIR or PUSH socket
// has no peer.
//
// All state lives under one mutex. Waiters sleep on a broadcast channel that
// is closed and replaced on every state change.
package inproc

import (
	"sync"
	"time"

	"github.com/obinnaokechukwu/nnbridge/transport"
)

// Transport is an in-process message switch.
type Transport struct {
	mu      sync.Mutex
	changed chan struct{}
	nextFD  int
	nextEID int
	bound   map[string]*endpoint
	pending map[string][]*endpoint
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{
		changed: make(chan struct{}),
		bound:   make(map[string]*endpoint),
		pending: make(map[string][]*endpoint),
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string {
	return "inproc"
}

// broadcastLocked wakes every goroutine waiting for a state change.
func (t *Transport) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// sleepLocked releases the lock until the next state change, the expiry of
// timer (nil waits forever), or termination of d. It reports whether the timer
// fired.
func (t *Transport) sleepLocked(timer <-chan time.Time, d *domain) bool {
	ch := t.changed
	t.mu.Unlock()
	defer t.mu.Lock()

	var done <-chan struct{}
	if d != nil {
		done = d.done
	}
	select {
	case <-ch:
	case <-done:
	case <-timer:
		return true
	}
	return false
}

// NewContext implements transport.Transport.
func (t *Transport) NewContext() (transport.Context, error) {
	return &domain{
		t:     t,
		done:  make(chan struct{}),
		socks: make(map[*socket]struct{}),
	}, nil
}

// Poll implements transport.Transport.
func (t *Transport) Poll(items []transport.PollItem, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	for {
		n := 0
		for i := range items {
			s, ok := items[i].Socket.(*socket)
			if !ok || s.t != t {
				return 0, transport.ENOTSOCK
			}
			if err := s.usableLocked(); err != nil {
				return 0, err
			}
			var rev transport.PollEvents
			if items[i].Events&transport.PollIn != 0 && s.canRecvLocked() {
				rev |= transport.PollIn
			}
			if items[i].Events&transport.PollOut != 0 && s.canSendLocked() {
				rev |= transport.PollOut
			}
			items[i].Revents = rev
			if rev != 0 {
				n++
			}
		}
		if n > 0 || timeout == 0 {
			return n, nil
		}
		if t.sleepLocked(timer, nil) {
			return 0, nil
		}
	}
}

// domain is the transport context: a set of sockets that terminate together.
type domain struct {
	t          *Transport
	done       chan struct{}
	terminated bool
	socks      map[*socket]struct{}
}

// Open implements transport.Context.
func (d *domain) Open(proto transport.Protocol) (transport.Socket, error) {
	switch proto {
	case transport.Pair, transport.Push, transport.Pull,
		transport.Pub, transport.Sub, transport.Bus:
	default:
		return nil, transport.EPROTONOSUPPORT
	}

	t := d.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if d.terminated {
		return nil, transport.ETERM
	}
	s := newSocket(t, d, t.nextFD, proto)
	t.nextFD++
	d.socks[s] = struct{}{}
	return s, nil
}

// Term implements transport.Context.
func (d *domain) Term() error {
	t := d.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if !d.terminated {
		d.terminated = true
		close(d.done)
		t.broadcastLocked()
	}
	for len(d.socks) > 0 {
		t.sleepLocked(nil, nil)
	}
	return nil
}

// Terminated implements transport.Context.
func (d *domain) Terminated() bool {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	return d.terminated
}

// Sockets returns the number of open sockets in the context.
func (d *domain) Sockets() int {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	return len(d.socks)
}
