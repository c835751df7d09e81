package nnbridge

import (
	"context"
	"errors"

	"github.com/obinnaokechukwu/nnbridge/transport"
)

// Device forwards messages between a and b, in each direction the sockets'
// patterns allow, until a transport call fails. Both Sockets count as
// blocking while it runs; cancelling ctx aborts it, and it then returns
// ErrTerminated.
//
// Device returns only errors: it never stops on its own.
func (l *Library) Device(ctx context.Context, a, b *Socket) error {
	const op = "device"
	if a == b {
		return &Error{Op: op, Err: transport.EINVAL}
	}
	call, err := l.begin(op, false, a, b)
	if err != nil {
		return err
	}

	var items []transport.PollItem
	var srcs, peers []*Socket
	if canRecv(a.proto) {
		items = append(items, transport.PollItem{Socket: a.ts, Events: transport.PollIn})
		srcs = append(srcs, a)
		peers = append(peers, b)
	}
	if canRecv(b.proto) {
		items = append(items, transport.PollItem{Socket: b.ts, Events: transport.PollIn})
		srcs = append(srcs, b)
		peers = append(peers, a)
	}
	if len(items) == 0 {
		l.end(op, call, nil)
		return &Error{Op: op, Err: transport.EINVAL}
	}

	l.log.Debug().
		Uint64("a", uint64(a.handle)).
		Uint64("b", uint64(b.handle)).
		Int("directions", len(items)).
		Msg("device started")

	stop := call.watch(ctx)
	err = l.guard(op, func() error {
		return l.forward(items, srcs, peers)
	})
	stop()
	l.end(op, call, err)
	l.log.Debug().Err(err).Msg("device stopped")
	return wrapErr(op, err)
}

// forward moves messages from each ready source to its peer. A message is
// received under the source's mutex and sent under the peer's, so it never
// interleaves with a send or receive issued on either Socket elsewhere. The
// two mutexes are never held together.
func (l *Library) forward(items []transport.PollItem, srcs, peers []*Socket) error {
	for {
		if _, err := l.tr.Poll(items, l.cfg.PollInterval); err != nil {
			return err
		}
		for i := range items {
			if items[i].Revents&transport.PollIn == 0 {
				continue
			}
			parts, err := srcs[i].recvMessage()
			if errors.Is(err, transport.EAGAIN) {
				continue
			}
			if err != nil {
				return err
			}
			if err := peers[i].sendMessage(parts); err != nil {
				return err
			}
		}
	}
}

// recvMessage reads every part of one queued message without waiting.
func (s *Socket) recvMessage() ([]transport.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []transport.Message
	for {
		m, err := s.ts.Recv(transport.DontWait)
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
		if !m.More {
			return parts, nil
		}
	}
}

func (s *Socket) sendMessage(parts []transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range parts {
		var flags transport.Flags
		if m.More {
			flags = transport.SendMore
		}
		if _, err := s.ts.Send(m.Body, flags); err != nil {
			return err
		}
	}
	return nil
}

func canRecv(p Protocol) bool {
	switch p {
	case transport.Push, transport.Pub:
		return false
	}
	return true
}
