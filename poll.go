package nnbridge

import (
	"context"
	"time"

	"github.com/obinnaokechukwu/nnbridge/transport"
)

// PollItem is one Socket in a Poll call.
type PollItem struct {
	Socket  *Socket
	Events  PollEvents
	Revents PollEvents
}

// Poll waits until at least one item is ready or timeout elapses, and returns
// the number of ready items. A negative timeout waits forever; zero only
// checks readiness. Sockets in a waiting poll count as blocking, and
// cancelling ctx aborts the poll.
func (l *Library) Poll(ctx context.Context, items []PollItem, timeout time.Duration) (int, error) {
	return l.poll(ctx, "poll", items, timeout)
}

func (l *Library) poll(ctx context.Context, op string, items []PollItem, timeout time.Duration) (int, error) {
	if len(items) == 0 {
		return 0, &Error{Op: op, Err: transport.EINVAL}
	}
	socks := make([]*Socket, len(items))
	titems := make([]transport.PollItem, len(items))
	for i, it := range items {
		socks[i] = it.Socket
		titems[i].Events = it.Events
	}

	// a zero timeout never blocks, so the sockets are only validated
	var call *Call
	if timeout != 0 {
		var err error
		if call, err = l.begin(op, false, socks...); err != nil {
			return 0, err
		}
	} else {
		if err := l.enter(op); err != nil {
			return 0, err
		}
		l.mu.Lock()
		err := l.checkSocketsLocked(op, socks)
		l.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	for i, s := range socks {
		titems[i].Socket = s.ts
	}

	stop := func() bool { return true }
	if call != nil {
		stop = call.watch(ctx)
	}
	var n int
	err := l.guard(op, func() (err error) {
		n, err = l.tr.Poll(titems, timeout)
		return err
	})
	stop()
	if call != nil {
		l.end(op, call, err)
	}
	if err != nil {
		return 0, wrapErr(op, err)
	}
	for i := range items {
		items[i].Revents = titems[i].Revents
	}
	return n, nil
}
