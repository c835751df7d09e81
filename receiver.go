package nnbridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Receiver delivers every message arriving on a Socket to a handler on its
// own goroutine. It receives through the same gated path as Recv, so it never
// overlaps another blocking call on the Socket.
type Receiver struct {
	s       *Socket
	handler func([]byte)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// StartReceiver starts a Receiver on s. Cancelling ctx aborts the Receiver's
// pending wait the same way it aborts any blocking call, terminating the
// Socket's Context; use Stop to end the Receiver alone.
func (s *Socket) StartReceiver(ctx context.Context, handler func(msg []byte)) (*Receiver, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	r := &Receiver{
		s:       s,
		handler: handler,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run(ctx)
	return r, nil
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)
	interval := r.s.lib.cfg.PollInterval
	log := r.s.lib.log.With().Uint64("socket", uint64(r.s.handle)).Logger()
	log.Debug().Msg("receiver started")

	for {
		select {
		case <-r.stop:
			log.Debug().Msg("receiver stopped")
			return
		default:
		}

		msg, err := r.s.RecvTimeout(ctx, interval)
		switch {
		case err == nil:
			r.handler(msg)
		case errors.Is(err, ErrWouldBlock):
		case errors.Is(err, ErrInProgress):
			// another goroutine is receiving; try again later
			select {
			case <-r.stop:
			case <-time.After(interval):
			}
		default:
			r.err = err
			log.Debug().Err(err).Msg("receiver exited")
			return
		}
	}
}

// Stop ends the Receiver and waits for its goroutine to exit. A wait in
// progress runs out its poll interval first.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Done is closed when the Receiver's goroutine exits.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that ended the Receiver, or nil if it was stopped.
// It is only meaningful after Done is closed.
func (r *Receiver) Err() error {
	<-r.done
	return r.err
}
