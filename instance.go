package nnbridge

import (
	"context"
	"errors"

	"github.com/obinnaokechukwu/nnbridge/internal/registry"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

// Instance groups the Contexts created by one host session so they can be
// released together.
type Instance struct {
	lib *Library
	id  int

	// guarded by lib.mu
	ctxs      *registry.Registry[*Context]
	releasing bool
	released  bool
}

// Reserve creates an Instance.
func (l *Library) Reserve() (*Instance, error) {
	const op = "instance.reserve"
	if err := l.enter(op); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, &Error{Op: op, Err: ErrClosed}
	}
	l.nextInst++
	inst := &Instance{lib: l, id: l.nextInst}
	inst.ctxs = registry.New[*Context](inst)
	l.instances.Append(inst)
	l.log.Debug().Int("instance", inst.id).Msg("instance reserved")
	return inst, nil
}

// ID returns the Instance's sequence number within its Library.
func (i *Instance) ID() int {
	return i.id
}

// Contexts returns the number of live Contexts of the Instance.
func (i *Instance) Contexts() int {
	i.lib.mu.Lock()
	defer i.lib.mu.Unlock()
	return i.ctxs.Len()
}

// NewContext creates a Context owned by the Instance.
func (i *Instance) NewContext() (*Context, error) {
	const op = "context.create"
	l := i.lib
	if err := l.enter(op); err != nil {
		return nil, err
	}

	var tctx transport.Context
	err := l.guard(op, func() (err error) {
		tctx, err = l.tr.NewContext()
		return err
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	l.mu.Lock()
	if i.releasing || i.released || l.closed {
		l.mu.Unlock()
		// nothing was opened on it, so Term returns at once
		_ = l.guard(op, tctx.Term)
		return nil, &Error{Op: op, Err: ErrClosed}
	}
	c := &Context{lib: l, inst: i, tctx: tctx}
	c.socks = registry.New[*Socket](c)
	c.handle = l.valid.Register(c)
	i.ctxs.Append(c)
	l.mu.Unlock()

	l.log.Debug().Int("instance", i.id).Uint64("context", uint64(c.handle)).Msg("context created")
	return c, nil
}

// Release cascade-destroys every Context of the Instance and forgets it.
// Contexts already being destroyed by another goroutine are interrupted but
// not waited for.
func (i *Instance) Release() error {
	const op = "instance.release"
	l := i.lib
	if err := l.enter(op); err != nil {
		return err
	}

	l.mu.Lock()
	if i.releasing || i.released {
		l.mu.Unlock()
		return nil
	}
	i.releasing = true
	l.instances.Remove(i)
	l.instances.Compact()
	l.mu.Unlock()
	l.log.Debug().Int("instance", i.id).Msg("releasing instance")

	// Walk by index: destroying a Context removes it from ctxs, leaving a
	// hole, and ctxs is not compacted while releasing is set.
	var errs []error
	for idx := 0; ; idx++ {
		l.mu.Lock()
		if idx >= i.ctxs.Cap() {
			l.mu.Unlock()
			break
		}
		c := i.ctxs.At(idx)
		l.mu.Unlock()
		if c == nil {
			continue
		}
		err := c.Destroy(context.Background(), true)
		if err != nil && !errors.Is(err, ErrInvalidHandle) {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	i.ctxs.Destroy()
	i.released = true
	l.mu.Unlock()
	l.log.Debug().Int("instance", i.id).Msg("instance released")
	return errors.Join(errs...)
}
