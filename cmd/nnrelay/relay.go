package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/obinnaokechukwu/nnbridge"
	"github.com/obinnaokechukwu/nnbridge/hostbuf"
	"github.com/rs/zerolog"
)

// relay runs every link in its own Context of one Instance.
type relay struct {
	lib  *nnbridge.Library
	inst *nnbridge.Instance
	log  zerolog.Logger

	outMu sync.Mutex
	out   io.Writer
}

func newRelay(lib *nnbridge.Library, out io.Writer, log zerolog.Logger) (*relay, error) {
	inst, err := lib.Reserve()
	if err != nil {
		return nil, err
	}
	return &relay{lib: lib, inst: inst, log: log, out: out}, nil
}

// run starts every link and waits for all of them. Cancelling ctx aborts the
// links; a link stopped that way is not an error. A failing link stops the
// others.
func (r *relay) run(ctx context.Context, links []linkConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(links))
	for i, lc := range links {
		wg.Add(1)
		go func(i int, lc linkConfig) {
			defer wg.Done()
			if errs[i] = r.runLink(ctx, lc); errs[i] != nil {
				cancel()
			}
		}(i, lc)
	}
	wg.Wait()

	if err := r.inst.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *relay) runLink(ctx context.Context, lc linkConfig) error {
	log := r.log.With().Str("link", lc.Name).Logger()

	nctx, err := r.inst.NewContext()
	if err != nil {
		return fmt.Errorf("link %q: %w", lc.Name, err)
	}
	defer func() {
		if err := nctx.Destroy(context.Background(), true); err != nil && !errors.Is(err, nnbridge.ErrInvalidHandle) {
			log.Warn().Err(err).Msg("destroy link context")
		}
	}()

	from, err := openEndpoint(nctx, lc.From)
	if err != nil {
		return fmt.Errorf("link %q: from: %w", lc.Name, err)
	}
	to, err := openEndpoint(nctx, lc.To)
	if err != nil {
		return fmt.Errorf("link %q: to: %w", lc.Name, err)
	}

	log.Info().
		Stringer("from", lc.From.Protocol).
		Stringer("to", lc.To.Protocol).
		Bool("tap", lc.Tap).
		Msg("link started")

	if lc.Tap {
		err = r.pump(ctx, lc.Name, from, to)
	} else {
		err = r.lib.Device(ctx, from, to)
	}
	if nnbridge.IsTerminated(err) && ctx.Err() != nil {
		log.Info().Msg("link stopped")
		return nil
	}
	log.Error().Err(err).Msg("link failed")
	return fmt.Errorf("link %q: %w", lc.Name, err)
}

// pump forwards messages from one direction only and writes each one to the
// output as a host array frame.
func (r *relay) pump(ctx context.Context, name string, from, to *nnbridge.Socket) error {
	for {
		parts, err := from.RecvMulti(ctx, 0)
		if err != nil {
			return err
		}
		if err := r.tap(parts); err != nil {
			r.log.Warn().Err(err).Str("link", name).Msg("tap write failed")
		}
		if err := to.SendMulti(ctx, parts, 0); err != nil {
			return err
		}
	}
}

func (r *relay) tap(parts [][]byte) error {
	frame, err := hostbuf.EncodeArray(parts)
	if err != nil {
		return err
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	return hostbuf.WriteFrame(r.out, frame)
}

func openEndpoint(ctx *nnbridge.Context, ec endpointConfig) (*nnbridge.Socket, error) {
	s, err := ctx.NewSocket(ec.Protocol)
	if err != nil {
		return nil, err
	}
	for _, addr := range ec.Bind {
		if _, err := s.Bind(addr); err != nil {
			return nil, fmt.Errorf("bind %s: %w", addr, err)
		}
	}
	for _, addr := range ec.Connect {
		if _, err := s.Connect(addr); err != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}
	if ec.Protocol == nnbridge.Sub {
		// subscribe to everything
		if err := s.Subscribe(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}
