package nnbridge

import (
	"fmt"

	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/obinnaokechukwu/nnbridge/transport/inproc"
	"github.com/obinnaokechukwu/nnbridge/transport/nanomsg"
)

// OpenTransport opens the transport named by cfg.Transport.
func OpenTransport(cfg Config) (transport.Transport, error) {
	switch cfg.Transport {
	case "", TransportInproc:
		return inproc.New(), nil
	case TransportNanomsg:
		tr, err := nanomsg.Open(cfg.LibraryPath, cfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("nnbridge: open nanomsg transport: %w", err)
		}
		return tr, nil
	}
	return nil, fmt.Errorf("nnbridge: unknown transport %q", cfg.Transport)
}
