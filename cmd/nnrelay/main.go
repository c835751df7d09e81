// Command nnrelay forwards messages between socket pairs described in a TOML
// file.
//
//	nnrelay -config relay.toml > tap.bin
//
// Every [[link]] opens a from and a to socket in its own context and runs a
// device between them. Links with tap = true forward one way and also write
// each message to stdout as a length-prefixed array of parts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/obinnaokechukwu/nnbridge"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "nnrelay.toml", "relay configuration file")
	flag.Parse()

	if err := run(*configPath, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "nnrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, stdout, stderr io.Writer) error {
	cfg, err := loadRelayConfig(configPath)
	if err != nil {
		return err
	}
	level, err := nnbridge.ParseLogLevel(cfg.Library.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	log := nnbridge.NewConsoleLogger(stderr, zerolog.TraceLevel)

	lib, err := nnbridge.New(nnbridge.WithConfig(cfg.Library), nnbridge.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := lib.Close(); err != nil {
			log.Warn().Err(err).Msg("close library")
		}
	}()

	watcher, err := watchLogLevel(configPath, log)
	if err != nil {
		log.Warn().Err(err).Msg("log level reload disabled")
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(lib, stdout, log)
	if err != nil {
		return err
	}
	log.Info().
		Str("transport", lib.Transport().Name()).
		Int("links", len(cfg.Links)).
		Stringer("version", nnbridge.Version()).
		Msg("relay running")
	return r.run(ctx, cfg.Links)
}
