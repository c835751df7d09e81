package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/obinnaokechukwu/nnbridge"
	"github.com/obinnaokechukwu/nnbridge/transport"
)

type relayConfig struct {
	Library nnbridge.Config
	Links   []linkConfig
}

type linkConfig struct {
	Name string
	// Tap links pump messages themselves and copy each one to the output.
	Tap  bool
	From endpointConfig
	To   endpointConfig
}

type endpointConfig struct {
	Protocol nnbridge.Protocol
	Bind     []string
	Connect  []string
}

type fileConfig struct {
	Links []fileLink `toml:"link"`
}

type fileLink struct {
	Name string       `toml:"name"`
	Tap  bool         `toml:"tap"`
	From fileEndpoint `toml:"from"`
	To   fileEndpoint `toml:"to"`
}

type fileEndpoint struct {
	Protocol string   `toml:"protocol"`
	Bind     []string `toml:"bind"`
	Connect  []string `toml:"connect"`
}

// loadRelayConfig reads the library settings and the [[link]] tables from
// one file.
func loadRelayConfig(path string) (relayConfig, error) {
	lib, err := nnbridge.LoadConfig(path)
	if err != nil {
		return relayConfig{}, err
	}

	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return relayConfig{}, fmt.Errorf("load relay config: %w", err)
	}
	if len(raw.Links) == 0 {
		return relayConfig{}, fmt.Errorf("relay config %s: no [[link]] entries", path)
	}

	cfg := relayConfig{Library: lib}
	seen := make(map[string]bool)
	for i, fl := range raw.Links {
		name := strings.TrimSpace(fl.Name)
		if name == "" {
			name = fmt.Sprintf("link-%d", i+1)
		}
		if seen[name] {
			return relayConfig{}, fmt.Errorf("link %q: duplicate name", name)
		}
		seen[name] = true

		from, err := parseEndpoint(fl.From)
		if err != nil {
			return relayConfig{}, fmt.Errorf("link %q: from: %w", name, err)
		}
		to, err := parseEndpoint(fl.To)
		if err != nil {
			return relayConfig{}, fmt.Errorf("link %q: to: %w", name, err)
		}
		if fl.Tap && !canReceive(from.Protocol) {
			return relayConfig{}, fmt.Errorf("link %q: tap needs a receiving from socket, got %s", name, from.Protocol)
		}
		cfg.Links = append(cfg.Links, linkConfig{Name: name, Tap: fl.Tap, From: from, To: to})
	}
	return cfg, nil
}

func parseEndpoint(fe fileEndpoint) (endpointConfig, error) {
	proto, err := transport.ParseProtocol(fe.Protocol)
	if err != nil {
		return endpointConfig{}, err
	}
	ep := endpointConfig{
		Protocol: proto,
		Bind:     normalizeAddrs(fe.Bind),
		Connect:  normalizeAddrs(fe.Connect),
	}
	if len(ep.Bind) == 0 && len(ep.Connect) == 0 {
		return endpointConfig{}, fmt.Errorf("no bind or connect address")
	}
	return ep, nil
}

func normalizeAddrs(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func canReceive(p nnbridge.Protocol) bool {
	switch p {
	case nnbridge.Push, nnbridge.Pub:
		return false
	}
	return true
}
