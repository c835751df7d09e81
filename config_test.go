package nnbridge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/obinnaokechukwu/nnbridge/transport/inproc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportInproc, cfg.Transport)
	assert.Equal(t, DefaultMaxSockets, cfg.MaxSocketsPerContext)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Empty(t, cfg.RequireVersion)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
transport = "NanoMsg"
library_path = "/opt/nanomsg/lib/libnanomsg.so"
max_sockets_per_context = 64
linger = "250ms"
poll_interval = "5ms"
log_level = "debug"
require_version = "~1.0"
`)
	require.NoError(t, err)
	assert.Equal(t, TransportNanomsg, cfg.Transport)
	assert.Equal(t, "/opt/nanomsg/lib/libnanomsg.so", cfg.LibraryPath)
	assert.Equal(t, 64, cfg.MaxSocketsPerContext)
	assert.Equal(t, 250*time.Millisecond, cfg.Linger)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "~1.0", cfg.RequireVersion)
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig(`log_level = "warn"`)
	require.NoError(t, err)
	want := DefaultConfig()
	want.LogLevel = "warn"
	assert.Equal(t, want, cfg)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"bad toml":          `transport = `,
		"unknown transport": `transport = "zeromq"`,
		"bad duration":      `linger = "soon"`,
		"negative linger":   `linger = "-1s"`,
		"zero limit":        `max_sockets_per_context = 0`,
		"zero interval":     `poll_interval = "0s"`,
		"bad level":         `log_level = "loud"`,
		"bad constraint":    `require_version = ">>> 1"`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(data)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nnbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"error\"\nmax_sockets_per_context = 8\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 8, cfg.MaxSocketsPerContext)

	t.Setenv(EnvLogLevel, "trace")
	t.Setenv(EnvTransport, "NANOMSG")
	t.Setenv(EnvLibraryPath, "/usr/lib/libnanomsg.so.5")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, TransportNanomsg, cfg.Transport)
	assert.Equal(t, "/usr/lib/libnanomsg.so.5", cfg.LibraryPath)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)

	_, err = OpenTransport(cfg)
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"none", zerolog.Disabled},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, zerolog.DebugLevel)
	log.Debug().Str("op", "socket.recv").Msg("invalid socket")
	assert.Contains(t, buf.String(), "invalid socket")
	assert.Contains(t, buf.String(), "nnbridge")

	buf.Reset()
	quiet := NewConsoleLogger(&buf, zerolog.WarnLevel)
	quiet.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestLibraryLogsThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	lib := newLibrary(t, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	ctx := newContext(t, lib)
	newSocket(t, ctx, Pair)
	assert.Contains(t, buf.String(), "socket created")
}

// pathTransport reports where its native library was loaded from.
type pathTransport struct {
	transport.Transport
}

func (pathTransport) Path() string {
	return "/opt/nanomsg/lib/libnanomsg.so.5"
}

func TestLibraryLogsTransportPath(t *testing.T) {
	var buf bytes.Buffer
	newLibrary(t,
		WithTransport(pathTransport{Transport: inproc.New()}),
		WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	assert.Contains(t, buf.String(), "library ready")
	assert.Contains(t, buf.String(), "libnanomsg.so.5")
}
