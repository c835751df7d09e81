package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obinnaokechukwu/nnbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nnrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRelayConfig(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
poll_interval = "10ms"

[[link]]
name = "jobs"
tap = true
from = { protocol = "pull", bind = ["inproc://jobs-in"] }
to = { protocol = "push", bind = [" inproc://jobs-out ", ""] }

[[link]]
from = { protocol = "sub", connect = ["inproc://events"] }
to = { protocol = "pub", bind = ["inproc://events-fanout"] }
`)

	cfg, err := loadRelayConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Library.LogLevel)
	assert.Equal(t, 10*time.Millisecond, cfg.Library.PollInterval)
	require.Len(t, cfg.Links, 2)

	jobs := cfg.Links[0]
	assert.Equal(t, "jobs", jobs.Name)
	assert.True(t, jobs.Tap)
	assert.Equal(t, nnbridge.Pull, jobs.From.Protocol)
	assert.Equal(t, []string{"inproc://jobs-in"}, jobs.From.Bind)
	assert.Equal(t, []string{"inproc://jobs-out"}, jobs.To.Bind)

	events := cfg.Links[1]
	assert.Equal(t, "link-2", events.Name)
	assert.False(t, events.Tap)
	assert.Equal(t, nnbridge.Sub, events.From.Protocol)
	assert.Equal(t, []string{"inproc://events"}, events.From.Connect)
	assert.Empty(t, events.From.Bind)
}

func TestLoadRelayConfigErrors(t *testing.T) {
	tests := map[string]string{
		"no links": `log_level = "info"`,
		"bad protocol": `
[[link]]
from = { protocol = "carrier", bind = ["inproc://a"] }
to = { protocol = "push", bind = ["inproc://b"] }
`,
		"no address": `
[[link]]
from = { protocol = "pull" }
to = { protocol = "push", bind = ["inproc://b"] }
`,
		"duplicate name": `
[[link]]
name = "x"
from = { protocol = "pull", bind = ["inproc://a"] }
to = { protocol = "push", bind = ["inproc://b"] }

[[link]]
name = "x"
from = { protocol = "pull", bind = ["inproc://c"] }
to = { protocol = "push", bind = ["inproc://d"] }
`,
		"tap from push": `
[[link]]
tap = true
from = { protocol = "push", bind = ["inproc://a"] }
to = { protocol = "pull", bind = ["inproc://b"] }
`,
		"bad library setting": `
transport = "smoke-signals"

[[link]]
from = { protocol = "pull", bind = ["inproc://a"] }
to = { protocol = "push", bind = ["inproc://b"] }
`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadRelayConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := loadRelayConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
