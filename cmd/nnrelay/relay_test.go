package main

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/obinnaokechukwu/nnbridge"
	"github.com/obinnaokechukwu/nnbridge/hostbuf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func startRelay(t *testing.T, lib *nnbridge.Library, out *syncBuffer, links []linkConfig) (context.CancelFunc, <-chan error) {
	t.Helper()
	r, err := newRelay(lib, out, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.run(ctx, links) }()
	return cancel, errc
}

func waitRelay(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop")
		return nil
	}
}

// clientSockets opens a producer for the relay input and a consumer for its
// output in a separate Instance.
func clientSockets(t *testing.T, lib *nnbridge.Library, in, out string) (*nnbridge.Socket, *nnbridge.Socket) {
	t.Helper()
	inst, err := lib.Reserve()
	require.NoError(t, err)
	ctx, err := inst.NewContext()
	require.NoError(t, err)

	producer, err := ctx.NewSocket(nnbridge.Push)
	require.NoError(t, err)
	_, err = producer.Connect(in)
	require.NoError(t, err)
	consumer, err := ctx.NewSocket(nnbridge.Pull)
	require.NoError(t, err)
	_, err = consumer.Connect(out)
	require.NoError(t, err)
	return producer, consumer
}

func TestRelayTapLink(t *testing.T) {
	lib, err := nnbridge.New()
	require.NoError(t, err)
	defer lib.Close()

	out := &syncBuffer{}
	cancel, errc := startRelay(t, lib, out, []linkConfig{{
		Name: "jobs",
		Tap:  true,
		From: endpointConfig{Protocol: nnbridge.Pull, Bind: []string{"inproc://in"}},
		To:   endpointConfig{Protocol: nnbridge.Push, Bind: []string{"inproc://out"}},
	}})
	defer cancel()

	producer, consumer := clientSockets(t, lib, "inproc://in", "inproc://out")
	require.NoError(t, producer.SendMulti(context.Background(), [][]byte{[]byte("id-7"), []byte("payload")}, 0))

	parts, err := consumer.RecvMultiTimeout(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "payload", string(parts[1]))

	frame, err := hostbuf.ReadFrame(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	tapped, err := hostbuf.DecodeArray(frame)
	require.NoError(t, err)
	require.Len(t, tapped, 2)
	assert.Equal(t, "id-7", string(tapped[0]))
	assert.Equal(t, "payload", string(tapped[1]))

	cancel()
	assert.NoError(t, waitRelay(t, errc))
}

func TestRelayDeviceLink(t *testing.T) {
	lib, err := nnbridge.New()
	require.NoError(t, err)
	defer lib.Close()

	out := &syncBuffer{}
	cancel, errc := startRelay(t, lib, out, []linkConfig{{
		Name: "plain",
		From: endpointConfig{Protocol: nnbridge.Pull, Bind: []string{"inproc://in"}},
		To:   endpointConfig{Protocol: nnbridge.Push, Bind: []string{"inproc://out"}},
	}})
	defer cancel()

	producer, consumer := clientSockets(t, lib, "inproc://in", "inproc://out")
	_, err = producer.Send(context.Background(), []byte("hello"), 0)
	require.NoError(t, err)
	msg, err := consumer.RecvTimeout(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
	assert.Empty(t, out.Bytes())

	cancel()
	assert.NoError(t, waitRelay(t, errc))
}

func TestRelayLinkFailureStopsOthers(t *testing.T) {
	lib, err := nnbridge.New()
	require.NoError(t, err)
	defer lib.Close()

	links := []linkConfig{
		{
			Name: "good",
			From: endpointConfig{Protocol: nnbridge.Pull, Bind: []string{"inproc://shared"}},
			To:   endpointConfig{Protocol: nnbridge.Push, Bind: []string{"inproc://good-out"}},
		},
		{
			Name: "clash",
			From: endpointConfig{Protocol: nnbridge.Pull, Bind: []string{"inproc://clash"}},
			To:   endpointConfig{Protocol: nnbridge.Push, Bind: []string{"inproc://clash"}},
		},
	}
	cancel, errc := startRelay(t, lib, &syncBuffer{}, links)
	defer cancel()

	err = waitRelay(t, errc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `link "clash"`)
	require.Eventually(t, func() bool { return lib.Objects() == 0 }, time.Second, time.Millisecond)
}

func TestWatchLogLevel(t *testing.T) {
	path := writeConfig(t, "log_level = \"info\"\n")
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	w, err := watchLogLevel(path, zerolog.Nop())
	if err != nil {
		t.Skipf("file watching unavailable: %v", err)
	}
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("log_level = \"error\"\n"), 0o644))
	require.Eventually(t, func() bool {
		return zerolog.GlobalLevel() == zerolog.ErrorLevel
	}, 2*time.Second, 10*time.Millisecond)
}
